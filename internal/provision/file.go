package provision

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/lox/wfconsole/internal/station"
)

// ProvisionFile runs Provision against the station file at path. A missing
// file starts a fresh configuration. The file is only rewritten when the
// result changed, so an up-to-date file is left byte-for-byte intact.
func (s *Service) ProvisionFile(ctx context.Context, path string, schema station.Schema) (Result, error) {
	existing, err := station.Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		existing = nil
	case err != nil:
		return Result{}, err
	}

	res, err := s.Provision(ctx, existing, schema)
	if err != nil {
		return Result{}, err
	}
	if !res.Changed {
		s.logger.Debug("station config is current", "path", path)
		return res, nil
	}
	if err := res.Config.Save(path); err != nil {
		return Result{}, fmt.Errorf("save %s: %w", path, err)
	}
	s.logger.Info("station config saved", "path", path, "created", res.Created)
	return res, nil
}
