package provision

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lox/wfconsole/internal/ingest"
	"github.com/lox/wfconsole/internal/station"
)

func TestProvisionFileCurrentIsUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wfconsole.ini")
	if err := existingConfig("v3.6").Save(path); err != nil {
		t.Fatal(err)
	}
	// Odd spacing the encoder would never produce, so any rewrite shows up.
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	before = append(before, []byte("\n\n")...)
	if err := os.WriteFile(path, before, 0o600); err != nil {
		t.Fatal(err)
	}

	api := newFakeAPI()
	svc, _ := newTestService(api, "")
	res, err := svc.ProvisionFile(context.Background(), path, testSchema())
	if err != nil {
		t.Fatalf("ProvisionFile() error = %v", err)
	}
	if res.Changed {
		t.Error("expected unchanged result")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("station file rewritten:\n%s\nwant:\n%s", after, before)
	}
}

func TestProvisionFileCreatesMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wfconsole.ini")
	svc, out := newTestService(newFakeAPI(), "wxkey\n1234\ny\n3\nn\n")

	res, err := svc.ProvisionFile(context.Background(), path, testSchema())
	if err != nil {
		t.Fatalf("ProvisionFile() error = %v\n%s", err, out)
	}
	if !res.Created {
		t.Error("expected created result")
	}

	cfg, err := station.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Value("Station", "StationID"); got != "1234" {
		t.Errorf("StationID = %q, want 1234", got)
	}
	if got := cfg.Value("System", "Version"); got != station.DefaultVersion {
		t.Errorf("Version = %q, want %s", got, station.DefaultVersion)
	}
}

func TestProvisionFileFailureLeavesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wfconsole.ini")
	api := newFakeAPI()
	api.stationErrs = []error{ingest.ErrUnavailable, ingest.ErrUnavailable, ingest.ErrUnavailable}
	svc, _ := newTestService(api, "wxkey\n1234\ny\n3\nn\n")

	_, err := svc.ProvisionFile(context.Background(), path, testSchema())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("ProvisionFile() error = %v, want ErrRetriesExhausted", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("station file exists after failed provisioning: %v", err)
	}
}
