package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lox/wfconsole/internal/stream"
)

// StreamSession is one websocket connection as recorded.
type StreamSession struct {
	ID             string         `json:"id"`
	ConnectedAt    time.Time      `json:"connected_at"`
	DisconnectedAt sql.NullTime   `json:"-"`
	Frames         int            `json:"frames"`
	EndState       string         `json:"end_state"`
	ErrorMessage   sql.NullString `json:"-"`
}

// RecordSession stores a finished stream session.
func (s *Store) RecordSession(ctx context.Context, sess stream.Session) {
	var errMsg sql.NullString
	if sess.Error != nil {
		errMsg = sql.NullString{String: sess.Error.Error(), Valid: true}
	}
	var disconnected sql.NullTime
	if !sess.DisconnectedAt.IsZero() {
		disconnected = sql.NullTime{Time: sess.DisconnectedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_sessions (id, connected_at, disconnected_at, frames, end_state, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			disconnected_at = excluded.disconnected_at,
			frames = excluded.frames,
			end_state = excluded.end_state,
			error_message = excluded.error_message
	`, sess.ID, sess.ConnectedAt.UTC(), disconnected, sess.Frames, sess.EndState.String(), errMsg)
	if err != nil {
		s.logger.Warn("record stream session", "session", sess.ID, "error", err)
	}
}

var _ stream.SessionAuditor = (*Store)(nil)

// RecentSessions returns the latest sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]StreamSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connected_at, disconnected_at, frames, end_state, error_message
		FROM stream_sessions
		ORDER BY connected_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StreamSession
	for rows.Next() {
		var ss StreamSession
		if err := rows.Scan(&ss.ID, &ss.ConnectedAt, &ss.DisconnectedAt, &ss.Frames, &ss.EndState, &ss.ErrorMessage); err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// CleanupOldSessions deletes sessions that connected more than
// retentionDays ago.
func (s *Store) CleanupOldSessions(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM stream_sessions
		WHERE SUBSTR(connected_at, 1, 19) < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
