package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ohmvision/camconnect/internal/monitor"
	"github.com/ohmvision/camconnect/internal/probe"
)

var ErrRecordNotFound = errors.New("record not found")

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// maxHistoryRecords bounds per-camera health history growth.
const maxHistoryRecords = 200

// ConnectionModel persists resolved connections and per-camera health
// history. Implements monitor.Persister.
type ConnectionModel struct {
	DB DBTX
}

func (m *ConnectionModel) SaveConnection(ctx context.Context, conn *monitor.ResolvedConnection) error {
	query := `
		INSERT INTO camera_connections (camera_id, connection_type, primary_url, secondary_url, snapshot_url, manufacturer, username, password, probe_timeout_ms, rtsp_transport, verify_tls, resolved_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (camera_id) DO UPDATE SET
			connection_type = EXCLUDED.connection_type,
			primary_url = EXCLUDED.primary_url,
			secondary_url = EXCLUDED.secondary_url,
			snapshot_url = EXCLUDED.snapshot_url,
			manufacturer = EXCLUDED.manufacturer,
			username = EXCLUDED.username,
			password = EXCLUDED.password,
			probe_timeout_ms = EXCLUDED.probe_timeout_ms,
			rtsp_transport = EXCLUDED.rtsp_transport,
			verify_tls = EXCLUDED.verify_tls,
			resolved_at = EXCLUDED.resolved_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := m.DB.ExecContext(ctx, query,
		conn.CameraID, string(conn.Type), conn.PrimaryURL,
		nullString(conn.SecondaryURL), nullString(conn.SnapshotURL), nullString(conn.Manufacturer),
		nullString(conn.Username), nullString(conn.Password),
		conn.Config.ProbeTimeout.Milliseconds(), nullString(conn.Config.RTSPTransport), conn.Config.VerifyTLS,
		conn.ResolvedAt, time.Now().UTC(),
	)
	return err
}

func (m *ConnectionModel) GetConnection(ctx context.Context, cameraID uuid.UUID) (*monitor.ResolvedConnection, error) {
	query := `
		SELECT camera_id, connection_type, primary_url, secondary_url, snapshot_url, manufacturer, username, password, probe_timeout_ms, rtsp_transport, verify_tls, resolved_at
		FROM camera_connections
		WHERE camera_id = $1
	`
	row := m.DB.QueryRowContext(ctx, query, cameraID)
	conn, err := scanConnection(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ListConnections loads every persisted connection, oldest first. Used at
// startup to repopulate the monitor.
func (m *ConnectionModel) ListConnections(ctx context.Context) ([]*monitor.ResolvedConnection, error) {
	query := `
		SELECT camera_id, connection_type, primary_url, secondary_url, snapshot_url, manufacturer, username, password, probe_timeout_ms, rtsp_transport, verify_tls, resolved_at
		FROM camera_connections
		ORDER BY resolved_at ASC
	`
	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*monitor.ResolvedConnection
	for rows.Next() {
		conn, err := scanConnection(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

func (m *ConnectionModel) DeleteConnection(ctx context.Context, cameraID uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM camera_connections WHERE camera_id = $1`, cameraID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m *ConnectionModel) AppendHealth(ctx context.Context, rec monitor.HealthRecord) error {
	query := `
		INSERT INTO camera_health_history (camera_id, occurred_at, level, response_ms, consecutive_failures, uptime_pct, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := m.DB.ExecContext(ctx, query,
		rec.CameraID, rec.LastCheck, string(rec.Level), rec.LastResponseMS,
		rec.ConsecutiveFailures, rec.UptimePct, nullString(rec.LastError),
	)
	if err != nil {
		return err
	}
	return m.pruneHistory(ctx, rec.CameraID)
}

func (m *ConnectionModel) pruneHistory(ctx context.Context, cameraID uuid.UUID) error {
	// Delete records that are NOT in the top N newest
	query := `
		DELETE FROM camera_health_history
		WHERE camera_id = $1 AND id NOT IN (
			SELECT id FROM camera_health_history
			WHERE camera_id = $1
			ORDER BY occurred_at DESC
			LIMIT $2
		)
	`
	_, err := m.DB.ExecContext(ctx, query, cameraID, maxHistoryRecords)
	return err
}

// HealthSample is one row of the per-camera history endpoint.
type HealthSample struct {
	ID                  int64     `json:"id"`
	CameraID            uuid.UUID `json:"camera_id"`
	OccurredAt          time.Time `json:"occurred_at"`
	Level               string    `json:"level"`
	ResponseMS          int       `json:"response_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	UptimePct           float64   `json:"uptime_pct"`
	LastError           string    `json:"last_error,omitempty"`
}

func (m *ConnectionModel) GetHistory(ctx context.Context, cameraID uuid.UUID, limit, offset int) ([]*HealthSample, error) {
	if limit <= 0 || limit > maxHistoryRecords {
		limit = 50
	}
	query := `
		SELECT id, camera_id, occurred_at, level, response_ms, consecutive_failures, uptime_pct, last_error
		FROM camera_health_history
		WHERE camera_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := m.DB.QueryContext(ctx, query, cameraID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*HealthSample
	for rows.Next() {
		var h HealthSample
		var lastErr sql.NullString
		if err := rows.Scan(&h.ID, &h.CameraID, &h.OccurredAt, &h.Level, &h.ResponseMS, &h.ConsecutiveFailures, &h.UptimePct, &lastErr); err != nil {
			return nil, err
		}
		if lastErr.Valid {
			h.LastError = lastErr.String
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

func scanConnection(scan func(dest ...any) error) (*monitor.ResolvedConnection, error) {
	var (
		conn                              monitor.ResolvedConnection
		connType                          string
		secondary, snapshot, manufacturer sql.NullString
		username, password, transport     sql.NullString
		timeoutMS                         int64
	)
	err := scan(
		&conn.CameraID, &connType, &conn.PrimaryURL,
		&secondary, &snapshot, &manufacturer,
		&username, &password,
		&timeoutMS, &transport, &conn.Config.VerifyTLS,
		&conn.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	conn.Type = probe.ConnectionType(connType)
	conn.SecondaryURL = secondary.String
	conn.SnapshotURL = snapshot.String
	conn.Manufacturer = manufacturer.String
	conn.Username = username.String
	conn.Password = password.String
	conn.Config.RTSPTransport = transport.String
	conn.Config.ProbeTimeout = time.Duration(timeoutMS) * time.Millisecond
	return &conn, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
