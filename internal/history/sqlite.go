package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pv/scada-bridge/internal/tag"
)

// storedTimeFormat is a fixed-width UTC timestamp. Unlike RFC3339Nano,
// which trims trailing zeros, string order always matches time order,
// so lexicographic range scans stay exact.
const storedTimeFormat = "2006-01-02T15:04:05.000000000Z"

// sqliteBackend is the durable storage engine behind the Store
type sqliteBackend struct {
	db *sql.DB
}

// openSQLite opens (or creates) the history database.
// WAL mode and busy_timeout for better concurrency.
func openSQLite(dbPath string) (*sqliteBackend, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteBackend{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tag_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tag_id TEXT NOT NULL,
			value REAL NOT NULL,
			quality TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tag_history_lookup
			ON tag_history(tag_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_tag_history_timestamp
			ON tag_history(timestamp);

		CREATE TABLE IF NOT EXISTS alarm_history (
			id TEXT PRIMARY KEY,
			tag_id TEXT NOT NULL,
			type TEXT NOT NULL,
			priority TEXT NOT NULL,
			value REAL NOT NULL,
			threshold REAL NOT NULL,
			raised_at DATETIME NOT NULL,
			acknowledged_at DATETIME,
			cleared_at DATETIME,
			acknowledged_by TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_alarm_history_raised
			ON alarm_history(raised_at);
		CREATE INDEX IF NOT EXISTS idx_alarm_history_tag
			ON alarm_history(tag_id);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}

// saveTagValues stores a batch of records in a single transaction
func (b *sqliteBackend) saveTagValues(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tag_history (tag_id, value, quality, timestamp) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		ts := r.Timestamp.UTC().Format(storedTimeFormat)
		if _, err := stmt.ExecContext(ctx, r.TagID, r.Value, string(r.Quality), ts); err != nil {
			return fmt.Errorf("exec insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// saveAlarm stores one closed alarm record
func (b *sqliteBackend) saveAlarm(ctx context.Context, a AlarmRecord) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO alarm_history
			(id, tag_id, type, priority, value, threshold, raised_at, acknowledged_at, cleared_at, acknowledged_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TagID, a.Type, a.Priority, a.Value, a.Threshold,
		a.RaisedAt.UTC().Format(storedTimeFormat),
		formatNullableTime(a.AcknowledgedAt),
		formatNullableTime(a.ClearedAt),
		a.AcknowledgedBy,
	)
	if err != nil {
		return fmt.Errorf("insert alarm: %w", err)
	}
	return nil
}

// queryRange returns points for a tag in [start, end], oldest first,
// bounded to maxPoints
func (b *sqliteBackend) queryRange(ctx context.Context, tagID string, start, end time.Time, maxPoints int) ([]Point, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT value, quality, timestamp FROM tag_history
		WHERE tag_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
		LIMIT ?`,
		tagID,
		start.UTC().Format(storedTimeFormat),
		end.UTC().Format(storedTimeFormat),
		maxPoints,
	)
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	return scanPoints(rows)
}

// queryLatest returns the most recent point for a tag, or nil
func (b *sqliteBackend) queryLatest(ctx context.Context, tagID string) (*Point, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT value, quality, timestamp FROM tag_history
		WHERE tag_id = ?
		ORDER BY timestamp DESC
		LIMIT 1`,
		tagID,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest: %w", err)
	}
	defer rows.Close()

	points, err := scanPoints(rows)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	return &points[0], nil
}

// queryAlarms returns alarm records raised in [start, end], oldest first
func (b *sqliteBackend) queryAlarms(ctx context.Context, start, end time.Time) ([]AlarmRecord, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, tag_id, type, priority, value, threshold, raised_at, acknowledged_at, cleared_at, acknowledged_by
		FROM alarm_history
		WHERE raised_at >= ? AND raised_at <= ?
		ORDER BY raised_at ASC`,
		start.UTC().Format(storedTimeFormat),
		end.UTC().Format(storedTimeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("query alarms: %w", err)
	}
	defer rows.Close()

	var records []AlarmRecord
	for rows.Next() {
		var r AlarmRecord
		var raisedAt string
		var ackedAt, clearedAt, ackedBy sql.NullString
		if err := rows.Scan(&r.ID, &r.TagID, &r.Type, &r.Priority, &r.Value, &r.Threshold,
			&raisedAt, &ackedAt, &clearedAt, &ackedBy); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		r.RaisedAt = parseStoredTime(raisedAt)
		r.AcknowledgedAt = parseNullableTime(ackedAt)
		r.ClearedAt = parseNullableTime(clearedAt)
		r.AcknowledgedBy = ackedBy.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// cleanupTags deletes tag rows older than the cutoff
func (b *sqliteBackend) cleanupTags(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM tag_history WHERE timestamp < ?`,
		olderThan.UTC().Format(storedTimeFormat))
	if err != nil {
		return 0, fmt.Errorf("cleanup tag history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// cleanupAlarms deletes alarm rows raised before the cutoff
func (b *sqliteBackend) cleanupAlarms(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM alarm_history WHERE raised_at < ?`,
		olderThan.UTC().Format(storedTimeFormat))
	if err != nil {
		return 0, fmt.Errorf("cleanup alarm history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanPoints(rows *sql.Rows) ([]Point, error) {
	var points []Point
	for rows.Next() {
		var value float64
		var quality, ts string
		if err := rows.Scan(&value, &quality, &ts); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		points = append(points, Point{
			Timestamp: parseStoredTime(ts),
			Value:     value,
			Quality:   tag.Quality(quality),
		})
	}
	return points, rows.Err()
}

func parseStoredTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatNullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(storedTimeFormat)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseStoredTime(s.String)
	return &t
}
