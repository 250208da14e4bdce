package historian

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/pv/scada-bridge/internal/history"
	"github.com/pv/scada-bridge/internal/tag"
)

const (
	defaultCHDatabase = "plant"
	defaultCHTable    = "tag_history"
	defaultCHTimeout  = 10 * time.Second
)

// clickhouseRemote serves the "wonderware" historian type from a plant
// ClickHouse database holding the long-term tag archive
type clickhouseRemote struct {
	conn    driver.Conn
	name    string
	table   string
	timeout time.Duration
}

// newClickHouseRemote opens a connection from a clickhouse:// DSN
func newClickHouseRemote(cfg RemoteConfig) (Remote, error) {
	opts, err := clickhouse.ParseDSN(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse historian DSN: %w", err)
	}
	if cfg.Database != "" {
		opts.Auth.Database = cfg.Database
	}
	if cfg.Username != "" {
		opts.Auth.Username = cfg.Username
		opts.Auth.Password = cfg.Password
	}
	if opts.Auth.Database == "" {
		opts.Auth.Database = defaultCHDatabase
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open historian connection: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCHTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping historian: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = defaultCHTable
	}

	return &clickhouseRemote{
		conn:    conn,
		name:    fmt.Sprintf("wonderware(%s.%s)", opts.Auth.Database, table),
		table:   table,
		timeout: timeout,
	}, nil
}

func (c *clickhouseRemote) Name() string {
	return c.name
}

// QueryRange fetches the archived points for a tag, oldest first
func (c *clickhouseRemote) QueryRange(ctx context.Context, tagID string, start, end time.Time) ([]history.Point, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT timestamp, value, quality
		FROM %s
		WHERE tag_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`, c.table)

	rows, err := c.conn.Query(opCtx, query, tagID, start, end)
	if err != nil {
		return nil, fmt.Errorf("historian query: %w", err)
	}
	defer rows.Close()

	var points []history.Point
	for rows.Next() {
		var ts time.Time
		var value float64
		var quality string
		if err := rows.Scan(&ts, &value, &quality); err != nil {
			return nil, fmt.Errorf("historian scan: %w", err)
		}
		points = append(points, history.Point{
			Timestamp: ts,
			Value:     value,
			Quality:   tag.Quality(quality),
		})
	}
	return points, rows.Err()
}

func (c *clickhouseRemote) Close() error {
	return c.conn.Close()
}
