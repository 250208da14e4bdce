// Package historian presents a single trend-query interface over two
// physical sources: the fast local history store with bounded retention
// and a slower, larger remote enterprise historian (PI/Wonderware style).
package historian

import (
	"context"
	"fmt"
	"time"

	"github.com/pv/scada-bridge/internal/history"
)

// Remote is an enterprise historian adapter
type Remote interface {
	Name() string
	QueryRange(ctx context.Context, tagID string, start, end time.Time) ([]history.Point, error)
	Close() error
}

// RemoteType selects the remote historian implementation
type RemoteType string

const (
	RemotePI         RemoteType = "pi"
	RemoteWonderware RemoteType = "wonderware"
	RemoteLocal      RemoteType = "local" // no remote, local store only
)

// RemoteConfig is the tagged union selecting and configuring the remote
type RemoteConfig struct {
	Type     RemoteType    `yaml:"type"`
	URL      string        `yaml:"url,omitempty"`      // pi: web API base URL; wonderware: clickhouse DSN
	Database string        `yaml:"database,omitempty"` // wonderware
	Table    string        `yaml:"table,omitempty"`    // wonderware
	AuthMode string        `yaml:"authMode,omitempty"` // pi: "basic" or "anonymous"
	Username string        `yaml:"username,omitempty"`
	Password string        `yaml:"password,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"` // default: 10s
}

// NewRemote constructs the configured remote adapter.
/// Type "local" (or empty) returns nil: the router then serves local only.
func NewRemote(cfg RemoteConfig) (Remote, error) {
	switch cfg.Type {
	case RemotePI:
		return newPIWebClient(cfg)
	case RemoteWonderware:
		return newClickHouseRemote(cfg)
	case RemoteLocal, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown historian type: %s", cfg.Type)
	}
}

// Mode is the retrieval mode for trend queries
type Mode string

const (
	ModeRecorded     Mode = "recorded"     // raw stored points
	ModeInterpolated Mode = "interpolated" // regular intervals, linear
	ModePlot         Mode = "plot"         // reduced min/max set for rendering
)

// QueryOptions tunes one trend query
type QueryOptions struct {
	Mode      Mode
	Interval  time.Duration // interpolated: step (default: 1m)
	MaxPoints int           // plot: target point count (default: 300)
}

func (o QueryOptions) withDefaults() QueryOptions {
	if o.Mode == "" {
		o.Mode = ModeRecorded
	}
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.MaxPoints <= 0 {
		o.MaxPoints = 300
	}
	return o
}
