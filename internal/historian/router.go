package historian

import (
	"context"
	"sync"
	"time"

	"github.com/pv/scada-bridge/internal/history"
	"github.com/pv/scada-bridge/internal/logger"
)

// Router blends the local store and the remote historian by time range.
// Remote failures degrade to whatever local data exists instead of
// failing the whole query.
type Router struct {
	local          *history.Store
	remote         Remote // nil = local only
	localRetention time.Duration
	fanOut         int

	now func() time.Time
}

// NewRouter creates a historian router.
// localRetention must match the store's tag retention window.
func NewRouter(local *history.Store, remote Remote, localRetention time.Duration) *Router {
	if localRetention <= 0 {
		localRetention = 24 * time.Hour
	}
	return &Router{
		local:          local,
		remote:         remote,
		localRetention: localRetention,
		fanOut:         4,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Query serves one trend query for a tag
func (r *Router) Query(ctx context.Context, tagID string, start, end time.Time, opts QueryOptions) ([]history.Point, error) {
	opts = opts.withDefaults()

	points, err := r.fetch(ctx, tagID, start, end)
	if err != nil {
		return nil, err
	}

	switch opts.Mode {
	case ModeInterpolated:
		return Interpolate(points, start, end, opts.Interval), nil
	case ModePlot:
		return PlotReduce(points, opts.MaxPoints), nil
	default:
		return points, nil
	}
}

// QueryMulti runs one query per tag with bounded parallelism
func (r *Router) QueryMulti(ctx context.Context, tagIDs []string, start, end time.Time, opts QueryOptions) (map[string][]history.Point, error) {
	result := make(map[string][]history.Point, len(tagIDs))

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, r.fanOut)

	for _, id := range tagIDs {
		wg.Add(1)
		go func(tagID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			points, err := r.Query(ctx, tagID, start, end, opts)
			if err != nil {
				logger.Error("Historian batch query failed", "tag", tagID, "error", err)
				return
			}
			mu.Lock()
			result[tagID] = points
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return result, nil
}

// fetch routes the raw range query by the local retention cutoff
func (r *Router) fetch(ctx context.Context, tagID string, start, end time.Time) ([]history.Point, error) {
	cutoff := r.now().Add(-r.localRetention)

	// Entirely inside the local window: fastest path
	if !start.Before(cutoff) {
		points, err := r.local.QueryRange(ctx, tagID, start, end)
		if err != nil {
			return nil, err
		}
		if len(points) == 0 && r.remote != nil {
			// Local retention yielded nothing; the remote may still have it
			return r.queryRemote(ctx, tagID, start, end), nil
		}
		return points, nil
	}

	// Entirely before the local window: remote only
	if end.Before(cutoff) {
		if r.remote == nil {
			return nil, nil
		}
		return r.queryRemote(ctx, tagID, start, end), nil
	}

	// Spanning both: concurrent fetch, then merge
	var localPoints, remotePoints []history.Point
	var localErr error

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		localPoints, localErr = r.local.QueryRange(ctx, tagID, cutoff, end)
	}()

	if r.remote != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			remotePoints = r.queryRemote(ctx, tagID, start, cutoff.Add(-time.Nanosecond))
		}()
	}
	wg.Wait()

	if localErr != nil {
		return nil, localErr
	}
	return Merge(localPoints, remotePoints), nil
}

// queryRemote swallows remote failures: they are logged and the router
// falls back to local data
func (r *Router) queryRemote(ctx context.Context, tagID string, start, end time.Time) []history.Point {
	points, err := r.remote.QueryRange(ctx, tagID, start, end)
	if err != nil {
		logger.Error("Remote historian query failed, serving local only",
			"historian", r.remote.Name(), "tag", tagID, "error", err)
		return nil
	}
	return points
}
