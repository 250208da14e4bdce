package historian

import (
	"sort"
	"time"

	"github.com/pv/scada-bridge/internal/history"
	"github.com/pv/scada-bridge/internal/tag"
)

// Merge concatenates local and remote points, sorts by timestamp and
// deduplicates. Local points win on duplicate timestamps: they are
// inserted first and later occurrences of a timestamp are skipped.
func Merge(local, remote []history.Point) []history.Point {
	if len(remote) == 0 {
		return local
	}

	combined := make([]history.Point, 0, len(local)+len(remote))
	combined = append(combined, local...)
	combined = append(combined, remote...)

	// Stable sort preserves local-before-remote order on equal timestamps
	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Timestamp.Before(combined[j].Timestamp)
	})

	merged := combined[:0]
	var lastTS time.Time
	for i, p := range combined {
		if i > 0 && p.Timestamp.Equal(lastTS) {
			continue
		}
		merged = append(merged, p)
		lastTS = p.Timestamp
	}
	return merged
}

// Interpolate resamples points onto a regular grid using linear
// interpolation between the surrounding stored points. The sample
// quality downgrades to UNCERTAIN when either neighbor is not GOOD.
func Interpolate(points []history.Point, start, end time.Time, step time.Duration) []history.Point {
	if len(points) == 0 || step <= 0 {
		return nil
	}

	var result []history.Point
	idx := 0
	for ts := start; !ts.After(end); ts = ts.Add(step) {
		// Advance to the last point at or before ts
		for idx+1 < len(points) && !points[idx+1].Timestamp.After(ts) {
			idx++
		}

		before := points[idx]
		if before.Timestamp.After(ts) {
			// Grid point precedes all data
			continue
		}

		if idx+1 >= len(points) {
			// Past the last stored point: hold the last value
			result = append(result, history.Point{Timestamp: ts, Value: before.Value, Quality: before.Quality})
			continue
		}

		after := points[idx+1]
		span := after.Timestamp.Sub(before.Timestamp).Seconds()
		var value float64
		if span <= 0 {
			value = before.Value
		} else {
			frac := ts.Sub(before.Timestamp).Seconds() / span
			value = before.Value + (after.Value-before.Value)*frac
		}

		quality := tag.QualityGood
		if before.Quality != tag.QualityGood || after.Quality != tag.QualityGood {
			quality = tag.QualityUncertain
		}
		result = append(result, history.Point{Timestamp: ts, Value: value, Quality: quality})
	}
	return result
}

// PlotReduce shrinks a point set for trend rendering: the range is cut
// into buckets and each bucket contributes its min and max points, so
// spikes survive the reduction.
func PlotReduce(points []history.Point, maxPoints int) []history.Point {
	if len(points) <= maxPoints || maxPoints < 2 {
		return points
	}

	buckets := maxPoints / 2
	perBucket := (len(points) + buckets - 1) / buckets

	var result []history.Point
	for i := 0; i < len(points); i += perBucket {
		end := i + perBucket
		if end > len(points) {
			end = len(points)
		}

		minIdx, maxIdx := i, i
		for j := i; j < end; j++ {
			if points[j].Value < points[minIdx].Value {
				minIdx = j
			}
			if points[j].Value > points[maxIdx].Value {
				maxIdx = j
			}
		}

		// Keep chronological order inside the bucket
		first, second := minIdx, maxIdx
		if first > second {
			first, second = second, first
		}
		result = append(result, points[first])
		if second != first {
			result = append(result, points[second])
		}
	}
	return result
}
