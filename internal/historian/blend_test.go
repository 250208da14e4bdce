package historian

import (
	"testing"
	"time"

	"github.com/pv/scada-bridge/internal/history"
	"github.com/pv/scada-bridge/internal/tag"
)

func pt(ts time.Time, value float64) history.Point {
	return history.Point{Timestamp: ts, Value: value, Quality: tag.QualityGood}
}

func TestMergeLocalWinsTies(t *testing.T) {
	base := time.Unix(1000, 0).UTC()

	local := []history.Point{pt(base.Add(100*time.Second), 1)}
	remote := []history.Point{
		pt(base.Add(50*time.Second), 2),
		pt(base.Add(100*time.Second), 3),
	}

	merged := Merge(local, remote)

	if len(merged) != 2 {
		t.Fatalf("expected 2 merged points, got %d", len(merged))
	}
	if merged[0].Value != 2 {
		t.Errorf("expected remote point first, got %v", merged[0].Value)
	}
	// На совпадающем времени побеждает локальная точка
	if merged[1].Value != 1 {
		t.Errorf("expected local point to win the tie, got %v", merged[1].Value)
	}
}

func TestMergeEmptyInputs(t *testing.T) {
	base := time.Unix(1000, 0).UTC()
	local := []history.Point{pt(base, 1)}

	if got := Merge(local, nil); len(got) != 1 {
		t.Errorf("expected local points unchanged with empty remote, got %d", len(got))
	}
	if got := Merge(nil, local); len(got) != 1 {
		t.Errorf("expected remote points with empty local, got %d", len(got))
	}
	if got := Merge(nil, nil); len(got) != 0 {
		t.Errorf("expected empty merge, got %d", len(got))
	}
}

func TestMergeSortsByTimestamp(t *testing.T) {
	base := time.Unix(1000, 0).UTC()
	local := []history.Point{
		pt(base.Add(30*time.Second), 3),
		pt(base.Add(10*time.Second), 1),
	}
	remote := []history.Point{pt(base.Add(20*time.Second), 2)}

	merged := Merge(local, remote)
	if len(merged) != 3 {
		t.Fatalf("expected 3 points, got %d", len(merged))
	}
	for i, want := range []float64{1, 2, 3} {
		if merged[i].Value != want {
			t.Errorf("position %d: expected %v, got %v", i, want, merged[i].Value)
		}
	}
}

func TestInterpolateLinear(t *testing.T) {
	base := time.Unix(1000, 0).UTC()
	points := []history.Point{
		pt(base, 10),
		pt(base.Add(10*time.Second), 20),
	}

	result := Interpolate(points, base, base.Add(10*time.Second), 5*time.Second)
	if len(result) != 3 {
		t.Fatalf("expected 3 grid points, got %d", len(result))
	}
	if result[0].Value != 10 || result[1].Value != 15 || result[2].Value != 20 {
		t.Errorf("expected (10, 15, 20), got (%v, %v, %v)",
			result[0].Value, result[1].Value, result[2].Value)
	}
	for _, p := range result {
		if p.Quality != tag.QualityGood {
			t.Errorf("expected GOOD quality between GOOD neighbors, got %s", p.Quality)
		}
	}
}

func TestInterpolateUncertainNeighbor(t *testing.T) {
	base := time.Unix(1000, 0).UTC()
	points := []history.Point{
		pt(base, 10),
		{Timestamp: base.Add(10 * time.Second), Value: 20, Quality: tag.QualityBad},
	}

	result := Interpolate(points, base.Add(5*time.Second), base.Add(5*time.Second), time.Second)
	if len(result) != 1 {
		t.Fatalf("expected 1 point, got %d", len(result))
	}
	if result[0].Quality != tag.QualityUncertain {
		t.Errorf("expected UNCERTAIN with a non-GOOD neighbor, got %s", result[0].Quality)
	}
}

func TestInterpolateHoldsLastValue(t *testing.T) {
	base := time.Unix(1000, 0).UTC()
	points := []history.Point{pt(base, 10)}

	result := Interpolate(points, base, base.Add(10*time.Second), 5*time.Second)
	if len(result) != 3 {
		t.Fatalf("expected 3 points, got %d", len(result))
	}
	for _, p := range result {
		if p.Value != 10 {
			t.Errorf("expected last value held, got %v", p.Value)
		}
	}
}

func TestInterpolateSkipsBeforeFirstPoint(t *testing.T) {
	base := time.Unix(1000, 0).UTC()
	points := []history.Point{pt(base.Add(10*time.Second), 10)}

	result := Interpolate(points, base, base.Add(20*time.Second), 5*time.Second)
	// Точки сетки до первого замера отбрасываются: 10s, 15s, 20s остаются
	if len(result) != 3 {
		t.Fatalf("expected 3 points, got %d", len(result))
	}
	if !result[0].Timestamp.Equal(base.Add(10 * time.Second)) {
		t.Errorf("expected first grid point at first datum, got %v", result[0].Timestamp)
	}
}

func TestInterpolateEmpty(t *testing.T) {
	base := time.Unix(1000, 0).UTC()
	if got := Interpolate(nil, base, base.Add(time.Minute), time.Second); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
	if got := Interpolate([]history.Point{pt(base, 1)}, base, base.Add(time.Minute), 0); got != nil {
		t.Errorf("expected nil for non-positive step, got %v", got)
	}
}

func TestPlotReducePreservesSpikes(t *testing.T) {
	base := time.Unix(1000, 0).UTC()

	var points []history.Point
	for i := 0; i < 1000; i++ {
		v := 50.0
		if i == 500 {
			v = 100 // одиночный выброс
		}
		points = append(points, pt(base.Add(time.Duration(i)*time.Second), v))
	}

	reduced := PlotReduce(points, 100)
	if len(reduced) > 100 {
		t.Fatalf("expected at most 100 points, got %d", len(reduced))
	}

	var foundSpike bool
	for _, p := range reduced {
		if p.Value == 100 {
			foundSpike = true
			break
		}
	}
	if !foundSpike {
		t.Error("expected the spike to survive reduction")
	}
}

func TestPlotReducePassthroughSmallSets(t *testing.T) {
	base := time.Unix(1000, 0).UTC()
	points := []history.Point{pt(base, 1), pt(base.Add(time.Second), 2)}

	reduced := PlotReduce(points, 100)
	if len(reduced) != 2 {
		t.Errorf("expected small set returned unchanged, got %d points", len(reduced))
	}
}

func TestPlotReduceChronologicalOrder(t *testing.T) {
	base := time.Unix(1000, 0).UTC()

	var points []history.Point
	for i := 0; i < 100; i++ {
		points = append(points, pt(base.Add(time.Duration(i)*time.Second), float64(i%10)))
	}

	reduced := PlotReduce(points, 10)
	for i := 1; i < len(reduced); i++ {
		if reduced[i].Timestamp.Before(reduced[i-1].Timestamp) {
			t.Fatal("expected chronological order after reduction")
		}
	}
}
