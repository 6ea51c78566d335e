package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/facefinder/internal/screening"
)

func TestObserverUpdatesCounters(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.OnPassStarted(ctx, screening.PassInfo{PassID: "p1", Candidates: 2})
	if got := testutil.ToFloat64(m.activePasses); got != 1 {
		t.Fatalf("expected 1 active pass, got %v", got)
	}

	m.OnCandidateCompared(ctx, "p1", screening.CandidateOutcome{Index: 0, Matched: true}, 120*time.Millisecond)
	m.OnCandidateCompared(ctx, "p1", screening.CandidateOutcome{Index: 1}, 80*time.Millisecond)
	m.OnPassFinished(ctx, screening.PassSummary{PassID: "p1", Status: screening.StatusDone})

	if got := testutil.ToFloat64(m.activePasses); got != 0 {
		t.Fatalf("expected 0 active passes, got %v", got)
	}
	if got := testutil.ToFloat64(m.comparisons.WithLabelValues("matched")); got != 1 {
		t.Fatalf("expected 1 matched comparison, got %v", got)
	}
	if got := testutil.ToFloat64(m.comparisons.WithLabelValues("unmatched")); got != 1 {
		t.Fatalf("expected 1 unmatched comparison, got %v", got)
	}
	if got := testutil.ToFloat64(m.passesTotal.WithLabelValues("done")); got != 1 {
		t.Fatalf("expected 1 done pass, got %v", got)
	}
}

func TestOutcomeLabel(t *testing.T) {
	cases := map[string]screening.PassSummary{
		"done":      {Status: screening.StatusDone},
		"error":     {Status: screening.StatusError},
		"cancelled": {Status: screening.StatusError, Superseded: true},
	}
	for want, summary := range cases {
		if got := outcomeLabel(summary); got != want {
			t.Errorf("outcomeLabel(%+v) = %s, want %s", summary, got, want)
		}
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.OnPassStarted(context.Background(), screening.PassInfo{PassID: "p1"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, name := range []string{"facefinder_active_passes", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output should contain %s", name)
		}
	}
}

func TestTrackWorkspacesExportsGauge(t *testing.T) {
	m := New()
	open := 3
	m.TrackWorkspaces(func() int { return open })

	const expected = `
# HELP facefinder_workspaces Workspaces held in memory.
# TYPE facefinder_workspaces gauge
facefinder_workspaces 3
`
	if err := testutil.GatherAndCompare(m.registry, strings.NewReader(expected), "facefinder_workspaces"); err != nil {
		t.Fatalf("unexpected gauge: %v", err)
	}

	open = 1
	if err := testutil.GatherAndCompare(m.registry, strings.NewReader(strings.Replace(expected, "facefinder_workspaces 3", "facefinder_workspaces 1", 1)), "facefinder_workspaces"); err != nil {
		t.Fatalf("gauge did not follow count: %v", err)
	}
}
