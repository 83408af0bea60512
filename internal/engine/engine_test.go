package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chargewatch/internal/config"
	"chargewatch/internal/ingest"
	"chargewatch/internal/model"
	"chargewatch/internal/registry"
	"chargewatch/internal/storage"
)

var base = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

func sig() model.Signature {
	return model.Signature{Site: "Baud", Connector: 1, ErrorType: "EVI", Moment: "Charge", EVICode: 84, DownstreamCode: 0}
}

func eventsAt(s model.Signature, offsets ...time.Duration) []model.ErrorEvent {
	out := make([]model.ErrorEvent, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, model.ErrorEvent{Signature: s, Timestamp: base.Add(off)})
	}
	return out
}

func TestThreeEventsFormOneCluster(t *testing.T) {
	got := DetectAlerts(eventsAt(sig(), 0, time.Hour, 2*time.Hour), time.Time{}, Options{})
	if len(got) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(got))
	}
	if got[0].Occurrences != 3 || !got[0].Detection.Equal(base) {
		t.Fatalf("unexpected cluster: %+v", got[0])
	}
}

func TestTwoEventsNoCluster(t *testing.T) {
	if got := DetectAlerts(eventsAt(sig(), 0, time.Hour), time.Time{}, Options{}); len(got) != 0 {
		t.Fatalf("expected no cluster, got %d", len(got))
	}
}

func TestWindowsDoNotOverlap(t *testing.T) {
	evs := eventsAt(sig(), 0, time.Hour, 2*time.Hour, 11*time.Hour, 13*time.Hour)
	got := DetectAlerts(evs, time.Time{}, Options{})
	if len(got) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(got))
	}
	if got[0].Occurrences != 4 {
		t.Fatalf("expected 4 occurrences, got %d", got[0].Occurrences)
	}
	if len(got[0].Members) != 4 {
		t.Fatalf("members: %v", got[0].Members)
	}
}

func TestWindowBoundaryInclusive(t *testing.T) {
	got := DetectAlerts(eventsAt(sig(), 0, 6*time.Hour, 12*time.Hour), time.Time{}, Options{})
	if len(got) != 1 || got[0].Occurrences != 3 {
		t.Fatalf("expected inclusive window, got %+v", got)
	}
	got = DetectAlerts(eventsAt(sig(), 0, 6*time.Hour, 12*time.Hour+time.Second), time.Time{}, Options{})
	if len(got) != 0 {
		t.Fatalf("event past the window must not count")
	}
}

func TestIdenticalTimestampsAreDistinct(t *testing.T) {
	got := DetectAlerts(eventsAt(sig(), 0, 0, 0), time.Time{}, Options{})
	if len(got) != 1 || got[0].Occurrences != 3 {
		t.Fatalf("expected one cluster of 3, got %+v", got)
	}
}

func TestSkippedSeedIsNotRevisited(t *testing.T) {
	// Neither 0h nor 1h reaches three events; the window anchored at 13h does.
	evs := eventsAt(sig(), 0, time.Hour, 13*time.Hour, 14*time.Hour, 20*time.Hour)
	got := DetectAlerts(evs, time.Time{}, Options{})
	if len(got) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(got))
	}
	if !got[0].Detection.Equal(base.Add(13*time.Hour)) || got[0].Occurrences != 3 {
		t.Fatalf("unexpected cluster %+v", got[0])
	}
}

func TestBackToBackClusters(t *testing.T) {
	evs := eventsAt(sig(), 0, time.Hour, 2*time.Hour, 13*time.Hour, 14*time.Hour, 15*time.Hour)
	got := DetectAlerts(evs, time.Time{}, Options{})
	if len(got) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(got))
	}
	if !got[1].Detection.Equal(base.Add(13 * time.Hour)) {
		t.Fatalf("second detection %s", got[1].Detection)
	}
}

func TestSignaturesAreGroupedSeparately(t *testing.T) {
	other := sig()
	other.Moment = "Cable check"
	evs := append(eventsAt(sig(), 0, time.Hour), eventsAt(other, 30*time.Minute, 2*time.Hour)...)
	if got := DetectAlerts(evs, time.Time{}, Options{}); len(got) != 0 {
		t.Fatalf("mixed signatures must not cluster together")
	}
}

func TestUnsortedInputAndGroupOrder(t *testing.T) {
	second := sig()
	second.Connector = 2
	evs := append(eventsAt(second, 5*time.Hour, 3*time.Hour, 4*time.Hour), eventsAt(sig(), 2*time.Hour, 0, time.Hour)...)
	got := DetectAlerts(evs, time.Time{}, Options{})
	if len(got) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(got))
	}
	if got[0].Signature.Connector != 2 || !got[0].Detection.Equal(base.Add(3*time.Hour)) {
		t.Fatalf("first group should come first: %+v", got[0])
	}
}

func TestSinceFiltersOlderEvents(t *testing.T) {
	evs := eventsAt(sig(), 0, time.Hour, 2*time.Hour)
	if got := DetectAlerts(evs, base.Add(time.Hour), Options{}); len(got) != 0 {
		t.Fatalf("events before since must be ignored")
	}
}

func TestEventsFromSessionsDropsIncomplete(t *testing.T) {
	code := 84
	sessions := []model.ChargeSession{
		{Site: "Baud", Connector: 1, HasConnector: true, ErrorType: "EVI", Moment: "Charge", EVIErrorCode: &code, DownstreamCode: &code, Start: base},
		{Site: "Baud", Connector: 1, HasConnector: true, ErrorType: "EVI", Moment: "Charge", EVIErrorCode: &code, Start: base},
		{Site: "Baud", Success: true, Start: base},
	}
	evs, dropped := EventsFromSessions(sessions)
	if len(evs) != 1 || dropped != 1 {
		t.Fatalf("events=%d dropped=%d", len(evs), dropped)
	}
}

func TestEngineRerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "alerts.db")
	st, err := storage.NewSQLite(dsn, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	if err := st.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	evi, down := 84, 3
	for _, off := range []time.Duration{0, time.Hour, 2 * time.Hour, 20 * time.Hour, 21 * time.Hour, 22 * time.Hour, 40 * time.Hour} {
		if err := st.InsertSession(ctx, model.ChargeSession{
			Site: "Baud", Connector: 1, HasConnector: true, Start: base.Add(off),
			ErrorType: "EVI", Moment: "Charge", EVIErrorCode: &evi, DownstreamCode: &down,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	reader := ingest.NewReader(st, time.UTC, registry.Default(), nil)
	eng := NewEngine(config.DefaultConfig().Alerts, reader, st, nil)

	first, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Rows != 2 || first.Inserted != 2 {
		t.Fatalf("first run: %+v", first)
	}
	second, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Inserted != 0 {
		t.Fatalf("second run inserted %d", second.Inserted)
	}
	_, total, err := st.ListAlerts(ctx, storage.AlertQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 alert rows, got %d", total)
	}
}
