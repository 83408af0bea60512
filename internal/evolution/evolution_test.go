package evolution

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

func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestEndOfChargeCountsAsSuccess(t *testing.T) {
	ok := model.ChargeSession{Success: false, Moment: " Fin de charge "}
	if !IsSuccess(ok, "fin de charge") {
		t.Fatalf("end-of-charge failure should count as success")
	}
	ko := model.ChargeSession{Success: false, Moment: "Cable check"}
	if IsSuccess(ko, "fin de charge") {
		t.Fatalf("other moments are failures")
	}
	if !IsSuccess(model.ChargeSession{Success: true}, "fin de charge") {
		t.Fatalf("success flag wins")
	}
}

func TestComputeExcludesCurrentMonth(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 1, 0, time.UTC)
	cutoff := MonthCutoff(now)
	sessions := []model.ChargeSession{
		{Start: at(2025, 5, 3), Success: true},
		{Start: at(2025, 5, 4), Moment: "fin de charge"},
		{Start: at(2025, 5, 5), Moment: "Charge"},
		{Start: at(2025, 6, 30), Success: true},
		{Start: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), Success: true},
	}
	got := Compute(sessions, cutoff, "", "fin de charge")
	if len(got) != 2 {
		t.Fatalf("expected 2 months, got %d", len(got))
	}
	if got[0].MonthLabel() != "05-2025" || got[0].Total != 3 || got[0].SuccessRate != 66.67 {
		t.Fatalf("may: %+v", got[0])
	}
	if got[1].MonthLabel() != "06-2025" || got[1].SuccessRate != 100 {
		t.Fatalf("june: %+v", got[1])
	}
	if got[0].Scope != "Global" {
		t.Fatalf("scope %q", got[0].Scope)
	}
}

func TestRateZeroTotal(t *testing.T) {
	if Rate(0, 0) != 0 {
		t.Fatalf("zero division must yield 0")
	}
	if Rate(1, 3) != 33.33 {
		t.Fatalf("rounding: %v", Rate(1, 3))
	}
}

func TestSiteCountsUnknown(t *testing.T) {
	cutoff := at(2025, 7, 1)
	got := SiteCounts([]model.ChargeSession{
		{Start: at(2025, 6, 1), Site: ""},
		{Start: at(2025, 6, 1), Site: "nan"},
		{Start: at(2025, 6, 1), Site: "Baud"},
	}, cutoff)
	if got["Unknown"] != 2 || got["Baud"] != 1 {
		t.Fatalf("counts: %v", got)
	}
}

func TestJobFullReplaceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewSQLite("file:"+filepath.Join(t.TempDir(), "evo.db"), "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	if err := st.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, s := range []model.ChargeSession{
		{Site: "Baud", Start: at(2025, 4, 2), Success: true},
		{Site: "Baud", Start: at(2025, 4, 3), Moment: "Fin de charge"},
		{Site: "Baud", Start: at(2025, 5, 3), Moment: "Charge"},
		{Site: "Baud", Start: at(2025, 6, 3), Success: true},
	} {
		if err := st.InsertSession(ctx, s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	reader := ingest.NewReader(st, time.UTC, registry.Default(), nil)
	job := NewJob(config.DefaultConfig().Evolution, time.UTC, reader, st, nil).
		WithClock(func() time.Time { return at(2025, 6, 15) })

	for i := 0; i < 2; i++ {
		res, err := job.Run(ctx)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if res.Rows != 2 {
			t.Fatalf("run %d rows: %d", i, res.Rows)
		}
	}
	rows, err := st.ListEvolution(ctx, "Global")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after two runs, got %d", len(rows))
	}
	if rows[0].Month != "04-2025" || rows[0].SuccessRate != 100 || rows[1].SuccessRate != 0 {
		t.Fatalf("rows: %+v", rows)
	}
}
