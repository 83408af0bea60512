package timeseries

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargewatch/internal/config"
	"chargewatch/internal/model"
)

type fakeInflux struct {
	mu      sync.Mutex
	queries []string
	respond func(q string) string
}

func (f *fakeInflux) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Influxdb-Version", "1.8.10")
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		q := r.FormValue("q")
		f.mu.Lock()
		f.queries = append(f.queries, q)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, f.respond(q))
	})
}

func newTestInflux(t *testing.T, respond func(q string) string) (*Influx, *fakeInflux) {
	t.Helper()
	fake := &fakeInflux{respond: respond}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	cfg := config.DefaultConfig().Influx
	cfg.Addr = srv.URL
	cfg.Timeout = 2 * time.Second
	src, err := NewInflux(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src, fake
}

const seriesBody = `{"results":[{"statement_id":0,"series":[{"name":"fastcharge","columns":["time","v"],"values":[
["2025-06-02T10:00:02Z",150],["2025-06-02T10:00:01Z",0.5],["2025-06-02T10:00:03Z",null]]}]}]}`

func TestSeriesDecodesAndOrders(t *testing.T) {
	src, fake := newTestInflux(t, func(string) string { return seriesBody })
	from := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	pts, err := src.Series(context.Background(), SeriesQuery{
		Project: "7951-001",
		Field:   "EVI_P1.ILI.EVSE_OutVoltage",
		From:    from,
		To:      from.Add(time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, 0.5, pts[0].Value)
	assert.Equal(t, 150.0, pts[1].Value)

	require.Len(t, fake.queries, 1)
	q := fake.queries[0]
	assert.Contains(t, q, `SELECT "EVI_P1.ILI.EVSE_OutVoltage" FROM "fastcharge"`)
	assert.Contains(t, q, `"project" = '7951-001'`)
	assert.Contains(t, q, `time >= '2025-06-02T10:00:00Z'`)
	assert.Contains(t, q, `time <= '2025-06-02T10:01:00Z'`)
}

func TestSeriesEmptyIsMiss(t *testing.T) {
	src, _ := newTestInflux(t, func(string) string { return `{"results":[{"statement_id":0}]}` })
	pts, err := src.Series(context.Background(), SeriesQuery{Project: "x", Field: "f"})
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestSeriesQueryErrorIsExternal(t *testing.T) {
	src, _ := newTestInflux(t, func(string) string { return `{"results":[{"statement_id":0,"error":"field not found"}]}` })
	_, err := src.Series(context.Background(), SeriesQuery{Project: "x", Field: "f"})
	require.Error(t, err)
	assert.True(t, model.IsExternalServiceError(err))
}

func TestLatestEscapesProject(t *testing.T) {
	src, fake := newTestInflux(t, func(q string) string {
		return `{"results":[{"statement_id":0,"series":[{"name":"fastcharge","columns":["time","w"],"values":[["2025-06-02T10:00:00Z",5]]}]}]}`
	})
	v, ok, err := src.Latest(context.Background(), "o'brien", "SEQ12.OLI.A.IC1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5.0, v)
	assert.True(t, strings.Contains(fake.queries[0], `'o\'brien'`))
	assert.Contains(t, fake.queries[0], "ORDER BY time DESC LIMIT 1")
}

func TestPing(t *testing.T) {
	src, _ := newTestInflux(t, func(string) string { return `{}` })
	require.NoError(t, src.Ping(context.Background()))
}

func TestSeriesHonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	src, _ := newTestInflux(t, func(string) string {
		<-release
		return `{"results":[{"statement_id":0}]}`
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	_, err := src.Series(ctx, SeriesQuery{Project: "7796", Field: "f"})
	require.Error(t, err)
	assert.True(t, model.IsExternalServiceError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), time.Second)
}
