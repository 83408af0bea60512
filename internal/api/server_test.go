package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargewatch/internal/cache"
	"chargewatch/internal/config"
	"chargewatch/internal/jobs"
	"chargewatch/internal/metrics"
	"chargewatch/internal/model"
	"chargewatch/internal/storage"
)

const token = "s3cret"

type fixture struct {
	router  *gin.Engine
	store   *storage.SQLStore
	cache   *cache.RedisProvider
	history *jobs.History
	mr      *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	st, err := storage.NewSQLite("file:"+filepath.Join(t.TempDir(), "api.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Init(ctx))

	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	_, err = st.UpsertAlerts(ctx, []model.AlertCluster{
		{Signature: model.Signature{Site: "Baud", Connector: 1, ErrorType: "EVI", Moment: "Charge", EVICode: 84}, Detection: base, Occurrences: 3},
		{Signature: model.Signature{Site: "Meru", Connector: 2, ErrorType: "DC", Moment: "Init", EVICode: 12}, Detection: base.Add(time.Hour), Occurrences: 4},
	})
	require.NoError(t, err)
	require.NoError(t, st.ReplaceRanking(ctx, []model.UnidentifiedDeviceRank{{Rank: 1, Prefix: "4E:5D:6F", Sessions: 7, SuccessRate: 42.86}}))

	mgr, err := config.NewManager("")
	require.NoError(t, err)
	mgr.Get().API.Token = token

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	provider := cache.NewRedisProviderWithClient(client, "test")

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	history := jobs.NewHistory(10)
	srv := NewServer(mgr, st, provider, history, reg, nil, "test")
	return &fixture{router: srv.Router(), store: st, cache: provider, history: history, mr: mr}
}

func (f *fixture) get(path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestTokenRequired(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.get("/v1/alerts", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.get("/v1/alerts", "wrong").Code)
	assert.Equal(t, http.StatusOK, f.get("/v1/alerts", token).Code)
}

func TestAlertsPagination(t *testing.T) {
	f := newFixture(t)
	w := f.get("/v1/alerts?page=1&page_size=1", token)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Total    int                `json:"total"`
		Page     int                `json:"page"`
		PageSize int                `json:"page_size"`
		Items    []storage.AlertRow `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 1, body.PageSize)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "Meru", body.Items[0].Site)

	w = f.get("/v1/alerts?site=Baud", token)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)

	assert.Equal(t, http.StatusBadRequest, f.get("/v1/alerts?page_size=501", token).Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/v1/alerts?page=0", token).Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/v1/alerts?since=yesterday", token).Code)
}

func TestSecondRequestServedFromCache(t *testing.T) {
	f := newFixture(t)
	first := f.get("/v1/devices/unidentified", token)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	require.NoError(t, f.store.ReplaceRanking(context.Background(), nil))

	second := f.get("/v1/devices/unidentified", token)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	NewInvalidator(f.cache, nil).Handle(context.Background(), model.RunSummary{Job: "devices", Outcome: metrics.OutcomeSuccess})
	third := f.get("/v1/devices/unidentified", token)
	assert.Equal(t, "MISS", third.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"items":[]}`, third.Body.String())
}

func TestFailedRunKeepsCache(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.get("/v1/evolution", token).Code)
	NewInvalidator(f.cache, nil).Handle(context.Background(), model.RunSummary{Job: "evolution", Outcome: metrics.OutcomeError})
	assert.Equal(t, "HIT", f.get("/v1/evolution", token).Header().Get("X-Cache"))
}

func TestQueryOrderSharesCacheEntry(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, "MISS", f.get("/v1/alerts?site=Baud&page=1", token).Header().Get("X-Cache"))
	assert.Equal(t, "HIT", f.get("/v1/alerts?page=1&site=Baud", token).Header().Get("X-Cache"))
}

func TestHealthStatusAndMetrics(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.get("/healthz", "").Code)

	f.history.Add(model.RunSummary{RunID: "r1", Job: "alerts", Outcome: metrics.OutcomeSuccess, Rows: 2})
	w := f.get("/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "test", status.Version)
	require.Len(t, status.Runs, 1)
	assert.Equal(t, "r1", status.Latest["alerts"].RunID)

	metrics.ObserveRun("alerts", time.Second, metrics.OutcomeSuccess, 2)
	w = f.get("/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chargewatch_job_runs_total")
}

func TestNamespaceFor(t *testing.T) {
	ns, ok := NamespaceFor("alerts")
	assert.True(t, ok)
	assert.Equal(t, NamespaceAlerts, ns)
	_, ok = NamespaceFor("voltage")
	assert.False(t, ok)
}
