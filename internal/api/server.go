package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chargewatch/internal/cache"
	"chargewatch/internal/config"
	"chargewatch/internal/jobs"
	"chargewatch/internal/model"
	"chargewatch/internal/storage"
)

// Cache namespaces, one per derived table.
const (
	NamespaceAlerts    = "alerts"
	NamespaceEvolution = "evolution"
	NamespaceDevices   = "devices"
)

// NamespaceFor maps a job name to the cache namespace its output feeds.
func NamespaceFor(job string) (string, bool) {
	switch job {
	case "alerts":
		return NamespaceAlerts, true
	case "evolution":
		return NamespaceEvolution, true
	case "devices":
		return NamespaceDevices, true
	}
	return "", false
}

// Reader is the query side of the store used by the API.
type Reader interface {
	Ping(ctx context.Context) error
	ListAlerts(ctx context.Context, q storage.AlertQuery) ([]storage.AlertRow, int, error)
	ListEvolution(ctx context.Context, scope string) ([]storage.EvolutionRow, error)
	ListRanking(ctx context.Context) ([]model.UnidentifiedDeviceRank, error)
}

type Server struct {
	cfg      *config.Manager
	store    Reader
	cache    cache.Provider
	history  *jobs.History
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status     string                      `json:"status"`
	Time       string                      `json:"time"`
	Version    string                      `json:"version"`
	ConfigPath string                      `json:"config_path"`
	Schedule   map[string]string           `json:"schedule"`
	Cache      bool                        `json:"cache"`
	Kafka      bool                        `json:"kafka"`
	Latest     map[string]model.RunSummary `json:"latest"`
	Runs       []model.RunSummary          `json:"runs"`
}

type page[T any] struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Items    []T `json:"items"`
}

type list[T any] struct {
	Items []T `json:"items"`
}

func NewServer(cfg *config.Manager, store Reader, provider cache.Provider, history *jobs.History, gatherer prometheus.Gatherer, logger *slog.Logger, version string) *Server {
	if provider == nil {
		provider = cache.Noop{}
	}
	if history == nil {
		history = jobs.NewHistory(0)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		cache:    provider,
		history:  history,
		gatherer: gatherer,
		logger:   logger,
		version:  version,
	}
}

// Router builds the gin engine serving the API.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/healthz", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1", s.requireToken())
	v1.GET("/alerts", s.handleAlerts)
	v1.GET("/evolution", s.handleEvolution)
	v1.GET("/devices/unidentified", s.handleDevices)
	return r
}

// Start serves the API until ctx is done. It returns nil when the API is
// disabled.
func Start(ctx context.Context, s *Server) *http.Server {
	current := s.cfg.Get().API
	if !current.Enabled {
		if s.logger != nil {
			s.logger.Info("api disabled")
		}
		return nil
	}
	if s.logger != nil {
		s.logger.Info("api enabled", "addr", current.Addr)
		if current.Token == "" {
			s.logger.Warn("api token not set, /v1 routes are open")
		}
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		timeout := current.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctxShutdown, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.logger != nil {
			s.logger.Debug("api request",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"status", c.Writer.Status(),
				"duration", time.Since(start),
			)
		}
	}
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		want := s.cfg.Get().API.Token
		if want == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		got := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api token"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	cfg := s.cfg.Get()
	schedule := map[string]string{
		"alerts":    cfg.Schedule.Alerts.String(),
		"evolution": cfg.Schedule.Evolution.String(),
		"devices":   cfg.Schedule.Devices.String(),
		"faults":    cfg.Schedule.Faults.String(),
		"voltage":   cfg.Schedule.Voltage.String(),
	}
	c.JSON(http.StatusOK, statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Schedule:   schedule,
		Cache:      cfg.Cache.Enabled,
		Kafka:      cfg.Kafka.Enabled,
		Latest:     s.history.Latest(),
		Runs:       s.history.List(50),
	})
}

func (s *Server) handleAlerts(c *gin.Context) {
	apiCfg := s.cfg.Get().API
	pageNo, err := intParam(c, "page", 1)
	if err != nil || pageNo < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}
	size, err := intParam(c, "page_size", apiCfg.DefaultPageSize)
	if err != nil || size < 1 || size > apiCfg.MaxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page_size must be between 1 and " + strconv.Itoa(apiCfg.MaxPageSize)})
		return
	}
	q := storage.AlertQuery{
		Site:   strings.TrimSpace(c.Query("site")),
		Limit:  size,
		Offset: (pageNo - 1) * size,
	}
	if v := c.Query("since"); v != "" {
		ts, err := parseSince(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339 or YYYY-MM-DD"})
			return
		}
		q.Since = ts
	}
	s.respond(c, NamespaceAlerts, s.cfg.Get().Cache.AlertsTTL, func(ctx context.Context) (any, error) {
		rows, total, err := s.store.ListAlerts(ctx, q)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []storage.AlertRow{}
		}
		return page[storage.AlertRow]{Total: total, Page: pageNo, PageSize: size, Items: rows}, nil
	})
}

func (s *Server) handleEvolution(c *gin.Context) {
	scope := strings.TrimSpace(c.Query("scope"))
	s.respond(c, NamespaceEvolution, s.cfg.Get().Cache.EvolutionTTL, func(ctx context.Context) (any, error) {
		rows, err := s.store.ListEvolution(ctx, scope)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []storage.EvolutionRow{}
		}
		return list[storage.EvolutionRow]{Items: rows}, nil
	})
}

func (s *Server) handleDevices(c *gin.Context) {
	s.respond(c, NamespaceDevices, s.cfg.Get().Cache.DevicesTTL, func(ctx context.Context) (any, error) {
		rows, err := s.store.ListRanking(ctx)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []model.UnidentifiedDeviceRank{}
		}
		return list[model.UnidentifiedDeviceRank]{Items: rows}, nil
	})
}

// respond serves a cached body when one exists, otherwise renders load's
// result and caches it. Cache failures degrade to uncached responses.
func (s *Server) respond(c *gin.Context, namespace string, ttl time.Duration, load func(ctx context.Context) (any, error)) {
	ctx := c.Request.Context()
	key := cache.Key(namespace, c.Request.URL.Path, c.Request.URL.Query())
	body, err := s.cache.Get(ctx, key)
	if err == nil {
		c.Header("X-Cache", "HIT")
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
		return
	}
	if !errors.Is(err, cache.ErrMiss) && s.logger != nil {
		s.logger.Warn("cache read failed", "key", key, "err", err)
	}

	payload, err := load(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("api query failed", "path", c.Request.URL.Path, "err", err)
		}
		status := http.StatusInternalServerError
		if model.IsExternalServiceError(err) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "query failed"})
		return
	}
	body, err = json.Marshal(payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode failed"})
		return
	}
	if ttl > 0 {
		if err := s.cache.Set(ctx, key, body, ttl); err != nil && s.logger != nil {
			s.logger.Warn("cache write failed", "key", key, "err", err)
		}
	}
	c.Header("X-Cache", "MISS")
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func intParam(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func parseSince(v string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts.UTC(), nil
	}
	return time.Parse(time.DateOnly, v)
}
