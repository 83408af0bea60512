// Package timeseries reads signal data from the InfluxDB 1.x store that
// records charger telemetry.
package timeseries

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	influx "github.com/influxdata/influxdb1-client/v2"

	"chargewatch/internal/config"
	"chargewatch/internal/metrics"
	"chargewatch/internal/model"
)

// SeriesQuery selects one field of the configured measurement for one
// project over an inclusive time range.
type SeriesQuery struct {
	Project string
	Field   string
	From    time.Time
	To      time.Time
}

// Source is the query surface the classifier and the fault monitor use.
type Source interface {
	Ping(ctx context.Context) error
	Series(ctx context.Context, q SeriesQuery) ([]model.VoltagePoint, error)
	Latest(ctx context.Context, project, field string) (float64, bool, error)
}

type Influx struct {
	client      influx.Client
	database    string
	measurement string
	projectTag  string
	timeout     time.Duration
}

func NewInflux(cfg config.InfluxConfig) (*Influx, error) {
	client, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:               cfg.Addr,
		Username:           cfg.Username,
		Password:           cfg.Password,
		Timeout:            cfg.Timeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("influx client: %w", err)
	}
	tag := cfg.ProjectTag
	if tag == "" {
		tag = "project"
	}
	return &Influx{
		client:      client,
		database:    cfg.Database,
		measurement: cfg.Measurement,
		projectTag:  tag,
		timeout:     cfg.Timeout,
	}, nil
}

func (i *Influx) Close() error {
	return i.client.Close()
}

func (i *Influx) Ping(ctx context.Context) error {
	timeout := i.timeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if _, _, err := i.client.Ping(timeout); err != nil {
		return model.NewExternalServiceError("influx", "ping", err)
	}
	return nil
}

// Series returns the points of one field ordered by time. An empty slice
// with a nil error is a lookup miss.
func (i *Influx) Series(ctx context.Context, q SeriesQuery) ([]model.VoltagePoint, error) {
	cmd := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = '%s' AND time >= '%s' AND time <= '%s' ORDER BY time ASC`,
		quoteIdent(q.Field),
		quoteIdent(i.measurement),
		quoteIdent(i.projectTag),
		escapeTag(q.Project),
		q.From.UTC().Format(time.RFC3339Nano),
		q.To.UTC().Format(time.RFC3339Nano),
	)
	rows, err := i.run(ctx, cmd)
	if err != nil {
		metrics.ObserveQuery(metrics.QueryError)
		return nil, err
	}
	points := make([]model.VoltagePoint, 0, len(rows))
	for _, row := range rows {
		ts, v, ok := decodeRow(row)
		if !ok {
			continue
		}
		points = append(points, model.VoltagePoint{Timestamp: ts, Value: v})
	}
	sort.SliceStable(points, func(a, b int) bool { return points[a].Timestamp.Before(points[b].Timestamp) })
	if len(points) == 0 {
		metrics.ObserveQuery(metrics.QueryEmpty)
	} else {
		metrics.ObserveQuery(metrics.QueryHit)
	}
	return points, nil
}

// Latest returns the most recent non-null value of a field.
func (i *Influx) Latest(ctx context.Context, project, field string) (float64, bool, error) {
	cmd := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = '%s' ORDER BY time DESC LIMIT 1`,
		quoteIdent(field),
		quoteIdent(i.measurement),
		quoteIdent(i.projectTag),
		escapeTag(project),
	)
	rows, err := i.run(ctx, cmd)
	if err != nil {
		metrics.ObserveQuery(metrics.QueryError)
		return 0, false, err
	}
	for _, row := range rows {
		if _, v, ok := decodeRow(row); ok {
			metrics.ObserveQuery(metrics.QueryHit)
			return v, true, nil
		}
	}
	metrics.ObserveQuery(metrics.QueryEmpty)
	return 0, false, nil
}

func (i *Influx) run(ctx context.Context, cmd string) ([][]any, error) {
	type reply struct {
		resp *influx.Response
		err  error
	}
	// The client has no context support; HTTPConfig.Timeout bounds the
	// request itself and ctx bounds how long the caller waits for it.
	done := make(chan reply, 1)
	go func() {
		resp, err := i.client.Query(influx.NewQuery(cmd, i.database, ""))
		done <- reply{resp, err}
	}()
	var resp *influx.Response
	select {
	case <-ctx.Done():
		return nil, model.NewExternalServiceError("influx", "query", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, model.NewExternalServiceError("influx", "query", r.err)
		}
		resp = r.resp
	}
	if err := resp.Error(); err != nil {
		return nil, model.NewExternalServiceError("influx", "query", err)
	}
	var out [][]any
	for _, result := range resp.Results {
		for _, s := range result.Series {
			out = append(out, s.Values...)
		}
	}
	return out, nil
}

func decodeRow(row []any) (time.Time, float64, bool) {
	if len(row) < 2 || row[1] == nil {
		return time.Time{}, 0, false
	}
	ts, ok := decodeTime(row[0])
	if !ok {
		return time.Time{}, 0, false
	}
	v, ok := decodeValue(row[1])
	if !ok {
		return time.Time{}, 0, false
	}
	return ts, v, true
}

func decodeTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return ts.UTC(), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(0, n).UTC(), true
	}
	return time.Time{}, false
}

func decodeValue(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func escapeTag(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
