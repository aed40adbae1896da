// Package telemetry reads reservoir level and flow observations from the dam
// operator's public API.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://sinbad.sda.pu.go.id/API/PUB/v1"

// Endpoint is one observation series of the API.
type Endpoint string

const (
	EndpointLevel   Endpoint = "TMA"
	EndpointInflow  Endpoint = "INFLOW"
	EndpointOutflow Endpoint = "OUTFLOW"
)

// Columns lists the observation variables in report order.
var Columns = []string{"volume", "tma", "inflow", "outflow"}

// outflowComponents add up to the total release.
var outflowComponents = []string{
	"outflow_turbin",
	"outflow_abaku",
	"outflow_aindustri",
	"outflow_irigasi",
	"outflow_limpas",
	"outflow_pemeliharaan",
}

const dayLayout = "2006-01-02"

// Config holds the API settings. Credentials come from the environment.
type Config struct {
	BaseURL           string
	Username          string
	Password          string
	Timeout           time.Duration
	RequestsPerSecond float64
	Location          *time.Location
}

// Client fetches dam telemetry. Requests share one rate limiter and one
// circuit breaker.
type Client struct {
	username   string
	password   string
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	clock      clockwork.Clock
	location   *time.Location
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu    sync.Mutex
	token string
}

// NewClient creates a telemetry client.
func NewClient(cfg Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 3),
		breaker:  newBreaker(logger),
		clock:    clock,
		location: cfg.Location,
		logger:   logger,
		metrics:  metrics,
	}
}

func newBreaker(logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "dam-telemetry",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Login exchanges the configured credentials for a bearer token.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{
		"username": {c.username},
		"password": {c.password},
	}
	var body struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, "login", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login/", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, &body)
	if err != nil {
		return fmt.Errorf("telemetry login: %w", err)
	}
	if body.Token == "" {
		return errors.New("telemetry login: empty token in response")
	}

	c.mu.Lock()
	c.token = body.Token
	c.mu.Unlock()
	c.logger.Info("telemetry login succeeded")
	return nil
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

// Fetch returns the observations of one endpoint for a dam between from and
// until ("2006-01-02 15:04:05").
func (c *Client) Fetch(ctx context.Context, endpoint Endpoint, damID, from, until string) ([]domain.Observation, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"id":    {damID},
		"from":  {from},
		"until": {until},
	}
	fullURL := fmt.Sprintf("%s/%s/?%s", c.baseURL, endpoint, params.Encode())

	var rows []map[string]any
	err = c.do(ctx, string(endpoint), func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("fetch %s for dam %s: %w", endpoint, damID, err)
	}

	obs := convert(endpoint, rows)
	c.metrics.TelemetryRows.WithLabelValues(string(endpoint)).Add(float64(len(obs)))
	return obs, nil
}

// Collect fetches today's level, inflow and outflow series concurrently and
// merges them on timestamp. A failed endpoint is logged and contributes no
// rows; Collect fails only when every endpoint failed.
func (c *Client) Collect(ctx context.Context, damID string) ([]domain.Observation, error) {
	if _, err := c.bearer(ctx); err != nil {
		return nil, err
	}

	day := c.clock.Now().In(c.location).Format(dayLayout)
	from, until := day+" 00:00:00", day+" 23:59:59"

	endpoints := []Endpoint{EndpointLevel, EndpointInflow, EndpointOutflow}
	results := make([][]domain.Observation, len(endpoints))
	errs := make([]error, len(endpoints))

	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range endpoints {
		g.Go(func() error {
			obs, err := c.Fetch(gctx, ep, damID, from, until)
			if err != nil {
				c.metrics.TelemetryErrors.WithLabelValues(string(ep)).Inc()
				c.logger.Error("telemetry fetch failed", "endpoint", string(ep), "dam_id", damID, "error", err)
				errs[i] = err
				return nil
			}
			results[i] = obs
			return nil
		})
	}
	_ = g.Wait()

	if !slices.Contains(errs, nil) {
		return nil, fmt.Errorf("dam %s: every endpoint failed: %w", damID, errors.Join(errs...))
	}
	return Merge(results...), nil
}

func (c *Client) do(ctx context.Context, op string, build func() (*http.Request, error), out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request: %w", op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("telemetry API error: status %d: %s", resp.StatusCode, body)
		}
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	return err
}

// convert keeps the variables each endpoint contributes. The outflow total is
// reported only when all of its components are present.
func convert(endpoint Endpoint, rows []map[string]any) []domain.Observation {
	out := make([]domain.Observation, 0, len(rows))
	for _, row := range rows {
		ts, ok := row["timestamp"].(string)
		if !ok || ts == "" {
			continue
		}
		values := make(map[string]float64)
		switch endpoint {
		case EndpointLevel:
			copyNumber(values, row, "volume")
			copyNumber(values, row, "tma")
		case EndpointInflow:
			copyNumber(values, row, "inflow")
		case EndpointOutflow:
			total, complete := 0.0, true
			for _, k := range outflowComponents {
				v, ok := number(row[k])
				if !ok {
					complete = false
					break
				}
				total += v
			}
			if complete {
				values["outflow"] = total
			}
		}
		out = append(out, domain.Observation{Timestamp: ts, Values: values})
	}
	return out
}

func copyNumber(dst map[string]float64, row map[string]any, key string) {
	if v, ok := number(row[key]); ok {
		dst[key] = v
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Merge outer-joins observation sets on timestamp. The result is sorted by
// timestamp; a variable reported twice for one timestamp keeps the later set's
// value.
func Merge(sets ...[]domain.Observation) []domain.Observation {
	byTS := make(map[string]map[string]float64)
	for _, set := range sets {
		for _, o := range set {
			values, ok := byTS[o.Timestamp]
			if !ok {
				values = make(map[string]float64, len(Columns))
				byTS[o.Timestamp] = values
			}
			for k, v := range o.Values {
				values[k] = v
			}
		}
	}

	out := make([]domain.Observation, 0, len(byTS))
	for ts, values := range byTS {
		out = append(out, domain.Observation{Timestamp: ts, Values: values})
	}
	slices.SortFunc(out, func(a, b domain.Observation) int {
		return strings.Compare(a.Timestamp, b.Timestamp)
	})
	return out
}
