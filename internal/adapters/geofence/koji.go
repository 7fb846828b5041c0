// Package geofence fetches area feature collections over HTTP and turns them
// into resolver areas.
package geofence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/okian/spawnfence/internal/domain/geofence"
	"github.com/okian/spawnfence/pkg/logger"
	"github.com/okian/spawnfence/pkg/metrics"
	"github.com/paulmach/orb"
	geojson "github.com/paulmach/go.geojson"
	gobreaker "github.com/sony/gobreaker/v2"
)

// UnknownAreaName labels features that carry no name property.
const UnknownAreaName = "Unknown"

const (
	defaultTimeout         = 30 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerOpen     = time.Minute
	maxBodyBytes           = 64 << 20
)

// ErrStatus is returned for any non-200 response.
var ErrStatus = errors.New("unexpected geofence response status")

// envelope matches {"data": {"features": [...]}}.
type envelope struct {
	Data struct {
		Features []*geojson.Feature `json:"features"`
	} `json:"data"`
}

// Source is an HTTP geofence.Source guarded by a circuit breaker.
type Source struct {
	url             string
	token           string
	maxAreas        int
	timeout         time.Duration
	breakerFailures uint32
	breakerOpen     time.Duration
	client          *http.Client
	cb              *gobreaker.CircuitBreaker[[]geofence.Area]
	logger          logger.Logger
}

// New creates a source for url.
func New(url string, opts ...Option) *Source {
	s := &Source{
		url:             url,
		timeout:         defaultTimeout,
		breakerFailures: defaultBreakerFailures,
		breakerOpen:     defaultBreakerOpen,
		logger:          logger.Get().Named("geofence-source"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: s.timeout}
	}

	failures := s.breakerFailures
	s.cb = gobreaker.NewCircuitBreaker[[]geofence.Area](gobreaker.Settings{
		Name:        "geofence-source",
		MaxRequests: 1,
		Timeout:     s.breakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn(context.Background(), "circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return s
}

// Fetch downloads and parses the feature collection. Open-circuit rejections
// are returned as errors so the resolver's retry loop treats them like any
// other failure.
func (s *Source) Fetch(ctx context.Context) ([]geofence.Area, error) {
	areas, err := s.cb.Execute(func() ([]geofence.Area, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordErrorByComponent("geofence", "breaker_open")
		}
		return nil, err
	}
	return areas, nil
}

// State exposes the breaker state for health reporting.
func (s *Source) State() gobreaker.State { return s.cb.State() }

func (s *Source) fetch(ctx context.Context) ([]geofence.Area, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build geofence request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get geofences: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read geofences: %w", err)
	}
	return Parse(body, s.maxAreas)
}

// Parse converts a feature collection envelope into areas in feed order.
// Features whose geometry is neither Polygon nor MultiPolygon are skipped.
// maxAreas <= 0 keeps every area.
func Parse(body []byte, maxAreas int) ([]geofence.Area, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode geofences: %w", err)
	}

	areas := make([]geofence.Area, 0, len(env.Data.Features))
	for _, f := range env.Data.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		var mp orb.MultiPolygon
		switch {
		case f.Geometry.IsPolygon():
			mp = orb.MultiPolygon{toPolygon(f.Geometry.Polygon)}
		case f.Geometry.IsMultiPolygon():
			mp = make(orb.MultiPolygon, 0, len(f.Geometry.MultiPolygon))
			for _, p := range f.Geometry.MultiPolygon {
				mp = append(mp, toPolygon(p))
			}
		default:
			continue
		}
		areas = append(areas, geofence.NewArea(areaName(f), mp))
		if maxAreas > 0 && len(areas) == maxAreas {
			break
		}
	}
	return areas, nil
}

func areaName(f *geojson.Feature) string {
	name, err := f.PropertyString("name")
	if err != nil || name == "" {
		return UnknownAreaName
	}
	return name
}

func toPolygon(rings [][][]float64) orb.Polygon {
	poly := make(orb.Polygon, 0, len(rings))
	for _, r := range rings {
		ring := make(orb.Ring, 0, len(r))
		for _, c := range r {
			if len(c) < 2 {
				continue
			}
			ring = append(ring, orb.Point{c[0], c[1]})
		}
		poly = append(poly, ring)
	}
	return poly
}
