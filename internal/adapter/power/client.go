// Package power fetches daily climate series from the NASA POWER API.
package power

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/couchcryptid/aqua-risk/internal/domain"
	"github.com/couchcryptid/aqua-risk/internal/observability"
)

const (
	defaultBaseURL = "https://power.larc.nasa.gov/api/temporal/daily/point"
	dayLayout      = "20060102"

	paramAirTemp = "T2M"
	paramPrecip  = "PRECTOT"

	// fillValue marks a missing daily value in POWER responses.
	fillValue = -999.0
)

// Client implements domain.ClimateSource using the NASA POWER daily point API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a NASA POWER client.
func NewClient(timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		metrics: metrics,
		logger:  logger,
	}
}

// DailySeries returns one reading per day in [start, end], sorted by date.
// Fill values become NaN.
func (c *Client) DailySeries(ctx context.Context, lat, lon float64, start, end time.Time) ([]domain.ClimateReading, error) {
	params := url.Values{
		"latitude":   {strconv.FormatFloat(lat, 'f', 4, 64)},
		"longitude":  {strconv.FormatFloat(lon, 'f', 4, 64)},
		"start":      {start.Format(dayLayout)},
		"end":        {end.Format(dayLayout)},
		"community":  {"AG"},
		"parameters": {paramAirTemp + "," + paramPrecip},
		"format":     {"JSON"},
	}

	began := time.Now()
	readings, err := c.doRequest(ctx, c.baseURL+"?"+params.Encode(), lat, lon)
	c.metrics.ClimateAPIDuration.Observe(time.Since(began).Seconds())
	if err != nil {
		c.metrics.ClimateRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	c.metrics.ClimateRequests.WithLabelValues("success").Inc()
	c.logger.Debug("power series fetched", "lat", lat, "lon", lon, "days", len(readings))
	return readings, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string, lat, lon float64) ([]domain.ClimateReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("power request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("power API error: status %d: %s", resp.StatusCode, body)
	}

	var powerResp response
	if err := json.NewDecoder(resp.Body).Decode(&powerResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return powerResp.readings(lat, lon)
}

// POWER API response types.

type response struct {
	Properties struct {
		Parameter map[string]map[string]float64 `json:"parameter"`
	} `json:"properties"`
}

func (r *response) readings(lat, lon float64) ([]domain.ClimateReading, error) {
	temp := r.Properties.Parameter[paramAirTemp]
	precip := r.Properties.Parameter[paramPrecip]

	days := make([]string, 0, max(len(temp), len(precip)))
	for d := range temp {
		days = append(days, d)
	}
	for d := range precip {
		if _, ok := temp[d]; !ok {
			days = append(days, d)
		}
	}
	slices.Sort(days)

	out := make([]domain.ClimateReading, 0, len(days))
	for _, d := range days {
		date, err := time.Parse(dayLayout, d)
		if err != nil {
			return nil, fmt.Errorf("parse day %q: %w", d, err)
		}
		out = append(out, domain.ClimateReading{
			Date:    date,
			Lat:     lat,
			Lon:     lon,
			AirTemp: value(temp, d),
			Precip:  value(precip, d),
		})
	}
	return out, nil
}

func value(series map[string]float64, day string) float64 {
	v, ok := series[day]
	if !ok || v == fillValue {
		return math.NaN()
	}
	return v
}
