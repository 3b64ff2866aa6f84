package domain

import (
	"context"
	"time"
)

// ClimateReading is one daily climate observation at a grid point. Missing
// values are NaN.
type ClimateReading struct {
	Date    time.Time `json:"date"`
	Lat     float64   `json:"lat"`
	Lon     float64   `json:"lon"`
	AirTemp float64   `json:"air_temp"`
	Precip  float64   `json:"precip"`
}

// ClimateSource fetches daily climate readings for one point over an
// inclusive date range.
type ClimateSource interface {
	DailySeries(ctx context.Context, lat, lon float64, start, end time.Time) ([]ClimateReading, error)
}
