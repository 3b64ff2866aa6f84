package power

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/aqua-risk/internal/artifact"
	"github.com/couchcryptid/aqua-risk/internal/domain"
)

var gridHeader = []string{"date", "air_temp", "precip", "lat", "lon"}

// GridPoints spaces size latitudes and size longitudes evenly across bbox,
// edges included, and returns their cross product in latitude-major order.
func GridPoints(bbox domain.BBox, size int) [][2]float64 {
	lats := linspace(bbox.LatMin, bbox.LatMax, size)
	lons := linspace(bbox.LonMin, bbox.LonMax, size)
	points := make([][2]float64, 0, len(lats)*len(lons))
	for _, lat := range lats {
		for _, lon := range lons {
			points = append(points, [2]float64{lat, lon})
		}
	}
	return points
}

// FetchGrid fetches the daily series for every grid point in bbox. Points are
// fetched one after another and the first failure aborts.
func FetchGrid(ctx context.Context, src domain.ClimateSource, bbox domain.BBox, size int, start, end time.Time, logger *slog.Logger) ([]domain.ClimateReading, error) {
	if size < 1 {
		return nil, domain.InputErrorf("grid size must be positive, got %d", size)
	}
	points := GridPoints(bbox, size)
	var out []domain.ClimateReading
	for i, p := range points {
		logger.Info("power fetch", "point", i+1, "total", len(points), "lat", p[0], "lon", p[1])
		series, err := src.DailySeries(ctx, p[0], p[1], start, end)
		if err != nil {
			return nil, fmt.Errorf("fetch grid point %.2f,%.2f: %w", p[0], p[1], err)
		}
		out = append(out, series...)
	}
	return out, nil
}

// LoadOrFetchGrid reads the grid from the CSV cache at path when it exists.
// Otherwise it fetches the grid and writes the cache atomically.
func LoadOrFetchGrid(ctx context.Context, path string, src domain.ClimateSource, bbox domain.BBox, size int, start, end time.Time, logger *slog.Logger) ([]domain.ClimateReading, error) {
	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			readings, err := ReadGridCSV(f)
			if err != nil {
				return nil, fmt.Errorf("read grid cache %s: %w", path, err)
			}
			logger.Info("power grid loaded from cache", "path", path, "readings", len(readings))
			return readings, nil
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("open grid cache: %w", err)
		}
	}

	readings, err := FetchGrid(ctx, src, bbox, size, start, end, logger)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := artifact.WriteFileAtomic(path, func(w io.Writer) error { return WriteGridCSV(w, readings) }); err != nil {
			return nil, fmt.Errorf("write grid cache: %w", err)
		}
	}
	return readings, nil
}

// WriteGridCSV writes readings with a date,air_temp,precip,lat,lon header.
// Missing values are written as empty cells.
func WriteGridCSV(w io.Writer, readings []domain.ClimateReading) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(gridHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range readings {
		row := []string{domain.FormatDate(r.Date), formatValue(r.AirTemp), formatValue(r.Precip), formatValue(r.Lat), formatValue(r.Lon)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadGridCSV reads a grid written by WriteGridCSV.
func ReadGridCSV(r io.Reader) ([]domain.ClimateReading, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(gridHeader)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, name := range gridHeader {
		if header[i] != name {
			return nil, fmt.Errorf("column %d is %q, want %q", i, header[i], name)
		}
	}

	var out []domain.ClimateReading
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		date, err := domain.ParseDate(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var vals [4]float64
		for i := range vals {
			if vals[i], err = parseValue(rec[i+1]); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, gridHeader[i+1], err)
			}
		}
		out = append(out, domain.ClimateReading{Date: date, AirTemp: vals[0], Precip: vals[1], Lat: vals[2], Lon: vals[3]})
	}
}

func linspace(lo, hi float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseValue(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
