package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/couchcryptid/aqua-risk/internal/domain"
)

// Header lists the training table columns in file order.
var Header = []string{
	"lat", "lon", "date",
	"sst", "chlor_a", "precip", "flood_inundation", "drought_index",
	"population_density", "water_access_pct", "sanitation_score", "mobility_index", "clinic_reports",
	"risk_score",
}

// WriteCSV writes observations with Header as the first row.
func WriteCSV(w io.Writer, obs []domain.Observation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range obs {
		if err := cw.Write(encodeRow(&obs[i])); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a training table. Columns are matched by header name in any
// order and extra columns are ignored. A missing column or a malformed or
// non-finite value is an input error naming the line.
func ReadCSV(r io.Reader) ([]domain.Observation, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.InputErrorf("empty dataset")
		}
		return nil, domain.InputErrorf("read header: %v", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	cols := make([]int, len(Header))
	for i, name := range Header {
		pos, ok := index[name]
		if !ok {
			return nil, domain.InputErrorf("dataset missing required column %q", name)
		}
		cols[i] = pos
	}

	var obs []domain.Observation
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.InputErrorf("line %d: %v", line, err)
		}
		o, err := decodeRow(rec, cols)
		if err != nil {
			if domain.IsInput(err) {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			return nil, domain.InputErrorf("line %d: %v", line, err)
		}
		obs = append(obs, o)
	}
	return obs, nil
}

func encodeRow(o *domain.Observation) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		f(o.Lat), f(o.Lon), domain.FormatDate(o.Date),
		f(o.SST), f(o.ChlorophyllA), f(o.Precipitation), f(o.FloodInundation), f(o.DroughtIndex),
		f(o.PopulationDensity), f(o.WaterAccessPct), f(o.SanitationScore), f(o.MobilityIndex), f(o.ClinicReports),
		f(o.RiskScore),
	}
}

func decodeRow(rec []string, cols []int) (domain.Observation, error) {
	var o domain.Observation
	date, err := domain.ParseDate(rec[cols[2]])
	if err != nil {
		return o, err
	}
	o.Date = date

	targets := []*float64{
		&o.Lat, &o.Lon, nil,
		&o.SST, &o.ChlorophyllA, &o.Precipitation, &o.FloodInundation, &o.DroughtIndex,
		&o.PopulationDensity, &o.WaterAccessPct, &o.SanitationScore, &o.MobilityIndex, &o.ClinicReports,
		&o.RiskScore,
	}
	for i, dst := range targets {
		if dst == nil {
			continue
		}
		raw := rec[cols[i]]
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return o, fmt.Errorf("column %s: invalid number %q", Header[i], raw)
		}
		*dst = v
	}
	if err := domain.ValidateCoordinates(o.Lat, o.Lon); err != nil {
		return o, err
	}
	return o, nil
}

// PredictionHeader lists the scored-points export columns.
var PredictionHeader = []string{"id", "lat", "lon", "date", "score", "interval_lower", "interval_upper"}

// WritePredictionsCSV exports scored points. Absent interval bounds are
// written as empty cells.
func WritePredictionsCSV(w io.Writer, preds []domain.Prediction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(PredictionHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	opt := func(v *float64) string {
		if v == nil {
			return ""
		}
		return f(*v)
	}
	for i, p := range preds {
		row := []string{p.ID, f(p.Lat), f(p.Lon), p.Date, f(p.Score), opt(p.Lower), opt(p.Upper)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadQueriesCSV reads score requests with lat and lon columns and optional
// id and date columns. Rows without a date take defaultDate.
func ReadQueriesCSV(r io.Reader, defaultDate string) ([]domain.Query, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.InputErrorf("empty query file")
		}
		return nil, domain.InputErrorf("read header: %v", err)
	}
	index := map[string]int{"id": -1, "date": -1}
	for i, name := range header {
		index[name] = i
	}
	latCol, okLat := index["lat"]
	lonCol, okLon := index["lon"]
	if !okLat || !okLon {
		return nil, domain.InputErrorf("query file needs lat and lon columns")
	}
	cell := func(rec []string, col int) string {
		if col < 0 || col >= len(rec) {
			return ""
		}
		return rec[col]
	}

	var queries []domain.Query
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.InputErrorf("line %d: %v", line, err)
		}
		lat, err := strconv.ParseFloat(cell(rec, latCol), 64)
		if err != nil {
			return nil, domain.InputErrorf("line %d: invalid lat %q", line, cell(rec, latCol))
		}
		lon, err := strconv.ParseFloat(cell(rec, lonCol), 64)
		if err != nil {
			return nil, domain.InputErrorf("line %d: invalid lon %q", line, cell(rec, lonCol))
		}
		date := cell(rec, index["date"])
		if date == "" {
			date = defaultDate
		}
		queries = append(queries, domain.Query{ID: cell(rec, index["id"]), Lat: lat, Lon: lon, Date: date})
	}
	return queries, nil
}
