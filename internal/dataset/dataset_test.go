package dataset

import (
	"bytes"
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqua-risk/internal/domain"
	"github.com/couchcryptid/aqua-risk/internal/simulate"
)

func smallOptions() Options {
	opts := DefaultOptions()
	opts.Locations = 8
	opts.Samples = 50
	return opts
}

func TestGenerate_Deterministic(t *testing.T) {
	a, err := Generate(rand.New(rand.NewPCG(42, 42)), smallOptions())
	require.NoError(t, err)
	b, err := Generate(rand.New(rand.NewPCG(42, 42)), smallOptions())
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed produced different tables (-a +b):\n%s", diff)
	}

	c, err := Generate(rand.New(rand.NewPCG(7, 7)), smallOptions())
	require.NoError(t, err)
	assert.NotEqual(t, a[0].Lat, c[0].Lat)
}

func TestGenerate_Shape(t *testing.T) {
	opts := smallOptions()
	obs, err := Generate(rand.New(rand.NewPCG(1, 1)), opts)
	require.NoError(t, err)
	require.Len(t, obs, 50)

	locations := make(map[[2]float64]bool)
	for _, o := range obs {
		locations[[2]float64{o.Lat, o.Lon}] = true
		assert.GreaterOrEqual(t, o.Lat, opts.BBox.LatMin)
		assert.Less(t, o.Lat, opts.BBox.LatMax)
		assert.GreaterOrEqual(t, o.Lon, opts.BBox.LonMin)
		assert.Less(t, o.Lon, opts.BBox.LonMax)
		assert.False(t, o.Date.Before(opts.Start))
		assert.True(t, o.Date.Before(opts.End))
		assert.GreaterOrEqual(t, o.RiskScore, 0.0)
		assert.LessOrEqual(t, o.RiskScore, 100.0)
	}
	assert.LessOrEqual(t, len(locations), opts.Locations)
}

func TestGenerate_CovariatesMatchSimulator(t *testing.T) {
	obs, err := Generate(rand.New(rand.NewPCG(3, 3)), smallOptions())
	require.NoError(t, err)
	for _, o := range obs[:5] {
		assert.Equal(t, simulate.Covariates(o.Lat, o.Lon, o.Date), o.CovariatePoint)
	}
}

func TestGenerate_SamplesPerLocation(t *testing.T) {
	opts := smallOptions()
	opts.SamplesPerLocation = 3
	obs, err := Generate(rand.New(rand.NewPCG(1, 1)), opts)
	require.NoError(t, err)
	assert.Len(t, obs, 24)
}

func TestGenerate_AppliesOverlays(t *testing.T) {
	opts := smallOptions()
	mock := RasterMock{BBox: opts.BBox}
	opts.Overlays = []Overlay{mock}

	obs, err := Generate(rand.New(rand.NewPCG(5, 5)), opts)
	require.NoError(t, err)
	for _, o := range obs[:5] {
		assert.Equal(t, mock.Chlorophyll(o.CovariatePoint), o.ChlorophyllA)
		assert.Equal(t, mock.FloodExtent(o.CovariatePoint), o.FloodInundation)
	}
}

func TestGenerate_InvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no locations", func(o *Options) { o.Locations = 0 }},
		{"no samples", func(o *Options) { o.Samples = 0 }},
		{"reversed dates", func(o *Options) { o.Start, o.End = o.End, o.Start }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := smallOptions()
			tc.mutate(&opts)
			_, err := Generate(rand.New(rand.NewPCG(1, 1)), opts)
			assert.ErrorIs(t, err, domain.ErrInput)
		})
	}
}

func TestRiskScore(t *testing.T) {
	p := domain.CovariatePoint{
		SST:             29,
		FloodInundation: 0.5,
		WaterAccessPct:  60,
		SanitationScore: 50,
		MobilityIndex:   1,
		ClinicReports:   2,
	}
	// 0.25 + 0.15 + 0.1 + 0.075 + 0.1 + 0.2
	assert.InDelta(t, 87.5, RiskScore(p, 0), 1e-9)
	assert.InDelta(t, 92.5, RiskScore(p, 0.05), 1e-9)

	p.ClinicReports = 6
	assert.Equal(t, 100.0, RiskScore(p, 0))

	calm := domain.CovariatePoint{SST: 20, WaterAccessPct: 90, SanitationScore: 90}
	assert.Equal(t, 0.0, RiskScore(calm, -0.1))
}

func TestRasterMock(t *testing.T) {
	mock := RasterMock{BBox: domain.DefaultBBox}
	p := domain.CovariatePoint{Lat: -10, Lon: 20, Date: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)}

	phase := 2 * math.Pi / 365.0
	assert.InDelta(t, math.Min(1, 0.7+0.3*math.Cos(phase)), mock.FloodExtent(p), 1e-12)
	assert.Equal(t, mock.Chlorophyll(p), mock.Chlorophyll(p))

	rng := rand.New(rand.NewPCG(9, 9))
	for range 500 {
		q := domain.CovariatePoint{
			Lat:  rng.Float64()*20 - 10,
			Lon:  rng.Float64()*30 + 20,
			Date: p.Date.AddDate(0, 0, rng.IntN(1000)),
		}
		c, f := mock.Chlorophyll(q), mock.FloodExtent(q)
		assert.True(t, c >= 0.05 && c <= 2.5, "chlorophyll %v", c)
		assert.True(t, f >= 0 && f <= 1, "flood %v", f)
	}
}

func TestClimateGrid(t *testing.T) {
	day := time.Date(2022, 1, 10, 0, 0, 0, 0, time.UTC)
	grid := NewClimateGrid([]domain.ClimateReading{
		{Date: day, Lat: 0, Lon: 0, Precip: 10, AirTemp: 26},
		{Date: day, Lat: 0, Lon: 2, Precip: 30, AirTemp: math.NaN()},
		{Date: day.AddDate(0, 0, 1), Lat: 0, Lon: 0, Precip: 99, AirTemp: 99},
	})
	assert.Equal(t, 2, grid.Days())

	t.Run("midpoint averages equally", func(t *testing.T) {
		p := domain.CovariatePoint{Lat: 0, Lon: 1, Date: day, Precipitation: 1, SST: 1}
		grid.Apply(&p)
		assert.InDelta(t, 20.0, p.Precipitation, 1e-9)
		assert.InDelta(t, 26.0, p.SST, 1e-9, "NaN reading drops out")
	})
	t.Run("nearby reading dominates", func(t *testing.T) {
		p := domain.CovariatePoint{Lat: 0, Lon: 0, Date: day}
		grid.Apply(&p)
		assert.InDelta(t, 10.0, p.Precipitation, 0.05)
	})
	t.Run("day without readings unchanged", func(t *testing.T) {
		p := domain.CovariatePoint{Lat: 0, Lon: 0, Date: day.AddDate(0, 0, 5), Precipitation: 7, SST: 25}
		grid.Apply(&p)
		assert.Equal(t, 7.0, p.Precipitation)
		assert.Equal(t, 25.0, p.SST)
	})
}

func TestCSV_RoundTrip(t *testing.T) {
	obs, err := Generate(rand.New(rand.NewPCG(2, 2)), smallOptions())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, obs))
	assert.True(t, strings.HasPrefix(buf.String(), strings.Join(Header, ",")+"\n"))

	back, err := ReadCSV(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(obs, back); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadCSV_ReorderedAndExtraColumns(t *testing.T) {
	data := "risk_score,extra,date,lon,lat,sst,chlor_a,precip,flood_inundation,drought_index," +
		"population_density,water_access_pct,sanitation_score,mobility_index,clinic_reports\n" +
		"42.5,x,2022-06-15,30,0,25,0.5,80,0.1,0,300,70,65,1,0.5\n"

	obs, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, 42.5, obs[0].RiskScore)
	assert.Equal(t, 30.0, obs[0].Lon)
	assert.Equal(t, 80.0, obs[0].Precipitation)
	assert.Equal(t, "2022-06-15", domain.FormatDate(obs[0].Date))
}

func TestReadCSV_Errors(t *testing.T) {
	header := strings.Join(Header, ",") + "\n"
	good := "0,30,2022-06-15,25,0.5,80,0.1,0,300,70,65,1,0.5,42\n"
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{"empty", "", "empty dataset"},
		{"missing column", strings.Replace(header, ",risk_score", "", 1) + good, `"risk_score"`},
		{"bad number", header + strings.Replace(good, "80", "eighty", 1), "line 2"},
		{"nan value", header + good + strings.Replace(good, "80", "NaN", 1), "line 3"},
		{"bad date", header + strings.Replace(good, "2022-06-15", "15/06/2022", 1), "line 2"},
		{"bad latitude", header + strings.Replace(good, "0,30", "95,30", 1), "latitude"},
		{"short row", header + "0,30\n", "line 2"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tc.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInput)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestWritePredictionsCSV(t *testing.T) {
	lo, hi := 10.0, 30.5
	preds := []domain.Prediction{
		{ID: "a", Lat: 1, Lon: 30, Date: "2022-01-01", Score: 20, Lower: &lo, Upper: &hi},
		{ID: "b", Lat: 2, Lon: 31, Date: "2022-01-02", Score: 5},
	}
	var buf bytes.Buffer
	require.NoError(t, WritePredictionsCSV(&buf, preds))

	want := "id,lat,lon,date,score,interval_lower,interval_upper\n" +
		"a,1,30,2022-01-01,20,10,30.5\n" +
		"b,2,31,2022-01-02,5,,\n"
	assert.Equal(t, want, buf.String())
}

func TestReadQueriesCSV(t *testing.T) {
	data := "lat,lon,date,id\n1.5,30,2022-06-15,a\n-2,31,,b\n"
	got, err := ReadQueriesCSV(strings.NewReader(data), "2024-03-01")
	require.NoError(t, err)
	want := []domain.Query{
		{ID: "a", Lat: 1.5, Lon: 30, Date: "2022-06-15"},
		{ID: "b", Lat: -2, Lon: 31, Date: "2024-03-01"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("queries mismatch (-want +got):\n%s", diff)
	}

	got, err = ReadQueriesCSV(strings.NewReader("lon,lat\n30,1\n"), "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, []domain.Query{{Lat: 1, Lon: 30, Date: "2024-03-01"}}, got)
}

func TestReadQueriesCSV_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":       "",
		"missing lon": "lat,date\n1,2022-01-01\n",
		"bad lat":     "lat,lon\nnorth,30\n",
		"short row":   "lat,lon\n1\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadQueriesCSV(strings.NewReader(data), "2024-03-01")
			assert.ErrorIs(t, err, domain.ErrInput)
		})
	}
}
