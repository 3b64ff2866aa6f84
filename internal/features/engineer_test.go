package features

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqua-risk/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func obsAt(lat, lon float64, d int, precip float64) domain.Observation {
	return domain.Observation{
		CovariatePoint: domain.CovariatePoint{
			Lat:             lat,
			Lon:             lon,
			Date:            day(d),
			SST:             25,
			ChlorophyllA:    0.5,
			Precipitation:   precip,
			FloodInundation: 0.1,
			DroughtIndex:    0.2,
		},
	}
}

func TestColumns_Order(t *testing.T) {
	want := []string{
		"lat", "lon", "sst", "chlor_a", "precip", "flood_inundation", "drought_index",
		"population_density", "water_access_pct", "sanitation_score", "mobility_index", "clinic_reports",
		"month", "season_sin", "season_cos", "heatwave", "post_flood", "heatwave_flood",
		"precip_7d_mean", "precip_14d_sum", "sst_7d_mean", "chlor_a_7d_mean", "flood_3d_max", "drought_30d_mean",
	}
	if diff := cmp.Diff(want, Columns()); diff != "" {
		t.Fatalf("column order mismatch (-want +got):\n%s", diff)
	}
}

func TestColumns_ReturnsCopy(t *testing.T) {
	cols := Columns()
	cols[0] = "mutated"
	assert.Equal(t, "lat", Columns()[0])
}

func TestEngineerOne_RollingEqualsRaw(t *testing.T) {
	r := EngineerOne(obsAt(0, 30, 10, 80).CovariatePoint)

	assert.InDelta(t, 80.0, r.Precip7dMean, 1e-12)
	assert.InDelta(t, 80.0, r.Precip14dSum, 1e-12)
	assert.InDelta(t, 25.0, r.SST7dMean, 1e-12)
	assert.InDelta(t, 0.5, r.Chlor7dMean, 1e-12)
	assert.InDelta(t, 0.1, r.Flood3dMax, 1e-12)
	assert.InDelta(t, 0.2, r.Drought30dMean, 1e-12)
}

func TestEngineer_RowLocalFeatures(t *testing.T) {
	tests := []struct {
		name          string
		sst, precip   float64
		flood         float64
		wantHeat      float64
		wantPostFlood float64
		wantInteract  float64
	}{
		{"calm", 25, 50, 0.4, 0, 0, 0},
		{"heatwave", 29, 50, 0.4, 1, 0, 0.4},
		{"threshold not strict", 28, 140, 0.4, 0, 0, 0},
		{"flood after rain", 25, 150, 0.9, 0, 1, 0},
		{"both", 30, 200, 0.7, 1, 1, 0.7},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := obsAt(0, 30, 0, tc.precip).CovariatePoint
			p.SST = tc.sst
			p.FloodInundation = tc.flood

			r := EngineerOne(p)
			assert.Equal(t, tc.wantHeat, r.Heatwave)
			assert.Equal(t, tc.wantPostFlood, r.PostFlood)
			assert.InDelta(t, tc.wantInteract, r.HeatwaveFlood, 1e-12)
		})
	}
}

func TestEngineer_Calendar(t *testing.T) {
	r := EngineerOne(obsAt(0, 30, 0, 10).CovariatePoint)

	assert.Equal(t, 1, r.Month)
	phase := 2 * math.Pi / 365.0
	assert.InDelta(t, math.Sin(phase), r.SeasonSin, 1e-12)
	assert.InDelta(t, math.Cos(phase), r.SeasonCos, 1e-12)
}

func TestEngineer_SpatialBinsRoundHalfEven(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.25, 0.2},
		{0.75, 0.8},
		{-0.25, -0.2},
		{1.04, 1.0},
		{1.06, 1.1},
	}
	for _, tc := range tests {
		assert.InDelta(t, tc.want, roundBin(tc.in), 1e-12, "bin of %v", tc.in)
	}
}

func TestEngineer_RollingWithinBin(t *testing.T) {
	var obs []domain.Observation
	for d := range 10 {
		obs = append(obs, obsAt(1, 30, d, float64(10*(d+1))))
	}

	recs, _ := Engineer(obs)
	require.Len(t, recs, 10)

	// Row 7 sees precip 20..80 in its 7-row window and 10..80 in its 14-row window.
	assert.InDelta(t, 50.0, recs[7].Precip7dMean, 1e-9)
	assert.InDelta(t, 360.0, recs[7].Precip14dSum, 1e-9)

	// Leading rows use the history they have.
	assert.InDelta(t, 15.0, recs[1].Precip7dMean, 1e-9)
	assert.InDelta(t, 30.0, recs[1].Precip14dSum, 1e-9)
}

func TestEngineer_FloodMaxWindow(t *testing.T) {
	floods := []float64{0.9, 0.1, 0.2, 0.3, 0.05}
	var obs []domain.Observation
	for d, f := range floods {
		o := obsAt(1, 30, d, 10)
		o.FloodInundation = f
		obs = append(obs, o)
	}

	recs, _ := Engineer(obs)
	got := make([]float64, len(recs))
	for i := range recs {
		got[i] = recs[i].Flood3dMax
	}
	assert.Equal(t, []float64{0.9, 0.9, 0.9, 0.3, 0.3}, got)
}

func TestEngineer_SortsStablyAndKeepsBinsApart(t *testing.T) {
	obs := []domain.Observation{
		obsAt(2, 30, 1, 100),
		obsAt(1, 30, 1, 10),
		obsAt(1, 31, 0, 500),
		obsAt(1, 30, 0, 20),
		obsAt(2, 30, 0, 200),
	}
	for i := range obs {
		obs[i].RiskScore = float64(i)
	}

	recs, cols := Engineer(obs)
	require.Len(t, recs, 5)
	assert.Equal(t, Columns(), cols)

	type key struct {
		lat, lon float64
		date     string
	}
	var got []key
	for _, r := range recs {
		got = append(got, key{r.LatBin, r.LonBin, domain.FormatDate(r.Date)})
	}
	want := []key{
		{1, 30, "2022-01-01"},
		{1, 30, "2022-01-02"},
		{1, 31, "2022-01-01"},
		{2, 30, "2022-01-01"},
		{2, 30, "2022-01-02"},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(key{})); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}

	// Targets travel with their rows.
	assert.Equal(t, 3.0, recs[0].Target)
	assert.Equal(t, 1.0, recs[1].Target)

	// The 1,31 bin does not see the neighbouring bin's rain.
	assert.InDelta(t, 500.0, recs[2].Precip14dSum, 1e-9)
	assert.InDelta(t, 30.0, recs[1].Precip14dSum, 1e-9)
}

func TestEngineer_DuplicateKeysKeepInputOrder(t *testing.T) {
	a := obsAt(1, 30, 0, 10)
	a.RiskScore = 1
	b := obsAt(1, 30, 0, 20)
	b.RiskScore = 2

	recs, _ := Engineer([]domain.Observation{a, b})
	assert.Equal(t, 1.0, recs[0].Target)
	assert.Equal(t, 2.0, recs[1].Target)
}

func TestEngineer_FillsGapsWithGlobalMean(t *testing.T) {
	obs := []domain.Observation{
		obsAt(1, 30, 0, 10),
		obsAt(1, 30, 1, 30),
		obsAt(5, 40, 0, math.NaN()),
	}

	recs, _ := Engineer(obs)
	require.Len(t, recs, 3)

	// Bin (1,30) yields means 10 and 20; the all-NaN bin takes their mean.
	assert.InDelta(t, 15.0, recs[2].Precip7dMean, 1e-9)
	// Sums over the same bin are 10 and 40.
	assert.InDelta(t, 25.0, recs[2].Precip14dSum, 1e-9)
	for _, r := range recs {
		for i, v := range r.Vector()[len(baseColumnNames()):] {
			assert.False(t, math.IsNaN(v), "engineered column %d is NaN", i)
		}
	}
}

func TestEngineer_Empty(t *testing.T) {
	recs, cols := Engineer(nil)
	assert.Empty(t, recs)
	assert.Len(t, cols, 24)
}

func TestRecord_VectorMatchesColumns(t *testing.T) {
	p := obsAt(-3.5, 33.25, 45, 150).CovariatePoint
	p.PopulationDensity = 400
	p.WaterAccessPct = 70
	p.SanitationScore = 60
	p.MobilityIndex = 1.2
	p.ClinicReports = 2
	r := EngineerOne(p)

	v := r.Vector()
	cols := Columns()
	require.Len(t, v, len(cols))

	byName := make(map[string]float64, len(cols))
	for i, c := range cols {
		byName[c] = v[i]
	}
	assert.Equal(t, -3.5, byName["lat"])
	assert.Equal(t, 33.25, byName["lon"])
	assert.Equal(t, 150.0, byName["precip"])
	assert.Equal(t, 400.0, byName["population_density"])
	assert.Equal(t, 2.0, byName["month"])
	assert.Equal(t, 1.0, byName["post_flood"])
	assert.Equal(t, 150.0, byName["precip_14d_sum"])
}

// baseColumnNames returns the raw covariate columns, which may carry NaN
// through to the vector.
func baseColumnNames() []string {
	return Columns()[:12]
}
