package simulate

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqua-risk/internal/domain"
)

func TestSeed(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		date     string
		want     uint32
	}{
		{"equator", 0.0, 30.0, "2022-06-15", 1748067665},
		{"southern", -3.5, 33.25, "2021-01-01", 1090455596},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, err := domain.ParseDate(tc.date)
			require.NoError(t, err)
			assert.Equal(t, tc.want, Seed(tc.lat, tc.lon, d))
		})
	}
}

func TestSeed_RoundsToFourDecimals(t *testing.T) {
	d := time.Date(2022, 6, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, Seed(1.23451, 30, d), Seed(1.23449, 30, d))
	assert.NotEqual(t, Seed(1.2345, 30, d), Seed(1.2346, 30, d))
}

func TestCovariates_Deterministic(t *testing.T) {
	first, err := CovariatesFor(0.0, 30.0, "2022-06-15")
	require.NoError(t, err)

	for range 5 {
		again, err := CovariatesFor(0.0, 30.0, "2022-06-15")
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("covariates changed between calls (-first +again):\n%s", diff)
		}
	}
}

func TestCovariates_IndependentOfCallOrder(t *testing.T) {
	d := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	a := Covariates(-2.1, 35.4, d)
	_ = Covariates(7.7, 22.0, d)
	_ = Covariates(-2.1, 35.4, d.AddDate(0, 0, 1))
	b := Covariates(-2.1, 35.4, d)
	assert.Equal(t, a, b)
}

func TestCovariates_DifferentKeysDiffer(t *testing.T) {
	d := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	a := Covariates(-2.1, 35.4, d)
	b := Covariates(-2.1, 35.4, d.AddDate(0, 0, 1))
	assert.NotEqual(t, a.SST, b.SST)
}

func TestCovariates_Ranges(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	start := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

	for range 2000 {
		lat := rng.Float64()*180 - 90
		lon := rng.Float64()*360 - 180
		d := start.AddDate(0, 0, rng.IntN(365*40))
		p := Covariates(lat, lon, d)

		assert.False(t, math.IsNaN(p.SST))
		assertWithin(t, "chlor_a", p.ChlorophyllA, ChlorophyllMin, ChlorophyllMax)
		assertWithin(t, "precip", p.Precipitation, PrecipitationMin, PrecipitationMax)
		assertWithin(t, "flood_inundation", p.FloodInundation, FloodMin, FloodMax)
		assertWithin(t, "drought_index", p.DroughtIndex, DroughtMin, DroughtMax)
		assertWithin(t, "population_density", p.PopulationDensity, PopulationMin, PopulationMax)
		assertWithin(t, "water_access_pct", p.WaterAccessPct, WaterAccessMin, WaterAccessMax)
		assertWithin(t, "sanitation_score", p.SanitationScore, SanitationMin, SanitationMax)
		assertWithin(t, "mobility_index", p.MobilityIndex, MobilityMin, MobilityMax)
		assertWithin(t, "clinic_reports", p.ClinicReports, ClinicMin, ClinicMax)
	}
}

func TestCovariates_CarriesKey(t *testing.T) {
	p, err := CovariatesFor(-1.5, 31.2, "2021-09-30")
	require.NoError(t, err)
	assert.Equal(t, -1.5, p.Lat)
	assert.Equal(t, 31.2, p.Lon)
	assert.Equal(t, "2021-09-30", domain.FormatDate(p.Date))
}

func TestCovariatesFor_InvalidDate(t *testing.T) {
	for _, bad := range []string{"", "2022/06/15", "15-06-2022", "2022-13-01", "2022-06-15T00:00:00Z"} {
		_, err := CovariatesFor(0, 30, bad)
		require.Error(t, err, bad)
		assert.ErrorIs(t, err, domain.ErrInput)
	}
}

func assertWithin(t *testing.T, name string, v, lo, hi float64) {
	t.Helper()
	if v < lo || v > hi || math.IsNaN(v) {
		t.Fatalf("%s = %v outside [%v, %v]", name, v, lo, hi)
	}
}
