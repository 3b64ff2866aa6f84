// Package dataset builds bootstrap training tables: synthetic observations
// from the covariate simulator, optional overlays from raster and climate
// sources, and CSV import/export.
package dataset

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/aqua-risk/internal/domain"
	"github.com/couchcryptid/aqua-risk/internal/simulate"
)

// Risk formula weights. Terms are dimensionless before scaling to 0–100.
const (
	heatwaveWeight   = 0.25
	floodWeight      = 0.30
	waterWeight      = 0.20
	sanitationWeight = 0.15
	mobilityWeight   = 0.10
	clinicWeight     = 0.10

	targetNoiseSD = 0.05
)

// Overlay replaces covariates of a synthesized point with values from an
// external source.
type Overlay interface {
	Apply(p *domain.CovariatePoint)
}

// Options controls bootstrap generation.
type Options struct {
	BBox      domain.BBox
	Start     time.Time
	End       time.Time
	Locations int
	// Samples is the number of rows when SamplesPerLocation is zero.
	Samples            int
	SamplesPerLocation int
	Overlays           []Overlay
}

// DefaultOptions returns 1200 rows over 60 locations in the default bbox
// between 2021-01-01 and 2023-12-31.
func DefaultOptions() Options {
	return Options{
		BBox:      domain.DefaultBBox,
		Start:     time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		Locations: 60,
		Samples:   1200,
	}
}

// Generate draws a location pool uniformly in the bbox, then for every row a
// location and a day in [Start, End) from rng. Covariates come from the
// simulator, overlays are applied in order, and the target is scored with
// Gaussian noise from rng. The same rng state yields the same table.
func Generate(rng *rand.Rand, opts Options) ([]domain.Observation, error) {
	if opts.Locations <= 0 {
		return nil, domain.InputErrorf("locations must be positive, got %d", opts.Locations)
	}
	total := opts.Samples
	if opts.SamplesPerLocation > 0 {
		total = opts.Locations * opts.SamplesPerLocation
	}
	if total <= 0 {
		return nil, domain.InputErrorf("sample count must be positive, got %d", total)
	}
	if opts.End.Before(opts.Start) {
		return nil, domain.InputErrorf("end date %s before start date %s",
			domain.FormatDate(opts.End), domain.FormatDate(opts.Start))
	}

	type location struct{ lat, lon float64 }
	locations := make([]location, opts.Locations)
	for i := range locations {
		locations[i] = location{
			lat: uniform(rng, opts.BBox.LatMin, opts.BBox.LatMax),
			lon: uniform(rng, opts.BBox.LonMin, opts.BBox.LonMax),
		}
	}

	days := max(int(opts.End.Sub(opts.Start).Hours()/24), 1)
	obs := make([]domain.Observation, 0, total)
	for range total {
		loc := locations[rng.IntN(len(locations))]
		date := opts.Start.AddDate(0, 0, rng.IntN(days))

		p := simulate.Covariates(loc.lat, loc.lon, date)
		for _, o := range opts.Overlays {
			o.Apply(&p)
		}
		obs = append(obs, domain.Observation{
			CovariatePoint: p,
			RiskScore:      RiskScore(p, rng.NormFloat64()*targetNoiseSD),
		})
	}
	return obs, nil
}

// RiskScore is the synthetic target: a weighted sum of heatwave, flood,
// water access deficit, sanitation deficit, mobility and clinic load, plus
// noise, scaled by 100 and clipped to [0, 100].
func RiskScore(p domain.CovariatePoint, noise float64) float64 {
	var heatwave float64
	if p.SST > 28 {
		heatwave = 1
	}
	lowWater := math.Max(0, (75-p.WaterAccessPct)/30)
	sanitation := math.Max(0, (70-p.SanitationScore)/40)

	raw := heatwaveWeight*heatwave +
		floodWeight*p.FloodInundation +
		waterWeight*lowWater +
		sanitationWeight*sanitation +
		mobilityWeight*p.MobilityIndex +
		clinicWeight*p.ClinicReports
	return domain.Clamp((raw+noise)*100, 0, 100)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
