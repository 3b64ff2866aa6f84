package dataset

import (
	"crypto/md5" //nolint:gosec // seeding only, not security
	"encoding/binary"
	"fmt"
	"math"

	"github.com/couchcryptid/aqua-risk/internal/domain"
)

// RasterMock stands in for satellite chlorophyll and flood-extent rasters. It
// derives both fields from the point's position within BBox, the season and
// an MD5 hash of the key, so the same key always reads the same pixel.
type RasterMock struct {
	BBox domain.BBox
}

// Apply implements Overlay.
func (r RasterMock) Apply(p *domain.CovariatePoint) {
	p.ChlorophyllA = r.Chlorophyll(*p)
	p.FloodInundation = r.FloodExtent(*p)
}

// Chlorophyll returns the mock chlorophyll-a concentration in [0.05, 2.5].
func (r RasterMock) Chlorophyll(p domain.CovariatePoint) float64 {
	latN, lonN := r.BBox.Normalize(p.Lat, p.Lon)
	phase := 2 * math.Pi * float64(p.Date.YearDay()) / 365.0
	base := 0.4 + 0.6*latN + 0.2*lonN
	noise := (float64(rasterSeed(p)%1000)/1000.0 - 0.5) * 0.15
	return domain.Clamp(base+0.3*math.Sin(phase)+noise, 0.05, 2.5)
}

// FloodExtent returns the mock flooded fraction in [0, 1].
func (r RasterMock) FloodExtent(p domain.CovariatePoint) float64 {
	latN, lonN := r.BBox.Normalize(p.Lat, p.Lon)
	phase := 2 * math.Pi * float64(p.Date.YearDay()) / 365.0
	base := 0.2 + 0.5*(1-latN) + 0.2*lonN
	return domain.Clamp(base+0.3*math.Cos(phase), 0, 1)
}

func rasterSeed(p domain.CovariatePoint) uint32 {
	key := fmt.Sprintf("%.3f:%.3f:%s", p.Lat, p.Lon, domain.FormatDate(p.Date))
	sum := md5.Sum([]byte(key)) //nolint:gosec // seeding only, not security
	return binary.BigEndian.Uint32(sum[:4])
}

// idwEpsilon keeps a reading exactly at the point from dividing by zero.
const idwEpsilon = 1e-3

// ClimateGrid overrides precipitation and SST with an inverse-distance
// weighted average of the day's grid readings (weights 1/(d+0.001), d in
// degrees). Days without readings leave the point unchanged, and NaN values
// drop out of the average for their field.
type ClimateGrid struct {
	byDate map[string][]domain.ClimateReading
}

// NewClimateGrid indexes readings by day.
func NewClimateGrid(readings []domain.ClimateReading) *ClimateGrid {
	g := &ClimateGrid{byDate: make(map[string][]domain.ClimateReading)}
	for _, r := range readings {
		key := domain.FormatDate(r.Date)
		g.byDate[key] = append(g.byDate[key], r)
	}
	return g
}

// Days returns the number of distinct days covered.
func (g *ClimateGrid) Days() int {
	return len(g.byDate)
}

// Apply implements Overlay.
func (g *ClimateGrid) Apply(p *domain.CovariatePoint) {
	readings := g.byDate[domain.FormatDate(p.Date)]
	if len(readings) == 0 {
		return
	}
	if v, ok := idw(readings, p.Lat, p.Lon, func(r domain.ClimateReading) float64 { return r.Precip }); ok {
		p.Precipitation = v
	}
	if v, ok := idw(readings, p.Lat, p.Lon, func(r domain.ClimateReading) float64 { return r.AirTemp }); ok {
		p.SST = v
	}
}

func idw(readings []domain.ClimateReading, lat, lon float64, value func(domain.ClimateReading) float64) (float64, bool) {
	var num, den float64
	for _, r := range readings {
		v := value(r)
		if math.IsNaN(v) {
			continue
		}
		w := 1 / (math.Hypot(r.Lat-lat, r.Lon-lon) + idwEpsilon)
		num += w * v
		den += w
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}
