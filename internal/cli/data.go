package cli

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqua-risk/internal/adapter/power"
	"github.com/couchcryptid/aqua-risk/internal/dataset"
	"github.com/couchcryptid/aqua-risk/internal/domain"
)

// dataFlags selects the training table: a CSV file, or a generated bootstrap
// dataset with optional overlays.
type dataFlags struct {
	path               string
	samples            int
	samplesPerLocation int
	locations          int
	seed               uint64
	rasterMock         bool
	climate            bool
}

func (f *dataFlags) register(cmd *cobra.Command, withPath bool) {
	if withPath {
		cmd.Flags().StringVar(&f.path, "data", "", "training CSV; a bootstrap dataset is generated when empty")
	}
	cmd.Flags().IntVar(&f.samples, "samples", 0, "bootstrap rows (default from DATASET_SAMPLES)")
	cmd.Flags().IntVar(&f.samplesPerLocation, "samples-per-location", 0, "bootstrap rows per location; overrides --samples")
	cmd.Flags().IntVar(&f.locations, "locations", 0, "bootstrap location pool size (default 60)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "bootstrap seed (default from DATASET_SEED)")
	cmd.Flags().BoolVar(&f.rasterMock, "raster-mock", false, "override chlorophyll and flood with the raster mock")
	cmd.Flags().BoolVar(&f.climate, "climate", false, "override precipitation and SST with the NASA POWER grid")
}

// observations reads the CSV at f.path or generates a bootstrap dataset.
func (a *app) observations(ctx context.Context, f *dataFlags) ([]domain.Observation, error) {
	if f.path != "" {
		file, err := os.Open(f.path)
		if err != nil {
			return nil, fmt.Errorf("open dataset: %w", err)
		}
		defer file.Close()
		obs, err := dataset.ReadCSV(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.path, err)
		}
		a.logger.Info("dataset loaded", "path", f.path, "rows", len(obs))
		return obs, nil
	}

	opts := dataset.DefaultOptions()
	opts.BBox = a.cfg.DatasetBBox
	opts.Samples = a.cfg.DatasetSamples
	if f.samples > 0 {
		opts.Samples = f.samples
	}
	if f.locations > 0 {
		opts.Locations = f.locations
	}
	opts.SamplesPerLocation = f.samplesPerLocation
	seed := a.cfg.DatasetSeed
	if f.seed != 0 {
		seed = f.seed
	}

	if f.rasterMock || a.cfg.RasterMockEnabled {
		opts.Overlays = append(opts.Overlays, dataset.RasterMock{BBox: opts.BBox})
	}
	if f.climate || a.cfg.PowerEnabled {
		grid, err := a.climateGrid(ctx, opts.BBox)
		if err != nil {
			return nil, err
		}
		opts.Start, opts.End = a.powerRange()
		opts.Overlays = append(opts.Overlays, grid)
	}

	obs, err := dataset.Generate(rand.New(rand.NewPCG(seed, seed)), opts)
	if err != nil {
		return nil, fmt.Errorf("generate dataset: %w", err)
	}
	a.logger.Info("bootstrap dataset generated",
		"rows", len(obs), "seed", seed, "overlays", len(opts.Overlays))
	return obs, nil
}

func (a *app) climateGrid(ctx context.Context, bbox domain.BBox) (*dataset.ClimateGrid, error) {
	client := power.NewClient(a.cfg.PowerTimeout, a.metrics, a.logger)
	src := power.NewCachedSource(client, a.cfg.PowerCacheSize, a.metrics)
	start, end := a.powerRange()

	readings, err := power.LoadOrFetchGrid(ctx, a.cfg.PowerCachePath, src, bbox, a.cfg.PowerGridSize, start, end, a.logger)
	if err != nil {
		return nil, fmt.Errorf("load climate grid: %w", err)
	}
	grid := dataset.NewClimateGrid(readings)
	a.logger.Info("climate overlay ready", "readings", len(readings), "days", grid.Days())
	return grid, nil
}

// powerRange falls back to the bootstrap defaults when the configured dates
// do not parse; config.Load validates them when the overlay is enabled.
func (a *app) powerRange() (start, end time.Time) {
	def := dataset.DefaultOptions()
	start, end = def.Start, def.End
	if t, err := domain.ParseDate(a.cfg.PowerStartDate); err == nil {
		start = t
	}
	if t, err := domain.ParseDate(a.cfg.PowerEndDate); err == nil {
		end = t
	}
	return start, end
}
