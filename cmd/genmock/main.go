// Command genmock writes deterministic mock fixtures: a bootstrap training
// table as CSV and a JSON array of score requests drawn from the same
// locations and days, suitable for publishing to the request topic.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -csv-out data/mock/training.csv \
//	  -requests-out data/mock/score_requests.json \
//	  -samples 2000 -seed 42
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/couchcryptid/aqua-risk/internal/artifact"
	"github.com/couchcryptid/aqua-risk/internal/dataset"
	"github.com/couchcryptid/aqua-risk/internal/domain"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("genmock", flag.ContinueOnError)
	csvOut := fs.String("csv-out", "", "output path for the training CSV fixture")
	requestsOut := fs.String("requests-out", "", "output path for the score request JSON fixture")
	samples := fs.Int("samples", 2000, "number of training rows")
	requests := fs.Int("requests", 100, "number of score requests")
	seed := fs.Uint64("seed", 42, "generator seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *csvOut == "" || *requestsOut == "" {
		fs.Usage()
		return fmt.Errorf("missing required flags: -csv-out, -requests-out")
	}

	opts := dataset.DefaultOptions()
	opts.Samples = *samples
	obs, err := dataset.Generate(rand.New(rand.NewPCG(*seed, *seed)), opts)
	if err != nil {
		return fmt.Errorf("generate dataset: %w", err)
	}

	if err := writeCSV(*csvOut, obs); err != nil {
		return fmt.Errorf("writing training fixture: %w", err)
	}
	log.Printf("wrote training fixture: %s (%d rows)", *csvOut, len(obs))

	reqs := requestsFrom(obs, *requests)
	if err := artifact.WriteJSON(*requestsOut, reqs); err != nil {
		return fmt.Errorf("writing request fixture: %w", err)
	}
	log.Printf("wrote request fixture: %s (%d requests)", *requestsOut, len(reqs))

	printStats(stdout, obs)
	return nil
}

func writeCSV(path string, obs []domain.Observation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := dataset.WriteCSV(f, obs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// requestsFrom takes every k-th observation so requests span the table.
func requestsFrom(obs []domain.Observation, n int) []domain.Query {
	if n <= 0 || len(obs) == 0 {
		return nil
	}
	n = min(n, len(obs))
	step := len(obs) / n
	out := make([]domain.Query, 0, n)
	for i := range n {
		o := obs[i*step]
		out = append(out, domain.Query{
			ID:   "req-" + strconv.Itoa(i),
			Lat:  o.Lat,
			Lon:  o.Lon,
			Date: domain.FormatDate(o.Date),
		})
	}
	return out
}

// statsResult holds aggregated counts for printStats reporting.
type statsResult struct {
	yearCounts map[int]int
	bandCounts map[string]int
	locations  int
	meanScore  float64
}

func collectStats(obs []domain.Observation) statsResult {
	s := statsResult{yearCounts: map[int]int{}, bandCounts: map[string]int{}}
	seen := map[[2]float64]bool{}
	var total float64
	for i := range obs {
		s.yearCounts[obs[i].Date.Year()]++
		s.bandCounts[band(obs[i].RiskScore)]++
		seen[[2]float64{obs[i].Lat, obs[i].Lon}] = true
		total += obs[i].RiskScore
	}
	s.locations = len(seen)
	if len(obs) > 0 {
		s.meanScore = total / float64(len(obs))
	}
	return s
}

func band(score float64) string {
	switch {
	case score < 25:
		return "low"
	case score < 50:
		return "moderate"
	case score < 75:
		return "high"
	default:
		return "severe"
	}
}

func printStats(w io.Writer, obs []domain.Observation) {
	s := collectStats(obs)
	fmt.Fprintf(w, "rows: %d, locations: %d, mean risk score: %.2f\n", len(obs), s.locations, s.meanScore)

	years := make([]int, 0, len(s.yearCounts))
	for y := range s.yearCounts {
		years = append(years, y)
	}
	sort.Ints(years)
	for _, y := range years {
		fmt.Fprintf(w, "  %d: %d\n", y, s.yearCounts[y])
	}
	for _, b := range []string{"low", "moderate", "high", "severe"} {
		fmt.Fprintf(w, "  %-8s %d\n", b, s.bandCounts[b])
	}
}
