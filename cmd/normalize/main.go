// Command normalize reads a saved OpenAQ measurements payload, runs it through
// the same normalization and advisory classification as the service, and
// writes the result as JSON. It is used to build and refresh test fixtures.
//
// Usage:
//
//	go run ./cmd/normalize \
//	  -in internal/domain/testdata/openaq_measurements.json \
//	  -out normalized.json \
//	  -pollutant pm25
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// output is the document written to -out.
type output struct {
	Report  domain.Report        `json:"report"`
	Skipped []domain.Skipped     `json:"skipped"`
	Hourly  []domain.HourlyPoint `json:"hourly"`
	Pivot   []domain.LocationRow `json:"by_location"`
	Ladder  domain.Ladder        `json:"ladder,omitempty"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	in := flag.String("in", "", "path to an OpenAQ measurements JSON payload")
	out := flag.String("out", "", "output path for the normalized JSON")
	pollutant := flag.String("pollutant", "pm25", "parameter to summarize and classify")
	location := flag.String("location", "", "location name recorded on the report")
	laddersFile := flag.String("ladders", "", "optional YAML file of extra advisory ladders")
	generatedAt := flag.String("generated-at", "2024-01-15T12:30:00Z", "fixed report timestamp (RFC3339) for reproducible output")
	flag.Parse()

	if *in == "" || *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -in, -out")
	}

	ts, err := time.Parse(time.RFC3339, *generatedAt)
	if err != nil {
		return fmt.Errorf("invalid -generated-at: %w", err)
	}
	domain.SetClock(clockwork.NewFakeClockAt(ts))
	defer domain.SetClock(nil)

	ladders, err := config.LoadLadders(*laddersFile)
	if err != nil {
		return err
	}

	body, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	raw, err := domain.DecodeResults(body)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	series, skipped := domain.Normalize(raw)
	q := domain.Query{Location: *location, Parameter: *pollutant}
	report := domain.BuildReport(q, series, ladders)
	ladder, _ := ladders.Ladder(*pollutant)

	doc := output{
		Report:  report,
		Skipped: skipped,
		Hourly:  series.HourlyMeans(*pollutant),
		Pivot:   series.PivotByLocation(),
		Ladder:  ladder,
	}
	if err := writeJSON(*out, doc); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	log.Printf("wrote %s", *out)

	printStats(len(raw), series, skipped, report)
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(received int, series domain.MeasurementSeries, skipped []domain.Skipped, report domain.Report) {
	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Received: %d, kept: %d, skipped: %d\n", received, len(series), len(skipped))

	reasons := map[domain.SkipReason][]int{}
	for _, s := range skipped {
		reasons[s.Reason] = append(reasons[s.Reason], s.Index)
	}
	keys := make([]string, 0, len(reasons))
	for r := range reasons {
		keys = append(keys, string(r))
	}
	slices.Sort(keys)
	for _, r := range keys {
		fmt.Printf("  %s: indexes %v\n", r, reasons[domain.SkipReason(r)])
	}

	fmt.Println("By parameter:")
	for _, p := range series.Parameters() {
		s := series.Summarize(p)
		fmt.Printf("  %s: count=%d min=%g max=%g mean=%.3f\n", p, s.Count, s.Min, s.Max, s.Mean)
	}

	if report.Advisory != nil {
		fmt.Printf("Advisory: %s %g -> %s\n", report.Advisory.Pollutant, report.Advisory.Value, report.Advisory.Level)
	} else {
		fmt.Printf("Advisory: none (%s)\n", report.AdvisoryError)
	}
}
