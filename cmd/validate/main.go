// Command validate checks advisory ladders and measurement fixtures for the
// invariants the service relies on: ladder contiguity, and a normalized series
// that is sorted, unique, finite, lower-cased, and stable under
// renormalization. With -expected it also compares a cmd/normalize output
// against a fresh run.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -payload internal/domain/testdata/openaq_measurements.json \
//	  -ladders deploy/ladders.yaml \
//	  -expected normalized.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	payload := flag.String("payload", "", "path to an OpenAQ measurements JSON payload")
	laddersFile := flag.String("ladders", "", "optional YAML file of extra advisory ladders")
	expected := flag.String("expected", "", "optional cmd/normalize output to compare against")
	pollutant := flag.String("pollutant", "pm25", "parameter classified in the expected output")
	flag.Parse()

	if *payload == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*payload, *laddersFile, *expected, *pollutant); code != 0 {
		os.Exit(code)
	}
}

func run(payloadPath, laddersPath, expectedPath, pollutant string) int {
	// Fixed clock matching cmd/normalize's default.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2024, time.January, 15, 12, 30, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	fmt.Println("=== Air Quality Data Validation ===")
	fmt.Println()

	ladders, err := config.LoadLadders(laddersPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load ladders: %v\n", err)
		return 1
	}

	body, err := os.ReadFile(payloadPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read payload: %v\n", err)
		return 1
	}
	raw, err := domain.DecodeResults(body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: decode payload: %v\n", err)
		return 1
	}

	series, skipped := domain.Normalize(raw)

	phases := []*phase{
		validateLadders(ladders),
		validateAccounting(raw, series, skipped),
		validateSeries(series),
		validateIdempotence(series),
	}
	if expectedPath != "" {
		phases = append(phases, validateExpected(expectedPath, series, skipped, ladders, pollutant))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d raw, %d kept, %d skipped; ladders: %s\n",
		len(raw), len(series), len(skipped), strings.Join(ladders.Pollutants(), ", "))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Ladders ──
// Every ladder is contiguous and each band edge classifies into that band.

func validateLadders(ladders *domain.Ladders) *phase {
	p := &phase{name: "Phase 1: Advisory Ladders"}

	for _, pollutant := range ladders.Pollutants() {
		ladder, _ := ladders.Ladder(pollutant)
		if err := ladder.Validate(); err != nil {
			p.errorf("%s: %v", pollutant, err)
			continue
		}
		for i, b := range ladder {
			checkLevel(p, ladders, pollutant, b.Lower, b.Level, fmt.Sprintf("band %d lower edge", i))
			if !math.IsInf(b.Upper, 1) {
				below := math.Nextafter(b.Upper, b.Lower)
				checkLevel(p, ladders, pollutant, below, b.Level, fmt.Sprintf("band %d just below upper edge", i))
			}
		}
		if _, err := ladders.Classify(pollutant, -1); err == nil {
			p.errorf("%s: negative value classified without error", pollutant)
		}
	}
	return p
}

func checkLevel(p *phase, ladders *domain.Ladders, pollutant string, v float64, want domain.AdvisoryLevel, where string) {
	a, err := ladders.Classify(pollutant, v)
	if err != nil {
		p.errorf("%s %s (%g): %v", pollutant, where, v, err)
		return
	}
	if a.Level != want {
		p.errorf("%s %s (%g): got %s, want %s", pollutant, where, v, a.Level, want)
	}
}

// ── Phase 2: Accounting ──
// Every raw record is either kept or skipped exactly once.

func validateAccounting(raw []domain.RawMeasurement, series domain.MeasurementSeries, skipped []domain.Skipped) *phase {
	p := &phase{name: "Phase 2: Record Accounting"}

	if len(series)+len(skipped) != len(raw) {
		p.errorf("kept %d + skipped %d != received %d", len(series), len(skipped), len(raw))
	}
	seen := map[int]bool{}
	for _, s := range skipped {
		if s.Index < 0 || s.Index >= len(raw) {
			p.errorf("skipped index %d out of range", s.Index)
		}
		if seen[s.Index] {
			p.errorf("index %d skipped twice", s.Index)
		}
		seen[s.Index] = true
		if s.Reason == "" {
			p.errorf("index %d skipped without a reason", s.Index)
		}
	}
	return p
}

// ── Phase 3: Series Invariants ──

func validateSeries(series domain.MeasurementSeries) *phase {
	p := &phase{name: "Phase 3: Series Invariants"}

	type identity struct {
		location, parameter string
		ts                  int64
	}
	seen := map[identity]bool{}

	for i, m := range series {
		if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			p.errorf("measurement %d: non-finite value %g", i, m.Value)
		}
		if m.Parameter != strings.ToLower(strings.TrimSpace(m.Parameter)) {
			p.errorf("measurement %d: parameter %q not lower-cased", i, m.Parameter)
		}
		if m.Timestamp.Location() != time.UTC {
			p.errorf("measurement %d: timestamp %s not UTC", i, m.Timestamp)
		}

		id := identity{m.Location, m.Parameter, m.Timestamp.UnixNano()}
		if seen[id] {
			p.errorf("measurement %d: duplicate (%s, %s, %s)", i, m.Location, m.Parameter, m.Timestamp.Format(time.RFC3339))
		}
		seen[id] = true

		if i > 0 && m.Timestamp.Before(series[i-1].Timestamp) {
			p.errorf("measurement %d: timestamp %s before previous %s", i,
				m.Timestamp.Format(time.RFC3339), series[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return p
}

// ── Phase 4: Idempotence ──

func validateIdempotence(series domain.MeasurementSeries) *phase {
	p := &phase{name: "Phase 4: Renormalization Idempotence"}

	again, skipped := domain.Normalize(series.ToRaw())
	if len(skipped) > 0 {
		p.errorf("renormalization skipped %d records", len(skipped))
	}
	if diff := cmp.Diff(series, again); diff != "" {
		p.errorf("renormalized series differs (-first +second):\n%s", diff)
	}
	return p
}

// ── Phase 5: Expected Output ──
// Compares a saved cmd/normalize document against a fresh run.

type expectedDoc struct {
	Report  domain.Report    `json:"report"`
	Skipped []domain.Skipped `json:"skipped"`
}

func validateExpected(path string, series domain.MeasurementSeries, skipped []domain.Skipped, ladders *domain.Ladders, pollutant string) *phase {
	p := &phase{name: "Phase 5: Expected Output"}

	data, err := os.ReadFile(path)
	if err != nil {
		p.errorf("read: %v", err)
		return p
	}
	var doc expectedDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		p.errorf("decode: %v", err)
		return p
	}

	if diff := cmp.Diff(series, doc.Report.Series); diff != "" {
		p.errorf("series mismatch (-fresh +expected):\n%s", diff)
	}
	if diff := cmp.Diff(skipped, doc.Skipped); diff != "" {
		p.errorf("skipped mismatch (-fresh +expected):\n%s", diff)
	}

	fresh := domain.BuildReport(doc.Report.Query, series, ladders)
	switch {
	case fresh.Advisory == nil && doc.Report.Advisory != nil:
		p.errorf("%s: expected advisory %s, fresh run has none (%s)", pollutant, doc.Report.Advisory.Level, fresh.AdvisoryError)
	case fresh.Advisory != nil && doc.Report.Advisory == nil:
		p.errorf("%s: fresh advisory %s, expected none", pollutant, fresh.Advisory.Level)
	case fresh.Advisory != nil && fresh.Advisory.Level != doc.Report.Advisory.Level:
		p.errorf("%s: advisory level: expected %s, got %s", pollutant, doc.Report.Advisory.Level, fresh.Advisory.Level)
	}
	return p
}
