package config

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// laddersFile is the YAML layout of ADVISORY_LADDERS_FILE:
//
//	ladders:
//	  no2:
//	    - {lower: 0, upper: 40, level: good, guidance: "..."}
//	    - {lower: 40, level: poor, guidance: "..."}   # no upper = unbounded
type laddersFile struct {
	Ladders map[string][]bandEntry `yaml:"ladders"`
}

type bandEntry struct {
	Lower    float64  `yaml:"lower"`
	Upper    *float64 `yaml:"upper"`
	Level    string   `yaml:"level"`
	Guidance string   `yaml:"guidance"`
}

// LoadLadders returns the built-in advisory ladders, extended or overridden by
// the ladders in path. An empty path returns the built-ins unchanged.
func LoadLadders(path string) (*domain.Ladders, error) {
	ladders := domain.DefaultLadders()
	if path == "" {
		return ladders, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ladders file: %w", err)
	}
	return ParseLadders(data, ladders)
}

// ParseLadders decodes a ladders document and registers every ladder on top
// of base. Each ladder is validated for contiguity.
func ParseLadders(data []byte, base *domain.Ladders) (*domain.Ladders, error) {
	var doc laddersFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode ladders file: %w", err)
	}

	seen := make(map[string]string, len(doc.Ladders))
	for pollutant := range doc.Ladders {
		code := strings.ToLower(strings.TrimSpace(pollutant))
		if other, ok := seen[code]; ok {
			first, second := min(other, pollutant), max(other, pollutant)
			return nil, fmt.Errorf("ladders %q and %q both define %q", first, second, code)
		}
		seen[code] = pollutant
	}

	ladders := base
	for pollutant, entries := range doc.Ladders {
		ladder := make(domain.Ladder, 0, len(entries))
		for i, e := range entries {
			level, err := domain.ParseAdvisoryLevel(e.Level)
			if err != nil {
				return nil, fmt.Errorf("ladder %q band %d: %w", pollutant, i, err)
			}
			upper := math.Inf(1)
			if e.Upper != nil {
				upper = *e.Upper
			}
			ladder = append(ladder, domain.Band{Lower: e.Lower, Upper: upper, Level: level, Guidance: e.Guidance})
		}

		next, err := ladders.With(pollutant, ladder)
		if err != nil {
			return nil, err
		}
		ladders = next
	}
	return ladders, nil
}
