package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
)

var (
	// ErrUnknownPollutant means no advisory ladder is registered for the pollutant.
	ErrUnknownPollutant = errors.New("unknown pollutant")
	// ErrInvalidValue means the concentration is negative or not finite.
	ErrInvalidValue = errors.New("invalid value")
)

// AdvisoryLevel is an ordered health advisory category.
type AdvisoryLevel int

const (
	LevelGood AdvisoryLevel = iota
	LevelModerate
	LevelPoor
	LevelUnhealthy
	LevelHazardous
)

var levelNames = [...]string{"Good", "Moderate", "Poor", "Unhealthy", "Hazardous"}

func (l AdvisoryLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("AdvisoryLevel(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalText encodes the level by name.
func (l AdvisoryLevel) MarshalText() ([]byte, error) {
	if l < 0 || int(l) >= len(levelNames) {
		return nil, fmt.Errorf("marshal advisory level %d: out of range", int(l))
	}
	return []byte(levelNames[l]), nil
}

// UnmarshalText decodes a level name, case-insensitively.
func (l *AdvisoryLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseAdvisoryLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseAdvisoryLevel parses a level name such as "good" or "Hazardous".
func ParseAdvisoryLevel(s string) (AdvisoryLevel, error) {
	s = strings.TrimSpace(s)
	for i, name := range levelNames {
		if strings.EqualFold(name, s) {
			return AdvisoryLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown advisory level %q", s)
}

// Band is a closed-open concentration range [Lower, Upper) with its advisory.
type Band struct {
	Lower    float64
	Upper    float64
	Level    AdvisoryLevel
	Guidance string
}

// Contains reports whether v falls inside the band.
func (b Band) Contains(v float64) bool {
	return v >= b.Lower && v < b.Upper
}

// MarshalJSON writes an unbounded upper edge as null; JSON has no infinity.
func (b Band) MarshalJSON() ([]byte, error) {
	var upper *float64
	if !math.IsInf(b.Upper, 1) {
		upper = &b.Upper
	}
	return json.Marshal(struct {
		Lower    float64       `json:"lower"`
		Upper    *float64      `json:"upper"`
		Level    AdvisoryLevel `json:"level"`
		Guidance string        `json:"guidance"`
	}{b.Lower, upper, b.Level, b.Guidance})
}

// Ladder is an ordered list of contiguous bands covering [0, +Inf).
type Ladder []Band

// Validate checks the structural invariant of a ladder: it starts at 0, each
// band is non-empty and starts where the previous one ended, the last band is
// unbounded, and levels strictly increase.
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return errors.New("ladder has no bands")
	}
	if l[0].Lower != 0 {
		return fmt.Errorf("first band starts at %g, want 0", l[0].Lower)
	}
	for i, b := range l {
		if math.IsNaN(b.Lower) || math.IsNaN(b.Upper) || !(b.Lower < b.Upper) {
			return fmt.Errorf("band %d [%g, %g) is empty", i, b.Lower, b.Upper)
		}
		if i == 0 {
			continue
		}
		prev := l[i-1]
		if b.Lower != prev.Upper {
			return fmt.Errorf("band %d starts at %g but band %d ends at %g", i, b.Lower, i-1, prev.Upper)
		}
		if b.Level <= prev.Level {
			return fmt.Errorf("band %d level %s does not follow %s", i, b.Level, prev.Level)
		}
	}
	if last := l[len(l)-1]; !math.IsInf(last.Upper, 1) {
		return fmt.Errorf("last band ends at %g, want +Inf", last.Upper)
	}
	return nil
}

// band returns the band containing v. Validate guarantees exactly one exists
// for any finite non-negative v.
func (l Ladder) band(v float64) (Band, bool) {
	for _, b := range l {
		if b.Contains(v) {
			return b, true
		}
	}
	return Band{}, false
}

// Advisory is the classification of one concentration.
type Advisory struct {
	Pollutant string        `json:"pollutant"`
	Value     float64       `json:"value"`
	Level     AdvisoryLevel `json:"level"`
	Guidance  string        `json:"guidance"`
}

// Ladders is an immutable registry of advisory ladders keyed by pollutant code.
// It is safe for concurrent use.
type Ladders struct {
	ladders map[string]Ladder
}

// NewLadders validates and registers the given ladders. Pollutant codes are
// normalized to trimmed lower case.
func NewLadders(ladders map[string]Ladder) (*Ladders, error) {
	r := &Ladders{ladders: make(map[string]Ladder, len(ladders))}
	for pollutant, ladder := range ladders {
		if err := r.put(pollutant, ladder); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// With returns a copy of the registry with the ladder for pollutant added or
// replaced.
func (r *Ladders) With(pollutant string, ladder Ladder) (*Ladders, error) {
	next := &Ladders{ladders: maps.Clone(r.ladders)}
	if next.ladders == nil {
		next.ladders = make(map[string]Ladder, 1)
	}
	if err := next.put(pollutant, ladder); err != nil {
		return nil, err
	}
	return next, nil
}

func (r *Ladders) put(pollutant string, ladder Ladder) error {
	code := normalizeParameter(pollutant)
	if code == "" {
		return errors.New("register ladder: empty pollutant code")
	}
	if err := ladder.Validate(); err != nil {
		return fmt.Errorf("register ladder %q: %w", code, err)
	}
	r.ladders[code] = slices.Clone(ladder)
	return nil
}

// Pollutants lists the registered pollutant codes in sorted order.
func (r *Ladders) Pollutants() []string {
	return slices.Sorted(maps.Keys(r.ladders))
}

// Ladder returns a copy of the ladder registered for pollutant.
func (r *Ladders) Ladder(pollutant string) (Ladder, bool) {
	l, ok := r.ladders[normalizeParameter(pollutant)]
	if !ok {
		return nil, false
	}
	return slices.Clone(l), true
}

// Classify maps a concentration onto the pollutant's advisory ladder.
func (r *Ladders) Classify(pollutant string, value float64) (Advisory, error) {
	code := normalizeParameter(pollutant)
	ladder, ok := r.ladders[code]
	if !ok {
		return Advisory{}, fmt.Errorf("classify %q: %w", code, ErrUnknownPollutant)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return Advisory{}, fmt.Errorf("classify %q value %g: %w", code, value, ErrInvalidValue)
	}

	b, ok := ladder.band(value)
	if !ok {
		// Unreachable for validated ladders.
		return Advisory{}, fmt.Errorf("classify %q value %g: no band: %w", code, value, ErrInvalidValue)
	}
	return Advisory{
		Pollutant: code,
		Value:     value,
		Level:     b.Level,
		Guidance:  b.Guidance,
	}, nil
}

// Guidance texts shared by the built-in ladders.
const (
	GuidanceGood      = "No restriction; safe for outdoor activity."
	GuidanceModerate  = "Sensitive individuals should limit prolonged outdoor exertion."
	GuidancePoor      = "Reduce outdoor exercise; consider a mask."
	GuidanceUnhealthy = "Avoid outdoor exposure; use an N95-class mask if outdoors."
	GuidanceHazardous = "Stay indoors; use air purification if available."
)

// fiveBandLadder builds a Good..Hazardous ladder from its four inner
// boundaries.
func fiveBandLadder(b1, b2, b3, b4 float64) Ladder {
	inf := math.Inf(1)
	return Ladder{
		{Lower: 0, Upper: b1, Level: LevelGood, Guidance: GuidanceGood},
		{Lower: b1, Upper: b2, Level: LevelModerate, Guidance: GuidanceModerate},
		{Lower: b2, Upper: b3, Level: LevelPoor, Guidance: GuidancePoor},
		{Lower: b3, Upper: b4, Level: LevelUnhealthy, Guidance: GuidanceUnhealthy},
		{Lower: b4, Upper: inf, Level: LevelHazardous, Guidance: GuidanceHazardous},
	}
}

var defaultLadders = mustLadders(map[string]Ladder{
	"pm25": fiveBandLadder(50, 100, 200, 300),
	"pm10": fiveBandLadder(100, 250, 350, 430),
})

func mustLadders(m map[string]Ladder) *Ladders {
	r, err := NewLadders(m)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultLadders returns the built-in registry (pm25 and pm10, µg/m³).
func DefaultLadders() *Ladders {
	return defaultLadders
}

// Classify classifies a concentration using the built-in ladders.
func Classify(pollutant string, value float64) (Advisory, error) {
	return defaultLadders.Classify(pollutant, value)
}
