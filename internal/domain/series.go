package domain

import (
	"cmp"
	"maps"
	"math"
	"slices"
	"time"
)

// Filter returns the readings matching parameter and location. An empty
// argument matches anything.
func (s MeasurementSeries) Filter(parameter, location string) MeasurementSeries {
	parameter = normalizeParameter(parameter)
	out := make(MeasurementSeries, 0, len(s))
	for _, m := range s {
		if parameter != "" && m.Parameter != parameter {
			continue
		}
		if location != "" && m.Location != location {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Values returns the values for parameter in time order.
func (s MeasurementSeries) Values(parameter string) []float64 {
	f := s.Filter(parameter, "")
	values := make([]float64, len(f))
	for i, m := range f {
		values[i] = m.Value
	}
	return values
}

// Latest returns the most recent reading for parameter.
func (s MeasurementSeries) Latest(parameter string) (Measurement, bool) {
	parameter = normalizeParameter(parameter)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Parameter == parameter {
			return s[i], true
		}
	}
	return Measurement{}, false
}

// Summary holds descriptive statistics for one parameter.
type Summary struct {
	Parameter string    `json:"parameter"`
	Count     int       `json:"count"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Mean      float64   `json:"mean"`
	First     time.Time `json:"first"`
	Last      time.Time `json:"last"`
}

// Summarize computes statistics for parameter. Count is 0 when there is no data.
func (s MeasurementSeries) Summarize(parameter string) Summary {
	sum := Summary{Parameter: normalizeParameter(parameter)}
	var total float64
	for _, m := range s.Filter(parameter, "") {
		if sum.Count == 0 {
			sum.Min, sum.Max = m.Value, m.Value
			sum.First = m.Timestamp
		}
		sum.Min = math.Min(sum.Min, m.Value)
		sum.Max = math.Max(sum.Max, m.Value)
		sum.Last = m.Timestamp
		total += m.Value
		sum.Count++
	}
	if sum.Count > 0 {
		sum.Mean = total / float64(sum.Count)
	}
	return sum
}

// HourlyPoint is one hour of a resampled series. Filled marks hours with no
// readings that carry the previous hour's mean forward.
type HourlyPoint struct {
	Hour   time.Time `json:"hour"`
	Mean   float64   `json:"mean"`
	Count  int       `json:"count"`
	Filled bool      `json:"filled,omitempty"`
}

// HourlyWindow is the most hours HourlyMeans returns, counted back from the
// hour of the latest reading.
const HourlyWindow = 24

// HourlyMeans resamples parameter into consecutive UTC hours covering at most
// the HourlyWindow hours up to the last reading. Empty hours are
// forward-filled; readings older than the window are ignored.
func (s MeasurementSeries) HourlyMeans(parameter string) []HourlyPoint {
	f := s.Filter(parameter, "")
	if len(f) == 0 {
		return nil
	}

	end := f[len(f)-1].Timestamp.UTC().Truncate(time.Hour)
	floor := end.Add(-(HourlyWindow - 1) * time.Hour)

	type bucket struct {
		sum   float64
		count int
	}
	buckets := make(map[time.Time]*bucket)
	start := end
	for _, m := range f {
		h := m.Timestamp.UTC().Truncate(time.Hour)
		if h.Before(floor) {
			continue
		}
		if h.Before(start) {
			start = h
		}
		b, ok := buckets[h]
		if !ok {
			b = &bucket{}
			buckets[h] = b
		}
		b.sum += m.Value
		b.count++
	}

	points := make([]HourlyPoint, 0, int(end.Sub(start)/time.Hour)+1)
	var prev float64
	for h := start; !h.After(end); h = h.Add(time.Hour) {
		b, ok := buckets[h]
		if !ok {
			points = append(points, HourlyPoint{Hour: h, Mean: prev, Filled: true})
			continue
		}
		prev = b.sum / float64(b.count)
		points = append(points, HourlyPoint{Hour: h, Mean: prev, Count: b.count})
	}
	return points
}

// PivotRow is one timestamp with the mean value of each parameter.
type PivotRow struct {
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// PivotByTime groups readings by timestamp. Several locations reporting the
// same parameter at the same instant are averaged.
func (s MeasurementSeries) PivotByTime() []PivotRow {
	var rows []PivotRow
	for i := 0; i < len(s); {
		j := i
		for j < len(s) && s[j].Timestamp.Equal(s[i].Timestamp) {
			j++
		}
		rows = append(rows, PivotRow{Timestamp: s[i].Timestamp, Values: means(s[i:j])})
		i = j
	}
	return rows
}

// LocationRow is one location with the mean value of each parameter.
type LocationRow struct {
	Location string             `json:"location"`
	Values   map[string]float64 `json:"values"`
}

// PivotByLocation groups readings by location, ordered by location name.
func (s MeasurementSeries) PivotByLocation() []LocationRow {
	groups := make(map[string]MeasurementSeries)
	for _, m := range s {
		groups[m.Location] = append(groups[m.Location], m)
	}
	rows := make([]LocationRow, 0, len(groups))
	for _, loc := range slices.Sorted(maps.Keys(groups)) {
		rows = append(rows, LocationRow{Location: loc, Values: means(groups[loc])})
	}
	return rows
}

// Parameters lists the distinct parameters in the series, sorted.
func (s MeasurementSeries) Parameters() []string {
	set := make(map[string]struct{})
	for _, m := range s {
		set[m.Parameter] = struct{}{}
	}
	return slices.SortedFunc(maps.Keys(set), cmp.Compare[string])
}

func means(s MeasurementSeries) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, m := range s {
		sums[m.Parameter] += m.Value
		counts[m.Parameter]++
	}
	out := make(map[string]float64, len(sums))
	for p, total := range sums {
		out[p] = total / float64(counts[p])
	}
	return out
}
