package airquality

import "time"

// Key identifies one row of the wide table.
// Two measurements share a row when all fields match.
type Key struct {
	MeasuredAt time.Time
	LocationID int64
	Unit       string
	City       string
	Country    string
	Latitude   float64
	Longitude  float64
	HasCoords  bool
}

// WideRow holds the pollutant values observed for one key.
// A pollutant missing from Values has no measurement at that key.
type WideRow struct {
	Key    Key
	Values map[Pollutant]float64
}

// Value returns the value for p and whether one is present.
func (r WideRow) Value(p Pollutant) (float64, bool) {
	v, ok := r.Values[p]
	return v, ok
}

// WideTable is the pivoted form of a LongTable.
type WideTable struct {
	// Pollutants is the column order. Every requested pollutant is present
	// even when no data was fetched for it.
	Pollutants []Pollutant
	Rows       []WideRow

	// Duplicates counts (key, pollutant) pairs seen more than once.
	// Only the first value is kept.
	Duplicates int
}

// Pivot reshapes long into one row per unique key with a column per pollutant.
// Rows are in first-appearance order. Pollutants found in the data but not in
// pollutants are appended to the column list so no value is lost.
func Pivot(long LongTable, pollutants []Pollutant) *WideTable {
	wide := &WideTable{
		Pollutants: append([]Pollutant(nil), pollutants...),
	}

	columns := make(map[Pollutant]bool, len(pollutants))
	for _, p := range pollutants {
		columns[p] = true
	}

	index := make(map[Key]int)
	for _, m := range long {
		if !columns[m.Pollutant] {
			columns[m.Pollutant] = true
			wide.Pollutants = append(wide.Pollutants, m.Pollutant)
		}

		key := m.Key()
		i, ok := index[key]
		if !ok {
			i = len(wide.Rows)
			index[key] = i
			wide.Rows = append(wide.Rows, WideRow{Key: key, Values: make(map[Pollutant]float64)})
		}

		row := wide.Rows[i]
		if _, exists := row.Values[m.Pollutant]; exists {
			wide.Duplicates++
			continue
		}
		row.Values[m.Pollutant] = m.Value
	}

	return wide
}

// Metadata projects long onto the key tuple and removes duplicates,
// keeping first-appearance order.
func Metadata(long LongTable) []Key {
	seen := make(map[Key]bool)
	keys := make([]Key, 0)
	for _, m := range long {
		key := m.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

// FinalTable is the output artifact: metadata rows with pollutant columns.
type FinalTable struct {
	Pollutants []Pollutant
	Rows       []WideRow
}

// Merge left-joins wide onto metadata on the key tuple. Every metadata row is
// kept. A metadata row without a pivot match gets no values.
func Merge(metadata []Key, wide *WideTable) *FinalTable {
	final := &FinalTable{
		Pollutants: wide.Pollutants,
		Rows:       make([]WideRow, 0, len(metadata)),
	}

	byKey := make(map[Key][]WideRow, len(wide.Rows))
	for _, row := range wide.Rows {
		byKey[row.Key] = append(byKey[row.Key], row)
	}

	for _, key := range metadata {
		matches, ok := byKey[key]
		if !ok {
			final.Rows = append(final.Rows, WideRow{Key: key, Values: map[Pollutant]float64{}})
			continue
		}
		for _, match := range matches {
			final.Rows = append(final.Rows, WideRow{Key: key, Values: match.Values})
		}
	}

	return final
}

// Reshape runs the pivot and the metadata join in one step.
func Reshape(long LongTable, pollutants []Pollutant) (*FinalTable, *WideTable) {
	wide := Pivot(long, pollutants)
	return Merge(Metadata(long), wide), wide
}
