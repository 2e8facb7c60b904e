// Package votes normalizes the special-vote payloads (blank and null ballots)
// returned by the results API. The endpoint answers with several shapes
// depending on the station, so decoding is a closed set of recognized forms
// with a zero fallback.
package votes

import (
	"bytes"
	"encoding/json"

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
)

// Shape identifies which payload form was recognized.
type Shape int

// Recognized payload shapes.
const (
	// Absent covers a missing body or JSON null.
	Absent Shape = iota
	// Scalar is a bare number.
	Scalar
	// Items is a list of objects each carrying a votos field.
	Items
	// KeyedItems is an object whose resultados field is such a list.
	KeyedItems
	// KeyedVotes is an object with a votos field.
	KeyedVotes
	// Unrecognized is anything else; it counts as zero.
	Unrecognized
)

func (s Shape) String() string {
	switch s {
	case Absent:
		return "absent"
	case Scalar:
		return "scalar"
	case Items:
		return "items"
	case KeyedItems:
		return "keyed_items"
	case KeyedVotes:
		return "keyed_votes"
	default:
		return "unrecognized"
	}
}

// Tally is the decoded count together with the shape it came from.
type Tally struct {
	Shape Shape
	Total int64
}

// Decode classifies raw and extracts its vote total.
func Decode(raw json.RawMessage) Tally {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Tally{Shape: Absent}
	}

	switch {
	case crawler.IsNumber(trimmed):
		n, _ := crawler.Int(trimmed)
		return Tally{Shape: Scalar, Total: n}
	case trimmed[0] == '[':
		total, ok := sumItems(trimmed)
		if !ok {
			return Tally{Shape: Unrecognized}
		}
		return Tally{Shape: Items, Total: total}
	case trimmed[0] == '{':
		fields := crawler.Object(trimmed)
		if results, ok := fields["resultados"]; ok {
			total, ok := sumItems(results)
			if !ok {
				return Tally{Shape: Unrecognized}
			}
			return Tally{Shape: KeyedItems, Total: total}
		}
		if _, ok := fields["votos"]; ok {
			return Tally{Shape: KeyedVotes, Total: fields.Int("votos")}
		}
	}
	return Tally{Shape: Unrecognized}
}

// sumItems adds the votos field of every object in a JSON array. Entries that
// are not objects, or lack a numeric votos value, contribute zero.
func sumItems(raw json.RawMessage) (int64, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return 0, false
	}
	var total int64
	for _, item := range items {
		total += crawler.Object(item).Int("votos")
	}
	return total, true
}
