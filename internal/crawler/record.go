package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ComputeTotals derives the valid and overall vote totals from the candidate
// lines and the special-vote counts. Upstream totals are never trusted.
func (r *Record) ComputeTotals() {
	var valid int64
	for _, c := range r.Candidates {
		valid += c.Votes
	}
	r.Stats.ValidVotes = valid
	r.Stats.TotalVotes = valid + r.Stats.BlankVotes + r.Stats.NullVotes
}

// TotalsConsistent reports whether the persisted totals match the line items.
func (r Record) TotalsConsistent() bool {
	var valid int64
	for _, c := range r.Candidates {
		valid += c.Votes
	}
	return r.Stats.ValidVotes == valid &&
		r.Stats.TotalVotes == valid+r.Stats.BlankVotes+r.Stats.NullVotes
}

// Encode renders the record as stored in the json column. Non-ASCII names are
// written as-is.
func (r Record) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encode record %d: %w", r.StationID, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
