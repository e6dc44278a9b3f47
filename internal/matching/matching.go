// Package matching identifies which known box a scanned barcode set belongs
// to by diffing it against every box and ranking the results.
package matching

import (
	"encoding/json"
	"sort"
)

// Score weights applied to the diff set sizes.
const (
	AddedPenalty   = 0.2
	RemovedPenalty = 0.1
)

// Set is an unordered collection of barcodes.
type Set map[string]struct{}

// NewSet builds a set from values.
func NewSet(values ...string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the members in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON accepts an array of barcodes.
func (s *Set) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewSet(values...)
	return nil
}

// Diff is the result of comparing a scan against a single box.
type Diff struct {
	Common  Set `json:"common"`
	Added   Set `json:"added"`   // in the scan but not the box
	Removed Set `json:"removed"` // in the box but not the scan
}

// Score is |common| - 0.2*|added| - 0.1*|removed|.
func (d Diff) Score() float64 {
	return float64(len(d.Common)) - AddedPenalty*float64(len(d.Added)) - RemovedPenalty*float64(len(d.Removed))
}

// DiffAgainstBox splits scanned and box into common, added and removed.
func DiffAgainstBox(scanned, box Set) Diff {
	d := Diff{Common: Set{}, Added: Set{}, Removed: Set{}}
	for v := range scanned {
		if box.Has(v) {
			d.Common[v] = struct{}{}
		} else {
			d.Added[v] = struct{}{}
		}
	}
	for v := range box {
		if !scanned.Has(v) {
			d.Removed[v] = struct{}{}
		}
	}
	return d
}

// DiffAllBoxes applies DiffAgainstBox to every box.
func DiffAllBoxes(scanned Set, boxes map[string]Set) map[string]Diff {
	out := make(map[string]Diff, len(boxes))
	for name, barcodes := range boxes {
		out[name] = DiffAgainstBox(scanned, barcodes)
	}
	return out
}

// Candidate is a ranked box.
type Candidate struct {
	BoxName string  `json:"boxname"`
	Score   float64 `json:"score"`
	Common  int     `json:"common"`
	Added   int     `json:"added"`
	Removed int     `json:"removed"`
}

// RankBoxes orders boxes by descending score. Equal scores are ordered by
// ascending box name.
func RankBoxes(diffs map[string]Diff) []Candidate {
	out := make([]Candidate, 0, len(diffs))
	for name, d := range diffs {
		out = append(out, Candidate{
			BoxName: name,
			Score:   d.Score(),
			Common:  len(d.Common),
			Added:   len(d.Added),
			Removed: len(d.Removed),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].BoxName < out[j].BoxName
	})
	return out
}

// BestMatch returns the top-ranked box, or false when boxes is empty.
func BestMatch(scanned Set, boxes map[string]Set) (string, bool) {
	ranked := RankBoxes(DiffAllBoxes(scanned, boxes))
	if len(ranked) == 0 {
		return "", false
	}
	return ranked[0].BoxName, true
}
