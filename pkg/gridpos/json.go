package gridpos

import "encoding/json"

// MarshalJSON encodes the grid as nested arrays with null for Empty cells,
// e.g. [["First",null],[null,"Second"]].
func (g Grid) MarshalJSON() ([]byte, error) {
	if g == nil {
		return []byte("null"), nil
	}
	out := make([][]*string, len(g))
	for r, row := range g {
		out[r] = make([]*string, len(row))
		for c := range row {
			if row[c] != Empty {
				out[r][c] = &row[c]
			}
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts nested arrays of strings and nulls.
func (g *Grid) UnmarshalJSON(data []byte) error {
	var in [][]*string
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in == nil {
		*g = nil
		return nil
	}
	out := make(Grid, len(in))
	for r, row := range in {
		out[r] = make([]string, len(row))
		for c, v := range row {
			if v != nil {
				out[r][c] = *v
			}
		}
	}
	*g = out
	return nil
}
