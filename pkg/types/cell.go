package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// CellKind tags the scalar held by a Cell.
type CellKind uint8

// Cell kinds. The zero Cell is empty.
const (
	CellEmpty CellKind = iota
	CellNumber
	CellText
	CellBool
)

func (k CellKind) String() string {
	switch k {
	case CellEmpty:
		return "empty"
	case CellNumber:
		return "number"
	case CellText:
		return "text"
	case CellBool:
		return "bool"
	default:
		return fmt.Sprintf("CellKind(%d)", uint8(k))
	}
}

// Cell is a single spreadsheet scalar: empty, number, text, or boolean.
// Cells are values; the zero Cell is the empty marker.
type Cell struct {
	kind CellKind
	num  float64
	text string
	flag bool
}

// Empty returns the empty marker cell.
func Empty() Cell { return Cell{} }

// Number returns a numeric cell.
func Number(f float64) Cell { return Cell{kind: CellNumber, num: f} }

// Text returns a text cell.
func Text(s string) Cell { return Cell{kind: CellText, text: s} }

// Bool returns a boolean cell.
func Bool(b bool) Cell { return Cell{kind: CellBool, flag: b} }

// Kind returns the tag of the cell.
func (c Cell) Kind() CellKind { return c.kind }

// IsEmpty reports whether c is the empty marker.
func (c Cell) IsEmpty() bool { return c.kind == CellEmpty }

// Float returns the numeric value and whether c is a number.
func (c Cell) Float() (float64, bool) { return c.num, c.kind == CellNumber }

// Str returns the text value and whether c is text.
func (c Cell) Str() (string, bool) { return c.text, c.kind == CellText }

// Truth returns the boolean value and whether c is a boolean.
func (c Cell) Truth() (bool, bool) { return c.flag, c.kind == CellBool }

// Value returns the cell as a plain Go value: nil, float64, string or bool.
func (c Cell) Value() any {
	switch c.kind {
	case CellNumber:
		return c.num
	case CellText:
		return c.text
	case CellBool:
		return c.flag
	default:
		return nil
	}
}

// String renders the cell the way a spreadsheet would display it.
func (c Cell) String() string {
	switch c.kind {
	case CellNumber:
		return strconv.FormatFloat(c.num, 'f', -1, 64)
	case CellText:
		return c.text
	case CellBool:
		if c.flag {
			return "TRUE"
		}
		return "FALSE"
	default:
		return ""
	}
}

// CellOf converts a plain Go value into a Cell. It accepts nil, bool,
// string, json.Number and every built-in numeric type. Any other value
// fails with ErrTypeMismatch.
func CellOf(v any) (Cell, error) {
	switch x := v.(type) {
	case nil:
		return Empty(), nil
	case Cell:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return Text(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Cell{}, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, x.String())
		}
		return Number(f), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case int8:
		return Number(float64(x)), nil
	case int16:
		return Number(float64(x)), nil
	case int32:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case uint:
		return Number(float64(x)), nil
	case uint8:
		return Number(float64(x)), nil
	case uint16:
		return Number(float64(x)), nil
	case uint32:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	default:
		return Cell{}, fmt.Errorf("%w: unsupported cell value %T", ErrTypeMismatch, v)
	}
}

// MarshalJSON encodes the cell as null, a number, a string or a boolean.
// Non-finite numbers have no JSON form and are encoded as null.
func (c Cell) MarshalJSON() ([]byte, error) {
	if c.kind == CellNumber && (math.IsNaN(c.num) || math.IsInf(c.num, 0)) {
		return []byte("null"), nil
	}
	return json.Marshal(c.Value())
}

// UnmarshalJSON decodes a JSON scalar into the cell.
func (c *Cell) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	cell, err := CellOf(v)
	if err != nil {
		return err
	}
	*c = cell
	return nil
}

// Grid is a raw block of rows received from a host. Unlike a Payload it
// may be irregular; Rules.CheckShape decides whether it may become one.
type Grid [][]Cell

// GridOf converts rows of plain Go values into a Grid.
func GridOf(rows [][]any) (Grid, error) {
	g := make(Grid, len(rows))
	for r, row := range rows {
		g[r] = make([]Cell, len(row))
		for col, v := range row {
			cell, err := CellOf(v)
			if err != nil {
				return nil, &CellError{Row: r, Col: col, Err: err}
			}
			g[r][col] = cell
		}
	}
	return g, nil
}

// MustGrid is GridOf for literals in tests and examples; it panics on error.
func MustGrid(rows ...[]any) Grid {
	g, err := GridOf(rows)
	if err != nil {
		panic(err)
	}
	return g
}

// Width returns the length of the widest row.
func (g Grid) Width() int {
	w := 0
	for _, row := range g {
		if len(row) > w {
			w = len(row)
		}
	}
	return w
}

// Clone returns a deep copy of the grid.
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	for i, row := range g {
		out[i] = append([]Cell(nil), row...)
	}
	return out
}
