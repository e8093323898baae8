package types

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Payload is the rectangular content of a leaf Brick. It is immutable:
// every method that changes content returns a new Payload, so snapshots
// and live bricks may share one safely.
//
// Column and row headers are optional labels kept as metadata. They are
// not part of the shape.
type Payload struct {
	rows       int
	cols       int
	cells      []Cell // row-major
	colHeaders []string
	rowHeaders []string
}

// NewPayload copies g into a new Payload. It fails with ErrIrregularShape
// when the rows differ in width. Empty grids are accepted here; the empty
// policy belongs to Rules.CheckShape.
func NewPayload(g Grid) (*Payload, error) {
	cols := 0
	if len(g) > 0 {
		cols = len(g[0])
	}
	return NewPayloadWidth(g, cols)
}

// NewPayloadWidth is NewPayload for a grid whose rows are all cols wide.
// A grid without rows gives a 0 x cols payload, such as the data under a
// lone header row.
func NewPayloadWidth(g Grid, cols int) (*Payload, error) {
	p := &Payload{rows: len(g), cols: cols}
	p.cells = make([]Cell, 0, p.rows*p.cols)
	for r, row := range g {
		if len(row) != p.cols {
			return nil, &CellError{Row: r, Col: len(row), Err: fmt.Errorf("%w: row has %d columns, expected %d", ErrIrregularShape, len(row), p.cols)}
		}
		p.cells = append(p.cells, row...)
	}
	return p, nil
}

// MustPayload is NewPayload for literals; it panics on error.
func MustPayload(rows ...[]any) *Payload {
	p, err := NewPayload(MustGrid(rows...))
	if err != nil {
		panic(err)
	}
	return p
}

// Rows returns the row count.
func (p *Payload) Rows() int { return p.rows }

// Cols returns the column count.
func (p *Payload) Cols() int { return p.cols }

// Shape returns rows and columns.
func (p *Payload) Shape() (int, int) { return p.rows, p.cols }

// IsEmpty reports whether the payload has no cells.
func (p *Payload) IsEmpty() bool { return p.rows == 0 || p.cols == 0 }

// At returns the cell at row r, column c. It panics when out of range.
func (p *Payload) At(r, c int) Cell {
	if r < 0 || r >= p.rows || c < 0 || c >= p.cols {
		panic(fmt.Sprintf("payload index (%d, %d) out of range %dx%d", r, c, p.rows, p.cols))
	}
	return p.cells[r*p.cols+c]
}

// Grid returns a copy of the cells without headers.
func (p *Payload) Grid() Grid {
	g := make(Grid, p.rows)
	for r := range g {
		g[r] = append([]Cell(nil), p.cells[r*p.cols:(r+1)*p.cols]...)
	}
	return g
}

// ColumnHeaders returns a copy of the column labels, or nil.
func (p *Payload) ColumnHeaders() []string { return slices.Clone(p.colHeaders) }

// RowHeaders returns a copy of the row labels, or nil.
func (p *Payload) RowHeaders() []string { return slices.Clone(p.rowHeaders) }

// WithHeaders returns a copy of p carrying the given labels. A nil slice
// drops the corresponding labels. Label counts must match the shape.
func (p *Payload) WithHeaders(columns, rows []string) (*Payload, error) {
	if columns != nil && len(columns) != p.cols {
		return nil, fmt.Errorf("%w: %d column headers for %d columns", ErrIrregularShape, len(columns), p.cols)
	}
	if rows != nil && len(rows) != p.rows {
		return nil, fmt.Errorf("%w: %d row headers for %d rows", ErrIrregularShape, len(rows), p.rows)
	}
	out := *p
	out.colHeaders = slices.Clone(columns)
	out.rowHeaders = slices.Clone(rows)
	return &out, nil
}

// Table returns the payload as rows of cells with headers reattached: the
// column labels become a first row and the row labels a first column. The
// top-left corner is empty when both are present.
func (p *Payload) Table() Grid {
	var out Grid
	if p.colHeaders != nil {
		head := make([]Cell, 0, p.cols+1)
		if p.rowHeaders != nil {
			head = append(head, Empty())
		}
		for _, h := range p.colHeaders {
			head = append(head, Text(h))
		}
		out = append(out, head)
	}
	for r := 0; r < p.rows; r++ {
		row := make([]Cell, 0, p.cols+1)
		if p.rowHeaders != nil {
			row = append(row, Text(p.rowHeaders[r]))
		}
		row = append(row, p.cells[r*p.cols:(r+1)*p.cols]...)
		out = append(out, row)
	}
	if out == nil {
		out = Grid{}
	}
	return out
}

// Map returns a new payload with fn applied to every cell. Headers are
// kept. The first error aborts the map and is returned as a CellError.
func (p *Payload) Map(fn func(c Cell) (Cell, error)) (*Payload, error) {
	out := *p
	out.cells = make([]Cell, len(p.cells))
	for i, c := range p.cells {
		v, err := fn(c)
		if err != nil {
			return nil, &CellError{Row: i / p.cols, Col: i % p.cols, Err: err}
		}
		out.cells[i] = v
	}
	return &out, nil
}

// Flatten returns a single-column payload holding every cell in row-major
// order. Headers are dropped.
func (p *Payload) Flatten() *Payload {
	return &Payload{
		rows:  len(p.cells),
		cols:  min(1, len(p.cells)),
		cells: slices.Clone(p.cells),
	}
}

// Equal reports whether two payloads have the same shape, cells and headers.
func (p *Payload) Equal(o *Payload) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.rows == o.rows && p.cols == o.cols &&
		slices.Equal(p.cells, o.cells) &&
		slices.Equal(p.colHeaders, o.colHeaders) &&
		slices.Equal(p.rowHeaders, o.rowHeaders) &&
		(p.colHeaders == nil) == (o.colHeaders == nil) &&
		(p.rowHeaders == nil) == (o.rowHeaders == nil)
}

// payloadJSON is the stored form of a Payload. Shape is kept explicitly so
// that zero-row payloads keep their column count.
type payloadJSON struct {
	Shape   [2]int   `json:"shape"`
	Data    Grid     `json:"data"`
	Columns []string `json:"columns,omitempty"`
	Index   []string `json:"index,omitempty"`
}

// MarshalJSON encodes the payload with its shape and headers.
func (p *Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(payloadJSON{
		Shape:   [2]int{p.rows, p.cols},
		Data:    p.Grid(),
		Columns: p.colHeaders,
		Index:   p.rowHeaders,
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var pj payloadJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return err
	}
	np, err := NewPayload(pj.Data)
	if err != nil {
		return err
	}
	if np.rows != pj.Shape[0] || (np.rows > 0 && np.cols != pj.Shape[1]) {
		return fmt.Errorf("%w: data does not match shape %dx%d", ErrIrregularShape, pj.Shape[0], pj.Shape[1])
	}
	np.cols = pj.Shape[1]
	np, err = np.WithHeaders(pj.Columns, pj.Index)
	if err != nil {
		return err
	}
	*p = *np
	return nil
}
