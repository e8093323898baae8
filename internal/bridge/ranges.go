package bridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

// HeaderMode says which edge of a captured range holds labels.
type HeaderMode string

// Header modes.
const (
	HeadersNone    HeaderMode = ""
	HeadersColumns HeaderMode = "columns" // first row labels the columns
	HeadersRows    HeaderMode = "rows"    // first column labels the rows
	HeadersBoth    HeaderMode = "both"    // both; the top-left corner is ignored
)

// ParseHeaderMode parses a header mode name; "none" and "" mean no headers.
func ParseHeaderMode(s string) (HeaderMode, error) {
	switch m := HeaderMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "none", HeadersNone:
		return HeadersNone, nil
	case HeadersColumns, HeadersRows, HeadersBoth:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown header mode %q", types.ErrBadRequest, s)
}

// CropGrid trims empty rows and columns from all four edges of g. A grid
// with no non-empty cell crops to an empty grid. g is not modified.
func CropGrid(g types.Grid) types.Grid {
	top, bottom := 0, len(g)-1
	for top <= bottom && rowEmpty(g[top]) {
		top++
	}
	for bottom >= top && rowEmpty(g[bottom]) {
		bottom--
	}
	if top > bottom {
		return types.Grid{}
	}
	rows := g[top : bottom+1]

	left, right := 0, rows.Width()-1
	for left <= right && colEmpty(rows, left) {
		left++
	}
	for right >= left && colEmpty(rows, right) {
		right--
	}

	out := make(types.Grid, len(rows))
	for i, row := range rows {
		out[i] = make([]types.Cell, 0, right-left+1)
		for c := left; c <= right; c++ {
			if c < len(row) {
				out[i] = append(out[i], row[c])
			} else {
				out[i] = append(out[i], types.Empty())
			}
		}
	}
	return out
}

func rowEmpty(row []types.Cell) bool {
	for _, c := range row {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

func colEmpty(g types.Grid, col int) bool {
	for _, row := range g {
		if col < len(row) && !row[col].IsEmpty() {
			return false
		}
	}
	return true
}

// GridBlock is one keyed block of a grid split by SplitGrid.
type GridBlock struct {
	Key  string
	Data types.Grid
}

// SplitGrid reads a grid whose first column holds keys. A row with a
// non-empty first cell starts a block that runs until the next keyed row;
// the block's data is every column after the first. Rows before the first
// key are ignored. Keys are trimmed cell text.
func SplitGrid(g types.Grid) []GridBlock {
	var blocks []GridBlock
	for r, row := range g {
		if len(row) == 0 || row[0].IsEmpty() {
			if len(blocks) > 0 {
				last := &blocks[len(blocks)-1]
				last.Data = append(last.Data, tail(g[r]))
			}
			continue
		}
		blocks = append(blocks, GridBlock{
			Key:  strings.TrimSpace(row[0].String()),
			Data: types.Grid{tail(row)},
		})
	}
	return blocks
}

func tail(row []types.Cell) []types.Cell {
	if len(row) <= 1 {
		return []types.Cell{}
	}
	return append([]types.Cell(nil), row[1:]...)
}

// splitHeaders separates header labels from a rectangular grid.
func splitHeaders(g types.Grid, mode HeaderMode) (types.Grid, []string, []string) {
	if len(g) == 0 {
		return g, nil, nil
	}
	labels := func(cells []types.Cell) []string {
		out := make([]string, len(cells))
		for i, c := range cells {
			out[i] = c.String()
		}
		return out
	}
	firstCol := func(rows types.Grid) ([]string, types.Grid) {
		names := make([]string, len(rows))
		data := make(types.Grid, len(rows))
		for i, row := range rows {
			if len(row) > 0 {
				names[i] = row[0].String()
			}
			data[i] = tail(row)
		}
		return names, data
	}

	switch mode {
	case HeadersColumns:
		return g[1:], labels(g[0]), nil
	case HeadersRows:
		names, data := firstCol(g)
		return data, nil, names
	case HeadersBoth:
		names, data := firstCol(g[1:])
		return data, labels(tail(g[0])), names
	}
	return g, nil, nil
}

// Ref is a parsed front reference of the form name or name:version, as
// returned to hosts after every change.
type Ref struct {
	Name       string
	Version    uint64
	HasVersion bool
}

// ParseRef splits a front reference. Only a numeric suffix after the last
// colon is read as a version; anything else is part of the name.
func ParseRef(s string) Ref {
	s = strings.TrimSpace(s)
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return Ref{Name: s}
	}
	v, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return Ref{Name: s}
	}
	return Ref{Name: s[:i], Version: v, HasVersion: true}
}

func (r Ref) String() string {
	if !r.HasVersion {
		return r.Name
	}
	return fmt.Sprintf("%s:%d", r.Name, r.Version)
}
