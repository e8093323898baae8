// Package xlsx moves cell ranges between .xlsx workbooks and brick grids.
// It is the file-based host for the command line: a range is read into a
// types.Grid before a store, and a retrieved payload is written back as a
// block of cells anchored at its top-left corner.
package xlsx

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

// Errors returned for unusable workbook locations. Both wrap
// types.ErrBadRequest so hosts report them as BadRequest.
var (
	ErrSheetNotFound = fmt.Errorf("%w: sheet not found", types.ErrBadRequest)
	ErrInvalidRange  = fmt.Errorf("%w: invalid range", types.ErrBadRequest)
)

// RangeError names the workbook location that failed.
type RangeError struct {
	Sheet string
	Ref   string
	Err   error
}

func (e *RangeError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("sheet %q: %v", e.Sheet, e.Err)
	}
	return fmt.Sprintf("%s!%s: %v", e.Sheet, e.Ref, e.Err)
}

func (e *RangeError) Unwrap() error { return e.Err }

// bounds is an inclusive, one-based cell rectangle.
type bounds struct {
	col1, row1, col2, row2 int
}

// parseRange accepts "A1", "A1:C3" and reversed corners such as "C3:A1".
func parseRange(ref string) (bounds, error) {
	from, to, ok := strings.Cut(strings.ReplaceAll(ref, "$", ""), ":")
	if !ok {
		to = from
	}
	c1, r1, err := excelize.CellNameToCoordinates(from)
	if err != nil {
		return bounds{}, fmt.Errorf("%w: %q", ErrInvalidRange, ref)
	}
	c2, r2, err := excelize.CellNameToCoordinates(to)
	if err != nil {
		return bounds{}, fmt.Errorf("%w: %q", ErrInvalidRange, ref)
	}
	return bounds{min(c1, c2), min(r1, r2), max(c1, c2), max(r1, r2)}, nil
}

func (b bounds) String() string {
	from, _ := excelize.CoordinatesToCellName(b.col1, b.row1)
	to, _ := excelize.CoordinatesToCellName(b.col2, b.row2)
	if from == to {
		return from
	}
	return from + ":" + to
}

// sheetOf returns sheet, or the first sheet of the workbook when sheet is
// blank.
func sheetOf(f *excelize.File, sheet string) (string, error) {
	if sheet == "" {
		return f.GetSheetName(0), nil
	}
	idx, err := f.GetSheetIndex(sheet)
	if err != nil || idx < 0 {
		return "", &RangeError{Sheet: sheet, Err: ErrSheetNotFound}
	}
	return sheet, nil
}

// ReadRange reads ref from sheet of the workbook at path. A blank sheet
// means the first sheet; a blank ref means the used range starting at A1.
func ReadRange(path, sheet, ref string) (types.Grid, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet, err = sheetOf(f, sheet)
	if err != nil {
		return nil, err
	}
	var b bounds
	if ref == "" {
		b, err = usedRange(f, sheet)
	} else {
		b, err = parseRange(ref)
	}
	if err != nil {
		return nil, &RangeError{Sheet: sheet, Ref: ref, Err: err}
	}

	g := make(types.Grid, 0, b.row2-b.row1+1)
	for r := b.row1; r <= b.row2; r++ {
		row := make([]types.Cell, 0, b.col2-b.col1+1)
		for c := b.col1; c <= b.col2; c++ {
			name, _ := excelize.CoordinatesToCellName(c, r)
			cell, err := readCell(f, sheet, name)
			if err != nil {
				return nil, &RangeError{Sheet: sheet, Ref: name, Err: err}
			}
			row = append(row, cell)
		}
		g = append(g, row)
	}
	return g, nil
}

// usedRange spans A1 to the last non-empty row and column.
func usedRange(f *excelize.File, sheet string) (bounds, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return bounds{}, err
	}
	b := bounds{col1: 1, row1: 1}
	for i, row := range rows {
		for j := len(row) - 1; j >= 0; j-- {
			if row[j] != "" {
				b.row2 = i + 1
				b.col2 = max(b.col2, j+1)
				break
			}
		}
	}
	if b.row2 == 0 {
		return bounds{}, fmt.Errorf("%w: sheet has no values", types.ErrEmptyPayload)
	}
	return b, nil
}

// readCell maps one worksheet cell to a Cell. Numbers come back as
// numbers and booleans as booleans; formulas yield their cached value.
func readCell(f *excelize.File, sheet, name string) (types.Cell, error) {
	raw, err := f.GetCellValue(sheet, name, excelize.Options{RawCellValue: true})
	if err != nil {
		return types.Cell{}, err
	}
	if raw == "" {
		return types.Empty(), nil
	}
	kind, err := f.GetCellType(sheet, name)
	if err != nil {
		return types.Cell{}, err
	}
	switch kind {
	case excelize.CellTypeBool:
		return types.Bool(raw == "1" || strings.EqualFold(raw, "true")), nil
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeError:
		return types.Text(raw), nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return types.Number(n), nil
	}
	return types.Text(raw), nil
}

// WriteRange writes g into sheet of the workbook at path with its top-left
// cell at topLeft, creating the workbook and the sheet when missing. Empty
// cells clear the target cell. It returns the range written.
func WriteRange(path, sheet, topLeft string, g types.Grid) (string, error) {
	f, err := openOrCreate(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return "", &RangeError{Sheet: sheet, Err: err}
		}
	}
	if topLeft == "" {
		topLeft = "A1"
	}
	start, err := parseRange(topLeft)
	if err != nil {
		return "", &RangeError{Sheet: sheet, Ref: topLeft, Err: err}
	}
	if len(g) == 0 {
		return "", &RangeError{Sheet: sheet, Ref: topLeft, Err: types.ErrEmptyPayload}
	}

	for i, row := range g {
		for j, cell := range row {
			name, err := excelize.CoordinatesToCellName(start.col1+j, start.row1+i)
			if err != nil {
				return "", &RangeError{Sheet: sheet, Ref: topLeft, Err: fmt.Errorf("%w: %v", ErrInvalidRange, err)}
			}
			if err := f.SetCellValue(sheet, name, cell.Value()); err != nil {
				return "", &RangeError{Sheet: sheet, Ref: name, Err: err}
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return "", err
	}
	written := bounds{start.col1, start.row1, start.col1 + g.Width() - 1, start.row1 + len(g) - 1}
	return written.String(), nil
}

// WriteText writes a single string into one cell. Hosts use it to place
// an error display string where a result would have gone.
func WriteText(path, sheet, cell, text string) error {
	_, err := WriteRange(path, sheet, cell, types.Grid{{types.Text(text)}})
	return err
}

// Sheets lists the sheet names of the workbook at path.
func Sheets(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

func openOrCreate(path string) (*excelize.File, error) {
	f, err := excelize.OpenFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return excelize.NewFile(), nil
	}
	return f, err
}
