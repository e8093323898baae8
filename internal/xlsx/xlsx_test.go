package xlsx

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

// workbook saves a one-sheet workbook with a small sales table at B2.
func workbook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	require.NoError(t, f.SetCellValue(sheet, "B2", "region"))
	require.NoError(t, f.SetCellValue(sheet, "C2", "q1"))
	require.NoError(t, f.SetCellValue(sheet, "B3", "north"))
	require.NoError(t, f.SetCellValue(sheet, "C3", 100))
	require.NoError(t, f.SetCellValue(sheet, "B4", "south"))
	require.NoError(t, f.SetCellValue(sheet, "C4", 200.5))
	require.NoError(t, f.SetCellValue(sheet, "D4", true))

	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestReadRange(t *testing.T) {
	path := workbook(t)

	g, err := ReadRange(path, "Sheet1", "B2:D4")
	require.NoError(t, err)
	want := types.MustGrid(
		[]any{"region", "q1", nil},
		[]any{"north", 100, nil},
		[]any{"south", 200.5, true},
	)
	assert.Equal(t, want, g)
}

func TestReadRangeReversedCorners(t *testing.T) {
	path := workbook(t)
	a, err := ReadRange(path, "", "C4:B3")
	require.NoError(t, err)
	b, err := ReadRange(path, "", "$B$3:$C$4")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 2)
}

func TestReadRangeUsedRange(t *testing.T) {
	g, err := ReadRange(workbook(t), "", "")
	require.NoError(t, err)
	require.Len(t, g, 4, "A1 down to row 4")
	assert.Equal(t, 4, g.Width(), "A to D")
	assert.True(t, g[0][0].IsEmpty())
	v, ok := g[3][3].Truth()
	assert.True(t, ok)
	assert.True(t, v)
}

func TestReadRangeErrors(t *testing.T) {
	path := workbook(t)
	tests := []struct {
		name   string
		sheet  string
		ref    string
		target error
	}{
		{"missing sheet", "Nope", "A1", ErrSheetNotFound},
		{"bad ref", "Sheet1", "1A", ErrInvalidRange},
		{"bad corner", "Sheet1", "A1:ZZZZZ", ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRange(path, tt.sheet, tt.ref)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.ErrorIs(t, err, types.ErrBadRequest)
			assert.Equal(t, "BadRequest", types.Code(err))
			var re *RangeError
			assert.ErrorAs(t, err, &re)
		})
	}
}

func TestWriteRangeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	g := types.MustGrid(
		[]any{"a", "b"},
		[]any{1, 2.5},
		[]any{false, nil},
	)

	ref, err := WriteRange(path, "Results", "C5", g)
	require.NoError(t, err)
	assert.Equal(t, "C5:D7", ref)

	got, err := ReadRange(path, "Results", ref)
	require.NoError(t, err)
	assert.Equal(t, g, got)

	sheets, err := Sheets(path)
	require.NoError(t, err)
	assert.Contains(t, sheets, "Results")
}

func TestWriteRangeKeepsOtherCells(t *testing.T) {
	path := workbook(t)
	_, err := WriteRange(path, "Sheet1", "F1", types.MustGrid([]any{"x"}))
	require.NoError(t, err)

	g, err := ReadRange(path, "Sheet1", "B3:C3")
	require.NoError(t, err)
	assert.Equal(t, types.MustGrid([]any{"north", 100}), g)
}

func TestWriteText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "err.xlsx")
	require.NoError(t, WriteText(path, "", "A1", "#XLB ERROR: KeyNotFound: q9"))
	g, err := ReadRange(path, "", "A1")
	require.NoError(t, err)
	assert.Equal(t, types.MustGrid([]any{"#XLB ERROR: KeyNotFound: q9"}), g)
}

func TestWriteRangeEmptyGrid(t *testing.T) {
	_, err := WriteRange(filepath.Join(t.TempDir(), "x.xlsx"), "", "A1", nil)
	assert.ErrorIs(t, err, types.ErrEmptyPayload)
}
