package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/xlbricks/internal/bridge"
	"github.com/mesh-intelligence/xlbricks/internal/xlsx"
	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

func (a *app) importCmd() *cobra.Command {
	var sf storeFlags
	var sheet, ref string
	cmd := &cobra.Command{
		Use:   "import <workbook.xlsx> <front> <path>",
		Short: "Store a range of an .xlsx workbook",
		Long: `Import reads a cell range of a workbook and stores it like store does.
Without --range the used range of the sheet is read.

Example:
  xlbricks import book.xlsx sales q1 --sheet Data --range B2:D10 --headers columns`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			grid, err := xlsx.ReadRange(args[0], sheet, ref)
			if err != nil {
				return err
			}
			data, err := json.Marshal(grid)
			if err != nil {
				return err
			}
			return a.do(cmd, sf.request(args[1], args[2], data), formatJSON)
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&sheet, "sheet", "", "sheet to read (default: the first sheet)")
	cmd.Flags().StringVar(&ref, "range", "", "cell range such as B2:D10 (default: the used range)")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var sheet, cell string
	var noErrorCell bool
	cmd := &cobra.Command{
		Use:   "export <workbook.xlsx> <front> <path> [subpath...]",
		Short: "Write a leaf into an .xlsx workbook",
		Long: `Export retrieves the leaf at path and writes it, headers included, with
its top-left cell at --cell. The workbook and sheet are created when
missing. When retrieval fails the error display text is written into the
cell instead, the way a spreadsheet function shows its error.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			book := args[0]
			err := a.session(cmd, func(ctx context.Context, b *bridge.Bridge) error {
				return a.export(ctx, b, book, sheet, cell, args[1], args[2], args[3:])
			})
			if err != nil && !noErrorCell && !isSystem(err) {
				if werr := xlsx.WriteText(book, sheet, cell, bridge.Display(err)); werr != nil {
					a.log.Warn("could not write error cell", "error", werr)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "sheet to write (default: the first sheet)")
	cmd.Flags().StringVar(&cell, "cell", "A1", "top-left cell of the written range")
	cmd.Flags().BoolVar(&noErrorCell, "no-error-cell", false, "leave the workbook untouched on failure")
	return cmd
}

func (a *app) export(ctx context.Context, b *bridge.Bridge, book, sheet, cell, front, path string, subpath []string) error {
	n, err := b.Retrieve(ctx, front, path, subpath...)
	if err != nil {
		return err
	}
	if !n.IsLeaf() {
		return fmt.Errorf("%w: %q is not a leaf", types.ErrBadRequest, path)
	}
	written, err := xlsx.WriteRange(book, sheet, cell, n.Leaf().Table())
	if err != nil {
		if types.Code(err) == types.CodeInternal {
			return system(err)
		}
		return err
	}
	return a.print(map[string]string{"workbook": book, "range": written}, formatJSON)
}

func (a *app) sheetsCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "sheets <xlsx>",
		Short: "List the sheets of an .xlsx workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			sheets, err := xlsx.Sheets(args[0])
			if err != nil {
				return system(fmt.Errorf("open workbook: %w", err))
			}
			return a.print(sheets, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatJSON, "output format: json or yaml")
	return cmd
}
