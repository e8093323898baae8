package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/xlbricks/internal/bridge"
	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

// storeFlags are the options shared by store and import.
type storeFlags struct {
	force     bool
	noHistory bool
	dtype     string
	crop      bool
	headers   string
	layout    string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.BoolVar(&f.force, "force", false, "overwrite leaves met mid-path and bricks of the other kind")
	fl.BoolVar(&f.noHistory, "no-history", false, "do not keep an undo snapshot of the previous state")
	fl.StringVar(&f.dtype, "dtype", "", "coerce cells: any, number, text, bool (default from config)")
	fl.BoolVar(&f.crop, "crop", false, "trim empty rows and columns at the edges")
	fl.StringVar(&f.headers, "headers", "", "split labels off the range: none, columns, rows, both")
	fl.StringVar(&f.layout, "layout", "", "how to read the range: (blank) one leaf, grid, list, nested")
}

func (f *storeFlags) request(front, path string, data json.RawMessage) bridge.Request {
	req := bridge.Request{
		Op:      "store",
		Front:   front,
		Path:    path,
		Data:    data,
		Force:   f.force,
		DType:   f.dtype,
		Crop:    f.crop,
		Headers: f.headers,
		Layout:  f.layout,
	}
	if f.noHistory {
		persist := false
		req.Persist = &persist
	}
	return req
}

func (a *app) storeCmd() *cobra.Command {
	var sf storeFlags
	var data, file string
	cmd := &cobra.Command{
		Use:   "store <front> <path>",
		Short: "Store a range under a path",
		Long: `Store writes a range, given as JSON rows, under a dotted path of a front.
The data comes from --data, from --file (JSON or YAML), or from stdin.

Example:
  xlbricks store sales q1 --data '[[1,2],[3,4]]'
  xlbricks store sales regions --layout grid --file regions.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.readData(data, file)
			if err != nil {
				return err
			}
			return a.do(cmd, sf.request(args[0], args[1], raw), formatJSON)
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&data, "data", "", "JSON rows, a flat array, a scalar, or a nested object")
	cmd.Flags().StringVar(&file, "file", "", "read the data from a JSON or YAML file (- for stdin)")
	return cmd
}

// readData returns the store input as JSON. YAML files are converted.
func (a *app) readData(data, file string) (json.RawMessage, error) {
	if data != "" && file != "" {
		return nil, fmt.Errorf("%w: --data and --file are exclusive", types.ErrBadRequest)
	}
	if data != "" {
		return json.RawMessage(data), nil
	}
	var (
		b   []byte
		err error
	)
	if file == "" || file == "-" {
		b, err = io.ReadAll(a.in)
	} else {
		b, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, system(fmt.Errorf("read data: %w", err))
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, fmt.Errorf("%w: no data", types.ErrBadRequest)
	}
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		var n types.Nested
		if err := yaml.Unmarshal(b, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrBadRequest, err)
		}
		return n.MarshalJSON()
	}
	return json.RawMessage(b), nil
}

func (a *app) retrieveCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "retrieve <front> [path] [subpath...]",
		Short: "Retrieve a brick as nested rows",
		Long: `Retrieve prints the brick at path: a leaf as rows, an internal brick as
an object. Without a path the whole front is printed. Subpath keys descend
further below the path.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			req := bridge.Request{Op: "retrieve", Front: args[0]}
			if len(args) > 1 {
				req.Path = args[1]
				req.Subpath = args[2:]
			}
			return a.do(cmd, req, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatJSON, "output format: json or yaml")
	return cmd
}

func (a *app) eraseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "erase <front> <path>",
		Short: "Delete the brick at a path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.do(cmd, bridge.Request{Op: "erase", Front: args[0], Path: args[1]}, formatJSON)
		},
	}
}

func (a *app) keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys <front> [path]",
		Short: "List the child keys of an internal brick",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := bridge.Request{Op: "keys", Front: args[0]}
			if len(args) == 2 {
				req.Path = args[1]
			}
			return a.do(cmd, req, formatJSON)
		},
	}
}

func (a *app) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <front> <path> <new-key>",
		Short: "Rename the last key of a path in place",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.do(cmd, bridge.Request{Op: "rename", Front: args[0], Path: args[1], To: args[2]}, formatJSON)
		},
	}
}

func (a *app) moveCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "move <front> <from> <to>",
		Short: "Move a brick to another path of the same front",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := bridge.Request{Op: "move", Front: args[0], Path: args[1], To: args[2], Force: force}
			return a.do(cmd, req, formatJSON)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite what is in the way")
	return cmd
}
