package cli

import (
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/xlbricks/internal/bridge"
)

func (a *app) frontsCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "fronts",
		Short: "List stored fronts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			return a.do(cmd, bridge.Request{Op: "fronts"}, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatJSON, "output format: json or yaml")
	return cmd
}

func (a *app) mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <target> <source>...",
		Short: "Merge fronts into a target front",
		Long: `Merge copies every brick of the sources into the target, later sources
winning on conflicts. The target changes in one undoable step.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.do(cmd, bridge.Request{Op: "merge", Front: args[0], Sources: args[1:]}, formatJSON)
		},
	}
}

func (a *app) aliasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alias <from> <to>",
		Short: "Copy a front under another name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.do(cmd, bridge.Request{Op: "alias", Front: args[0], To: args[1]}, formatJSON)
		},
	}
}

func (a *app) lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <source> <path> <target>",
		Short: "Replace a front with the brick found at a path of another",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.do(cmd, bridge.Request{Op: "lookup", Front: args[0], Path: args[1], To: args[2]}, formatJSON)
		},
	}
}

func (a *app) removeCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "remove <front>",
		Short: "Delete a stored front",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.do(cmd, bridge.Request{Op: "remove", Front: args[0], Purge: purge}, formatJSON)
		},
	}
	// A one-shot process has nothing to drop but the stored state.
	cmd.Flags().BoolVar(&purge, "purge", true, "delete the stored state")
	return cmd
}

func (a *app) clearCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored front",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.do(cmd, bridge.Request{Op: "clear", Purge: purge}, formatJSON)
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", true, "delete the stored state")
	return cmd
}

func (a *app) dumpCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every front as one object",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			return a.do(cmd, bridge.Request{Op: "dump"}, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatJSON, "output format: json or yaml")
	return cmd
}
