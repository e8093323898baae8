package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configuration and data directories",
		Long: `Init writes a default config.yaml when none exists and creates the data
directory with empty JSONL files. Running it again changes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			if err := a.close(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "xlbricks initialized in %s\n", a.cfg.DataDir)
			return nil
		},
	}
}
