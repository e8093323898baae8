package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/xlbricks/internal/bridge"
)

func (a *app) serveCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer line-delimited JSON requests on stdin",
		Long: `Serve keeps one session open and answers one JSON request per line
with one JSON response per line. Undo and redo history lives as long as the
session. With --input the requests are read from a file instead.

Example request:
  {"id":1,"op":"store","front":"sales","path":"q1","data":[[1,2],[3,4]]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = a.in
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return system(err)
				}
				defer f.Close()
				r = f
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.session(cmd, func(_ context.Context, b *bridge.Bridge) error {
				a.log.Info("serving", "data_dir", a.cfg.DataDir)
				return b.Serve(ctx, r, a.out)
			})
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "read requests from this file (- for stdin)")
	return cmd
}
