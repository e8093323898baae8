// Package cli implements the xlbricks command-line interface. Each
// invocation attaches the store, runs one operation through the bridge and
// detaches; serve keeps one session open for a host that streams
// requests.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/xlbricks/internal/bridge"
	"github.com/mesh-intelligence/xlbricks/internal/frontstack"
	"github.com/mesh-intelligence/xlbricks/internal/logger"
	"github.com/mesh-intelligence/xlbricks/internal/sqlite"
	"github.com/mesh-intelligence/xlbricks/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	logLevel  string
	logFile   string
}

// app is the state of one invocation.
type app struct {
	flags  rootFlags
	cfg    types.Config
	store  *sqlite.Backend
	bridge *bridge.Bridge
	log    *log.Logger

	in  io.Reader
	out io.Writer
	err io.Writer
}

// sysError marks failures of the environment rather than of the request:
// the store cannot attach, a file cannot be written.
type sysError struct{ err error }

func (e *sysError) Error() string { return e.err.Error() }
func (e *sysError) Unwrap() error { return e.err }

func isSystem(err error) bool {
	var se *sysError
	return errors.As(err, &se)
}

func system(err error) error {
	if err == nil {
		return nil
	}
	return &sysError{err: err}
}

// NewRootCmd creates the top-level "xlbricks" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	return newApp(os.Stdin, os.Stdout, os.Stderr).rootCmd()
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, out: out, err: errOut}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "xlbricks",
		Short: "Store spreadsheet ranges as named, nested bricks",
		Long: `xlbricks keeps spreadsheet ranges in named collections ("fronts") of
nested bricks, with undo and redo per front and JSONL persistence.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Configure(a.flags.logLevel, a.flags.logFile); err != nil {
				return system(fmt.Errorf("configure logging: %w", err))
			}
			a.log = logger.New("cli")
			return nil
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.err)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir or $XLBRICKS_CONFIG_DIR)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/.xlbricks-db)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.flags.logFile, "log-file", "", "append logs to this file instead of stderr")

	root.AddCommand(
		a.versionCmd(),
		a.initCmd(),
		a.storeCmd(),
		a.retrieveCmd(),
		a.eraseCmd(),
		a.keysCmd(),
		a.renameCmd(),
		a.moveCmd(),
		a.frontsCmd(),
		a.mergeCmd(),
		a.aliasCmd(),
		a.lookupCmd(),
		a.removeCmd(),
		a.clearCmd(),
		a.dumpCmd(),
		a.importCmd(),
		a.exportCmd(),
		a.sheetsCmd(),
		a.serveCmd(),
	)
	return root
}

// open loads the configuration, attaches the store and builds the bridge.
func (a *app) open() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	store := sqlite.NewBackend()
	if err := store.Attach(cfg); err != nil {
		return system(fmt.Errorf("attach store: %w", err))
	}
	a.cfg = cfg
	a.store = store
	stack := frontstack.New(frontstack.OptionsFrom(cfg))
	a.bridge = bridge.New(stack, bridge.WithStore(store), bridge.WithDType(cfg.DType))
	a.log.Debug("session opened", "data_dir", cfg.DataDir)
	return nil
}

func (a *app) close() error {
	if a.bridge != nil {
		if err := a.bridge.Stack().Close(); err != nil {
			return system(fmt.Errorf("close fronts: %w", err))
		}
		a.bridge = nil
	}
	if a.store == nil {
		return nil
	}
	if err := a.store.Detach(); err != nil {
		return system(fmt.Errorf("detach store: %w", err))
	}
	a.store = nil
	return nil
}

// session runs fn with an open bridge and always detaches.
func (a *app) session(cmd *cobra.Command, fn func(ctx context.Context, b *bridge.Bridge) error) (err error) {
	if err := a.open(); err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); err == nil {
			err = cerr
		}
	}()
	err = fn(cmd.Context(), a.bridge)
	if err != nil && types.Code(err) == types.CodeInternal && !isSystem(err) {
		// Outside the taxonomy: the store or the file system failed.
		err = system(err)
	}
	return err
}

// do runs one bridge request in a session and prints its result.
func (a *app) do(cmd *cobra.Command, req bridge.Request, format string) error {
	return a.session(cmd, func(ctx context.Context, b *bridge.Bridge) error {
		result, _, err := b.Do(ctx, req)
		if err != nil {
			return err
		}
		if result == nil {
			return nil
		}
		return a.print(result, format)
	})
}

// Run executes the command line args and returns the process exit code.
// Calm history exhaustion is reported on stderr but exits 0.
func Run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	a := newApp(in, out, errOut)
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	defer logger.Close()
	return a.exitCode(err)
}

func (a *app) exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var se *sysError
	switch {
	case bridge.IsCalm(err):
		fmt.Fprintln(a.err, bridge.Display(err))
		return exitSuccess
	case errors.As(err, &se):
		fmt.Fprintln(a.err, "error:", err)
		return exitSysError
	case types.Code(err) == types.CodeInternal:
		// Argument and flag errors from cobra.
		fmt.Fprintln(a.err, "error:", err)
		return exitUserError
	default:
		fmt.Fprintln(a.err, bridge.Display(err))
		return exitUserError
	}
}

// Execute runs the root command with the process arguments and exits with
// the appropriate code.
func Execute() {
	os.Exit(Run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
