// Package logger provides the structured logger shared by xlbricks
// components. Output goes to stderr so that stdout stays free for the
// host protocol and command results.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// EnvLogLevel overrides the default level when no flag is given.
const EnvLogLevel = "XLBRICKS_LOG_LEVEL"

// Logger is the global logger instance.
var Logger *log.Logger

var (
	mu     sync.Mutex
	output io.Writer = os.Stderr
	file   *os.File // open --log-file, closed on reconfigure
)

func init() {
	Logger = log.New(os.Stderr)
	Logger.SetTimeFormat("")
	Logger.SetLevel(log.WarnLevel)
}

// Configure sets the level and destination of the global logger.
// Level precedence: argument > XLBRICKS_LOG_LEVEL > warn. An empty
// logFile keeps stderr.
func Configure(logLevel string, logFile string) error {
	level := logLevel
	if level == "" {
		level = strings.ToLower(os.Getenv(EnvLogLevel))
	}

	var out io.Writer = os.Stderr
	var opened *os.File
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return err
		}
		out, opened = f, f
	}

	mu.Lock()
	defer mu.Unlock()
	prev := file
	file = opened
	output = out
	Logger = log.New(out)
	Logger.SetTimeFormat("")
	Logger.SetLevel(ParseLevel(level))
	if prev != nil {
		return prev.Close()
	}
	return nil
}

// Close closes the log file opened by Configure, if any, and sends
// output back to stderr.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	f := file
	file = nil
	output = os.Stderr
	Logger.SetOutput(os.Stderr)
	return f.Close()
}

// SetOutput redirects the global logger, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	Logger.SetOutput(w)
}

// ParseLevel converts a level name; unknown names mean warn.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.WarnLevel
	}
}

// New creates a component logger with a prefix (e.g. "frontstack",
// "bridge") that writes where the global logger writes, at its level.
func New(prefix string) *log.Logger {
	styles := log.DefaultStyles()

	styles.Levels[log.InfoLevel] = levelStyle("INFO", "33")
	styles.Levels[log.ErrorLevel] = levelStyle("ERROR", "196")
	styles.Levels[log.DebugLevel] = levelStyle("DEBUG", "240")
	styles.Levels[log.WarnLevel] = levelStyle("WARN", "214")
	styles.Levels[log.FatalLevel] = levelStyle("FATAL", "88")

	styles.Keys["front"] = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
	styles.Keys["path"] = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	styles.Keys["depth"] = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styles.Keys["error"] = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styles.Keys["op"] = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	styles.Keys["ref"] = lipgloss.NewStyle().Foreground(lipgloss.Color("51"))

	styles.Values["front"] = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	styles.Values["error"] = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	mu.Lock()
	out := output
	mu.Unlock()

	l := log.NewWithOptions(out, log.Options{Prefix: prefix})
	l.SetStyles(styles)
	l.SetLevel(Logger.GetLevel())
	return l
}

func levelStyle(name, background string) lipgloss.Style {
	return lipgloss.NewStyle().
		SetString(name).
		Padding(0, 1, 0, 1).
		Background(lipgloss.Color(background)).
		Foreground(lipgloss.Color("15"))
}
