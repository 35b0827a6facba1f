package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/qc-inspection/internal/config"
	"github.com/kirillkom/qc-inspection/internal/observability/logging"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// Exit codes.
const (
	exitFailure  = 1
	exitRejected = 2
	exitUsage    = 3
)

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// cli holds state shared by every subcommand.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	server     string
	logLevel   string
	quiet      bool

	cfg    config.CLIConfig
	logger *slog.Logger
}

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		// cobra already printed the error
		os.Exit(exitFailure)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "qcimport",
		Short:         "Validate, parse and upload QC order workbooks",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	f := root.PersistentFlags()
	f.StringVar(&c.configPath, "config", "", "YAML config file")
	f.StringVar(&c.server, "server", "", "API base URL (overrides the config file)")
	f.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	f.BoolVarP(&c.quiet, "quiet", "q", false, "Do not print progress to stderr")

	root.AddCommand(
		newValidateCmd(c),
		newParseCmd(c),
		newUploadCmd(c),
		newSubmitCmd(c),
		newStatusCmd(c),
	)
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.LoadCLI(c.configPath)
	if err != nil {
		return codeError(exitUsage, "%s", err)
	}
	if cmd.Flags().Changed("server") {
		cfg.Server = c.server
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	c.cfg = cfg
	c.logger = logging.NewLogger(c.stderr, "qcimport", cfg.LogLevel)
	slog.SetDefault(c.logger)
	return nil
}

func (c *cli) progress(percent int, message string) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.stderr, "[%3d%%] %s\n", percent, message)
}
