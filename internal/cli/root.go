// Package cli implements the labnb command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/labnotebook/internal/config"
	"github.com/yangwenmai/labnotebook/internal/model"
	"github.com/yangwenmai/labnotebook/internal/workspace"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	Workspace string

	config config.Config
	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the labnb CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labnb",
		Short: "labnb - a lab notebook for executable experiments",
		Long: `A lab notebook that records experiments as executable entries.

Entries are grouped into pages and notebooks, dispatched to integrations,
linked by lineage edges and their artifacts kept in a content-addressed store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitUsage, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			config.LoadEnvFiles()
			opts.Workspace = config.WorkspaceDir(opts.Workspace)
			cfg, err := config.Load(workspace.PathsFor(opts.Workspace).Config)
			if err != nil {
				return WrapExitError(ExitUsage, "invalid configuration", err)
			}
			opts.config = cfg
			opts.logger = newLogger(cmd.ErrOrStderr(), cfg.LogFormat, opts.Verbose)
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitUsage, "invalid flags", err)
	})

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Workspace, "workspace", "w", "", "workspace directory (default $LABNB_WORKSPACE or .)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewNotebookCommand(opts))
	cmd.AddCommand(NewPageCommand(opts))
	cmd.AddCommand(NewEntryCommand(opts))
	cmd.AddCommand(NewBlobCommand(opts))
	cmd.AddCommand(NewVarsCommand(opts))
	cmd.AddCommand(NewIntegrationsCommand(opts))

	return cmd
}

// Run executes the CLI with args and returns the process exit code. Errors
// are reported on stderr, or on stdout as a JSON error response when
// --format=json is set.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	code := GetExitCode(err)
	var details any
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		details = exitErr.Details
	}
	f := &OutputFormatter{Format: opts.Format, Writer: stdout, ErrWriter: stderr}
	_ = f.Error(errorCode(code), err.Error(), details)
	return code
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func newLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func (o *RootOptions) output(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// open opens the workspace selected by --workspace. The caller closes it.
func (o *RootOptions) open() (*workspace.Workspace, error) {
	ws, err := workspace.Open(o.Workspace, o.config, o.logger)
	if err != nil {
		return nil, classify("open workspace", err)
	}
	return ws, nil
}

// withWorkspace opens the workspace, runs fn and closes it again.
func (o *RootOptions) withWorkspace(fn func(ws *workspace.Workspace) error) error {
	ws, err := o.open()
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ws)
}

// exactArgs is cobra.ExactArgs reporting a usage exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return WrapExitError(ExitUsage, "invalid arguments", err)
		}
		return nil
	}
}

// parseObject decodes a JSON object given inline or as @path.
func parseObject(flag, value string) (model.Object, error) {
	if value == "" {
		return nil, nil
	}
	data := []byte(value)
	if path, ok := strings.CutPrefix(value, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, WrapExitError(ExitUsage, "read --"+flag, err)
		}
		data = b
	}
	obj, err := model.DecodeObject(data)
	if err != nil {
		return nil, WrapExitError(ExitUsage, "invalid --"+flag, err)
	}
	return obj, nil
}

// parseValue decodes s as JSON, falling back to the raw string.
func parseValue(s string) any {
	v, err := model.DecodeValue([]byte(s))
	if err != nil {
		return s
	}
	return v
}
