package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yangwenmai/labnotebook/internal/api"
	"github.com/yangwenmai/labnotebook/internal/workspace"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a workspace",
		Long: `Create the .lab directory with a default config.yaml, the index
database and the content store. Running init on an existing workspace
applies pending migrations and leaves the config untouched.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := rootOpts.Workspace
			if len(args) == 1 {
				root = args[0]
			}
			paths, err := workspace.Init(root)
			if err != nil {
				return WrapExitError(ExitStorage, "init workspace", err)
			}
			abs, err := filepath.Abs(filepath.Join(paths.Root, workspace.DirName))
			if err != nil {
				abs = filepath.Join(paths.Root, workspace.DirName)
			}
			if rootOpts.Format == "json" {
				return rootOpts.output(cmd).Success(paths)
			}
			return rootOpts.output(cmd).Success("Initialized workspace in " + abs)
		},
	}
}

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	NoWorker bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the execution worker",
		Long: `Serve the JSON API and, unless --no-worker is set, run the background
worker that executes queued entries. SIGINT or SIGTERM shuts both down.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.NoWorker, "no-worker", false, "do not run the execution worker")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	ws, err := opts.open()
	if err != nil {
		return err
	}
	defer ws.Close()

	addr := ws.Config.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	srv := api.New(ws.Engine, api.Options{
		CORSOrigin:   ws.Config.CORSOrigin,
		MaxBodyBytes: ws.Config.MaxBodyBytes,
		Metrics:      ws.Metrics,
		Gatherer:     ws.Gatherer,
		Logger:       ws.Log,
	})
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if !opts.NoWorker {
		w := ws.Worker()
		g.Go(func() error {
			return w.Start(ctx)
		})
	}
	g.Go(func() error {
		ws.Log.Info("labnb server listening", "addr", addr, "workspace", ws.Paths.Root)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		ws.Log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "serve", err)
	}
	return nil
}
