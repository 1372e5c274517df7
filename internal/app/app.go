package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/musicstream/backend/internal/config"
	"github.com/musicstream/backend/internal/db"
	"github.com/musicstream/backend/internal/handlers"
	"github.com/musicstream/backend/internal/httpserver"
	"github.com/musicstream/backend/internal/logging"
	"github.com/musicstream/backend/internal/metrics"
)

// Run bootstraps the musicstream backend application.
func Run(ctx context.Context, args []string) error {
	return newCommand(os.Stdout).Run(ctx, args)
}

type runner struct {
	out io.Writer
}

func newCommand(out io.Writer) *cli.Command {
	r := &runner{out: out}
	return &cli.Command{
		Name:  "musicstream",
		Usage: "Music search, streaming and library backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML configuration file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Apply migrations and start the HTTP API",
				Action: r.serve,
			},
			{
				Name:      "migrate",
				Usage:     "Apply or inspect database migrations",
				ArgsUsage: "[up|status]",
				Action:    r.migrate,
			},
			{
				Name:      "resolve",
				Usage:     "Print the media URL yt-dlp resolves for a video",
				ArgsUsage: "<videoId>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "download", Usage: "Use the download format policy"},
				},
				Action: r.resolve,
			},
		},
	}
}

func (r *runner) setup(cmd *cli.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return config.Config{}, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func (r *runner) serve(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := r.setup(cmd)
	if err != nil {
		return err
	}

	database, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	dialect, err := db.DialectOf(cfg.Database.Driver)
	if err != nil {
		return err
	}
	if _, err := db.Migrate(ctx, database, dialect, logger); err != nil {
		return err
	}

	rec := metrics.New()
	deps, cleanup, err := buildDependencies(ctx, database, cfg, logger, rec)
	if err != nil {
		return err
	}

	srv := httpserver.New(httpserver.Options{
		Port:              cfg.Server.Port,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Duration,
		WriteTimeout:      cfg.Server.WriteTimeout.Duration,
	}, handlers.NewRouter(deps))

	logger.Info("starting http server", "port", cfg.Server.Port, "driver", cfg.Database.Driver, "cloud", deps.Objects != nil)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout(cfg.Server.ShutdownTimeout.Duration))
	defer cancel()

	return errors.Join(runErr, srv.Shutdown(shutdownCtx), cleanup(shutdownCtx))
}

func (r *runner) migrate(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := r.setup(cmd)
	if err != nil {
		return err
	}

	command := "up"
	if cmd.Args().Present() {
		command = cmd.Args().First()
	}

	dialect, err := db.DialectOf(cfg.Database.Driver)
	if err != nil {
		return err
	}
	database, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	switch command {
	case "status":
		statuses, err := db.Status(ctx, database, dialect)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			mark := " "
			if s.Applied {
				mark = "x"
			}
			fmt.Fprintf(r.out, "[%s] %s\n", mark, s.Name)
		}
		return nil
	case "up":
		applied, err := db.Migrate(ctx, database, dialect, logger)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(r.out, "no migrations to apply")
			return nil
		}
		for _, name := range applied {
			fmt.Fprintf(r.out, "applied migration %s\n", name)
		}
		return nil
	case "down":
		return errors.New("down migrations are not supported")
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}

func (r *runner) resolve(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := r.setup(cmd)
	if err != nil {
		return err
	}
	videoID := cmd.Args().First()
	if videoID == "" {
		return errors.New("expected a video id")
	}

	resolver := newResolver(cfg, logger, nil)
	resolve := resolver.ResolveStream
	if cmd.Bool("download") {
		resolve = resolver.ResolveDownloadTarget
	}

	ref, err := resolve(ctx, videoID)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, ref.URL)
	if ref.Fallback {
		fmt.Fprintln(r.out, "(fallback sample, resolution failed)")
	}
	if ref.ExpiresHint != "" {
		fmt.Fprintf(r.out, "expires: %s\n", ref.ExpiresHint)
	}
	return nil
}
