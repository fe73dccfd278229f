package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nitkach/mares/pkg/imagecache"
	"github.com/nitkach/mares/pkg/imagelookup"
	"github.com/nitkach/mares/pkg/logging"
	"github.com/nitkach/mares/pkg/otel"
	"github.com/nitkach/mares/pkg/store/entstore"
	"github.com/nitkach/mares/pkg/web"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	Addr        string
	DatabaseURL string
	RedisURL    string
	ImageAPI    string
	ImageTTL    time.Duration
	LogLevel    string
	LogFormat   string
	TraceStdout bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mares",
		Short: "A small record keeper for mares",
	}
	cmd.AddCommand(newServeCommand(), newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mares %s (commit=%s, date=%s)\n", version, commit, date)
		},
	}
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		Long: `Run the web server.

Records are kept in the database named by --database-url: either
sqlite:file:<path> or a postgres:// connection string. The table is created
on startup when missing.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Addr, "addr", getEnv("MARES_ADDR", ":3000"), "http listen address")
	f.StringVar(&opts.DatabaseURL, "database-url", getEnv("DATABASE_URL", "sqlite:file:mares.sqlite"), "database connection string")
	f.StringVar(&opts.RedisURL, "redis-url", getEnv("REDIS_URL", ""), "redis url for the image cache; empty disables caching")
	f.StringVar(&opts.ImageAPI, "image-api", getEnv("MARES_IMAGE_API", imagelookup.DefaultSearchURL), "image search endpoint; \"off\" disables image lookup")
	f.DurationVar(&opts.ImageTTL, "image-ttl", time.Hour, "how long a found image is cached")
	f.StringVar(&opts.LogLevel, "log-level", getEnv("MARES_LOG_LEVEL", "info"), "trace|debug|info|warn|error")
	f.StringVar(&opts.LogFormat, "log-format", getEnv("MARES_LOG_FORMAT", "json"), "json|console")
	f.BoolVar(&opts.TraceStdout, "trace-stdout", false, "print finished spans to stdout")
	return cmd
}

func serve(ctx context.Context, opts *serveOptions) error {
	log, err := logging.New(logging.Config{Level: opts.LogLevel, Format: opts.LogFormat})
	if err != nil {
		return err
	}

	shutdownTracing, err := otel.Init(ctx, otel.Config{ServiceVersion: version, UseStdout: opts.TraceStdout})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	st, err := entstore.Open(ctx, opts.DatabaseURL, entstore.WithLogger(log.With().Str("component", "store").Logger()))
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Str("dialect", st.Dialect()).Msg("store ready")

	images, closeImages, err := buildFinder(ctx, opts, log)
	if err != nil {
		return err
	}
	defer closeImages()

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           web.New(st, images, log.With().Str("component", "http").Logger()).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", opts.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// buildFinder returns nil when image lookup is switched off. A configured but
// unreachable redis is logged and skipped.
func buildFinder(ctx context.Context, opts *serveOptions, log zerolog.Logger) (imagelookup.Finder, func(), error) {
	noop := func() {}
	if opts.ImageAPI == "off" {
		return nil, noop, nil
	}
	client := imagelookup.New(imagelookup.WithSearchURL(opts.ImageAPI))
	if opts.RedisURL == "" {
		return client, noop, nil
	}
	cache, err := imagecache.OpenRedis(ctx, opts.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("image cache disabled")
		return client, noop, nil
	}
	finder := imagecache.NewFinder(client, cache, opts.ImageTTL, log.With().Str("component", "imagecache").Logger())
	return finder, func() { _ = cache.Close() }, nil
}

func getEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
