package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-researcher/internal/app"
	"github.com/JakeFAU/web-researcher/internal/config"
	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/logging"
	"github.com/JakeFAU/web-researcher/internal/metrics"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Crawl(ctx context.Context, seeds []string, depth int) (crawler.Summary, error)
	Retrieve(ctx context.Context, query string, k int) (crawler.RetrievalResult, error)
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// shutdownTimeout bounds flushing events and closing backends on exit.
const shutdownTimeout = 10 * time.Second

type rootOptions struct {
	cfgFile string
	logger  *zap.Logger
	metrics *http.Server
	app     App
}

// newRootCmd creates and configures the root command. The returned options
// hold whatever PersistentPreRunE built so it can be shut down even when
// the subcommand fails.
func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "researcher",
		Short: "Crawl the web into a vector index and query it.",
		Long: `researcher fetches pages politely, extracts their text, splits it into
overlapping chunks and stores embeddings in a vector index. The query
command answers natural-language questions from that index.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				File:        cfg.Logging.File,
				Format:      cfg.Logging.Format,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			opts.logger = logger
			zap.ReplaceGlobals(logger)

			if cfg.Metrics.Addr != "" {
				opts.metrics = startMetricsServer(cfg.Metrics.Addr, logger)
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newQueryCmd())
	return cmd, opts
}

func (o *rootOptions) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var errs []error
	if o.app != nil {
		if err := o.app.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		o.app = nil
	}
	if o.metrics != nil {
		if err := o.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
		o.metrics = nil
	}
	if o.logger != nil {
		// Syncing stderr fails on some platforms; nothing useful can be done.
		_ = o.logger.Sync()
	}
	return errors.Join(errs...)
}

func startMetricsServer(addr string, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metrics.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// executeRoot runs the CLI with args (os.Args when nil) and shuts down
// everything the command started.
func executeRoot(ctx context.Context, args []string, out io.Writer) error {
	root, opts := newRootCmd()
	if args != nil {
		root.SetArgs(args)
	}
	if out != nil {
		root.SetOut(out)
	}
	err := root.ExecuteContext(ctx)
	return errors.Join(err, opts.shutdown(ctx))
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := executeRoot(ctx, nil, nil)
	stop()
	if err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
