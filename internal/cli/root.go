package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailthread/internal/logger"
	"mailthread/internal/metrics"

	"github.com/spf13/cobra"
)

// app carries the state shared by subcommands.
type app struct {
	logLevel    string
	logFormat   string
	metricsAddr string

	log     *slog.Logger
	metrics *http.Server
}

func (a *app) logger() *slog.Logger {
	if a.log == nil {
		return logger.Discard()
	}
	return a.log
}

func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:          "mailthread",
		Short:        "mailthread searches IMAP mailboxes and rebuilds conversation threads",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.start(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.stop()
		},
	}

	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format (text, json)")
	cmd.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")

	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newReadCmd(a))
	cmd.AddCommand(newConfigCmd())

	cmd.SetErr(os.Stderr)
	cmd.SetOut(os.Stdout)

	return cmd
}

// start builds the logger from flags, falling back to the log section of the
// config, and starts the metrics listener when requested.
func (a *app) start(cmd *cobra.Command) error {
	cfg := logger.DefaultConfig()
	if loaded, err := loadConfig(false); err == nil {
		if loaded.Log.Level != "" {
			cfg.Level = loaded.Log.Level
		}
		if loaded.Log.Format != "" {
			cfg.Format = loaded.Log.Format
		}
	}
	if a.logLevel != "" {
		cfg.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Format = a.logFormat
	}
	a.log = logger.NewWithWriter(cfg, cmd.ErrOrStderr())
	slog.SetDefault(a.log)

	if a.metricsAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", a.metricsAddr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server stopped", "error", err)
		}
	}()
	a.log.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

func (a *app) stop() error {
	if a.metrics == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.metrics.Shutdown(ctx)
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
