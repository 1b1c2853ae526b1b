package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/devserve/config"
	"github.com/angeloszaimis/devserve/internal/serve"
	"github.com/angeloszaimis/devserve/internal/shutdown"
	"github.com/angeloszaimis/devserve/pkg/logger"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "devserve",
		Short: "Serve build output with live reload and backend proxies",
		Long: `Serve the dist directory over HTTP or HTTPS, rebuild on source changes,
reload connected browsers after every successful build, and forward
selected paths to backend services.

Settings are read from devserve.yaml (in . or ./config), DEVSERVE_*
environment variables and the flags below, in increasing priority.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				slog.Error("failed to load config", slog.Any("err", err))
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "Config file (default: devserve.yaml)")
	flags.String("address", "", "Address to bind (default 127.0.0.1)")
	flags.IntP("port", "p", 0, "Port to listen on (default 8080)")
	flags.Bool("open", false, "Open the site in the default browser")
	flags.Bool("no-autoreload", false, "Disable reloading browsers after builds")
	flags.String("tls-cert", "", "TLS certificate (PEM)")
	flags.String("tls-key", "", "TLS private key (PEM)")
	flags.StringP("dist", "d", "", "Directory to serve (default dist)")
	flags.String("public-url", "", "Path the dist directory is served under (default /)")
	flags.String("build-command", "", "Shell command run for every build")
	flags.String("proxy-backend", "", "Backend URL to proxy to")
	flags.String("proxy-rewrite", "", "Path to mount the proxy at instead of the backend path")
	flags.Bool("proxy-ws", false, "Proxy WebSocket connections")
	flags.Bool("proxy-insecure", false, "Skip certificate checks for the proxy backend")
	flags.String("log-level", "", "Log level: debug, info, warn, error")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.New(os.Stdout, cfg.Logging.Level, false, cfg.Logging.Environment)

	sig := shutdown.New()

	sys, err := serve.New(cfg, sig, log)
	if err != nil {
		log.Error("Failed to create serve system", slog.Any("err", err))
		sig.Close()
		return err
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down...")
		sig.Trigger()
		sig.Close()
	}()

	if err := sys.Run(ctx); err != nil {
		log.Error("Serve system failed", slog.Any("err", err))
		return err
	}

	return nil
}
