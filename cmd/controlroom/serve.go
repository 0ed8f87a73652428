package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"controlroom/internal/controlroom"
	"controlroom/internal/server"
)

var (
	servePort         string
	servePollInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the store and serve the consolidated view over HTTP",
	Long: `Run discovery on the configured poll interval and expose the view:

  GET  /api/view?format=json|markdown
  GET  /api/projects/{project}
  GET  /api/projects/{project}/history?limit=N
  POST /api/discover[?async=true]
  GET  /api/status
  GET  /api/ws/view
  GET  /metrics
  GET  /healthz`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&servePort, "port", "", "Listen address (overrides PORT)")
	serveCmd.Flags().DurationVar(&servePollInterval, "poll-interval", 0, "Discovery interval (overrides CONTROLROOM_POLL_INTERVAL)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Port = servePort
	}
	if servePollInterval > 0 {
		cfg.PollInterval = servePollInterval
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{withPublisher: true, withAudit: true})
	if err != nil {
		return err
	}
	defer a.close()

	sched := controlroom.NewScheduler(a.svc, cfg.PollInterval)
	srv := server.New(cfg.Port, server.NewMux(server.NewHandler(a.svc, sched.Trigger), a.metrics.Handler()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("server exiting")
	return nil
}
