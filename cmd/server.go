package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/automind/internal/server"
	"github.com/ziadkadry99/automind/internal/suggest"
)

var (
	serverPort     int
	serverSubmit   bool
	serverAllowAll bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the automind HTTP API with scheduled detection",
	Long: `Starts the automind HTTP API for requests, clarification sessions and
suggestions. Detection passes run on the configured interval and expired
clarification sessions are swept in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		engine, err := a.newEngine(serverSubmit)
		if err != nil {
			return err
		}
		pass := a.newPass()
		scheduler := suggest.NewScheduler(pass, a.cfg.DetectionInterval, a.logger)

		srv := server.New(server.Config{
			Port:     serverPort,
			AllowAll: serverAllowAll,
		}, engine, pass, a.registry, a.logger)

		a.logger.Info("automind server starting",
			zap.String("version", Version),
			zap.Int("port", serverPort),
			zap.String("database", a.db.Path()),
			zap.Duration("detection_interval", a.cfg.DetectionInterval),
			zap.Bool("submit", serverSubmit),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return scheduler.Run(gctx) })
		g.Go(func() error { return engine.Sessions().Run(gctx) })
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "port to listen on")
	serverCmd.Flags().BoolVar(&serverSubmit, "submit", false, "deploy generated automations to Home Assistant")
	serverCmd.Flags().BoolVar(&serverAllowAll, "cors-allow-all", false, "allow all CORS origins")
	rootCmd.AddCommand(serverCmd)
}
