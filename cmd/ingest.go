package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ziadkadry99/automind/internal/progress"
	"github.com/ziadkadry99/automind/internal/telemetry"
)

var ingestBackfill bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Record state changes from Home Assistant's MQTT statestream",
	Long: `Subscribes to the MQTT statestream published by Home Assistant and stores
every state change for detection. With --backfill the recorder history of
the configured window is copied first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if ingestBackfill {
			n, err := a.backfill(ctx, progress.NewReporter("Backfilling history"))
			if err != nil {
				return fmt.Errorf("backfill: %w", err)
			}
			a.logger.Info("backfill complete", zap.Int("transitions", n))
		}

		if a.cfg.MQTT.Broker == "" {
			return errors.New("mqtt.broker is not configured")
		}
		ing := telemetry.NewIngester(a.cfg.MQTT.Broker, a.cfg.MQTT.TopicPrefix, a.cfg.MQTT.ClientID, a.history, a.logger)
		a.logger.Info("ingesting statestream", zap.String("broker", a.cfg.MQTT.Broker), zap.String("topic", ing.Topic()))

		if err := ing.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestBackfill, "backfill", false, "copy recorder history from Home Assistant first")
	rootCmd.AddCommand(ingestCmd)
}
