package main

import (
	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/ingest"
	"github.com/spf13/cobra"
)

func newIngestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Subscribe to MQTT meter telemetry and record readings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(st)

			h := ingest.NewHandler(st, billing.NewService(st))
			return ingest.NewSubscriber(ingest.Config{
				Broker:   a.cfg.MQTTBroker,
				Topic:    a.cfg.MQTTTopic,
				ClientID: a.cfg.MQTTClientID,
			}, h).Run(ctx)
		},
	}
	cmd.Flags().String("broker", "", "MQTT broker URL (default tcp://localhost:1883)")
	cmd.Flags().String("topic", "", "topic to subscribe to (default meterbill/readings)")
	return cmd
}
