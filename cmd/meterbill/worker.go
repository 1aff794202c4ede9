package main

import (
	"github.com/bher20/meterbill/internal/alerting"
	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/config"
	"github.com/bher20/meterbill/internal/cron"
	"github.com/bher20/meterbill/internal/notification"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newWorkerCmd(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run scheduled jobs: monthly statements and token cleanup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(st)

			authSvc, err := a.authService(st)
			if err != nil {
				return err
			}
			mailer := notification.NewService(mailConfig(a.cfg))
			if !mailer.Enabled() {
				log.Warn().Msg("email_provider is not set, statements will fail to send")
			}
			alerter := alerting.NewAlerter(alerting.Config{
				WebhookURL:  a.cfg.AlertWebhookURL,
				WebhookType: a.cfg.AlertWebhookType,
			})
			statements := cron.NewStatementJob(st, billing.NewService(st), mailer, alerter)

			if once {
				return statements.RunOnce(ctx)
			}
			return cron.Run(ctx,
				statements.Job(a.cfg.StatementSchedule),
				cron.PurgeTokensJob(a.cfg.TokenPurgeSchedule, authSvc),
			)
		},
	}
	cmd.Flags().String("schedule", "", "cron expression for statements (default \"0 6 1 * *\")")
	cmd.Flags().BoolVar(&once, "once", false, "send last month's statements now and exit")
	return cmd
}

func mailConfig(c config.Config) notification.Config {
	return notification.Config{
		Provider:       c.EmailProvider,
		FromAddress:    c.EmailFrom,
		FromName:       c.EmailFromName,
		Host:           c.SMTPHost,
		Port:           c.SMTPPort,
		Username:       c.SMTPUsername,
		Password:       c.SMTPPassword,
		Encryption:     c.SMTPEncryption,
		SendGridAPIKey: c.SendGridAPIKey,
	}
}
