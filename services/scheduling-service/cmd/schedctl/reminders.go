package main

import (
	"encoding/json"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/notify"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/reminders"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/storage"
	"github.com/spf13/cobra"
)

func newProcessRemindersCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "process-reminders",
		Short: "Run one notification delivery pass",
		Long: `Claims due notification queue items and delivers them over SMTP or the
SMS webhook. Safe to run from cron alongside the service endpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.remindersConfig()
			if err != nil {
				return err
			}
			pool, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			proc := reminders.NewProcessor(storage.NewStore(pool), a.dispatcher(), cfg, a.logger)
			res, err := proc.ProcessDue(cmd.Context(), limit)
			enc := json.NewEncoder(cmd.OutOrStdout())
			if encErr := enc.Encode(res); encErr != nil {
				return encErr
			}
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum items to claim (default REMINDER_BATCH_SIZE)")
	return cmd
}

func (a *app) dispatcher() *notify.Dispatcher {
	var email notify.EmailSender
	if host := a.v.GetString("SMTP_HOST"); host != "" {
		email = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     host,
			Port:     a.v.GetString("SMTP_PORT"),
			From:     a.v.GetString("SMTP_FROM"),
			Username: a.v.GetString("SMTP_USERNAME"),
			Password: a.v.GetString("SMTP_PASSWORD"),
		})
	} else {
		a.logger.Warn("SMTP_HOST not set; email notifications will fail undelivered")
	}
	var sms notify.SMSSender
	if url := a.v.GetString("SMS_WEBHOOK_URL"); url != "" {
		sms = notify.NewWebhookSender(url, a.v.GetString("SMS_WEBHOOK_TOKEN"))
	}
	return notify.NewDispatcher(email, sms)
}
