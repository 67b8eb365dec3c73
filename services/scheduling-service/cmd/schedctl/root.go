package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brokerdesk/crm/libs/db"
	"github.com/brokerdesk/crm/libs/runtime"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/reminders"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries what every subcommand needs once flags and config are parsed.
type app struct {
	v      *viper.Viper
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	var cfgFile string

	root := &cobra.Command{
		Use:           "schedctl",
		Short:         "Operate the property showing scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cfgFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./schedctl.yaml)")
	root.PersistentFlags().String("database-url", "", "postgres url (env DATABASE_URL)")
	root.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	_ = a.v.BindPFlag("DATABASE_URL", root.PersistentFlags().Lookup("database-url"))
	_ = a.v.BindPFlag("LOG_LEVEL", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newMigrateCmd(a),
		newProcessRemindersCmd(a),
		newIssueTokensCmd(a),
		newCalendarCmd(a),
		newHealthCmd(a),
	)
	return root
}

func (a *app) load(cfgFile string) error {
	a.v.AutomaticEnv()
	a.v.SetDefault("LOG_LEVEL", "info")
	a.v.SetDefault("REMINDER_OFFSETS_MINUTES", "1440,60")
	a.v.SetDefault("REMINDER_MAX_ATTEMPTS", 5)
	a.v.SetDefault("REMINDER_RETRY_BACKOFF_SECONDS", 300)
	a.v.SetDefault("TOKEN_TTL_HOURS", 168)
	a.v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	a.v.SetDefault("SMTP_PORT", "587")
	a.v.SetDefault("CALENDAR_PROVIDER", "google")
	a.v.SetDefault("GOOGLE_CALENDAR_ID", "primary")
	a.v.SetDefault("GRPC_ADDR", "localhost:9090")

	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		a.v.SetConfigName("schedctl")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	a.logger = runtime.NewLogger("schedctl", a.v.GetString("LOG_LEVEL"))
	return nil
}

func (a *app) openDB(ctx context.Context) (*db.Pool, error) {
	url := strings.TrimSpace(a.v.GetString("DATABASE_URL"))
	if url == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return db.Open(ctx, url, db.Options{MaxConns: 4})
}

func (a *app) remindersConfig() (reminders.Config, error) {
	offsets, err := reminders.ParseOffsets(a.v.GetString("REMINDER_OFFSETS_MINUTES"))
	if err != nil {
		return reminders.Config{}, err
	}
	return reminders.Config{
		Offsets:       offsets,
		AdminEmail:    a.v.GetString("ADMIN_EMAIL"),
		PublicBaseURL: a.v.GetString("PUBLIC_BASE_URL"),
		SMSEnabled:    a.v.GetBool("SMS_ENABLED"),
		MaxAttempts:   a.v.GetInt("REMINDER_MAX_ATTEMPTS"),
		RetryBackoff:  time.Duration(a.v.GetInt("REMINDER_RETRY_BACKOFF_SECONDS")) * time.Second,
		BatchSize:     a.v.GetInt("REMINDER_BATCH_SIZE"),
	}, nil
}
