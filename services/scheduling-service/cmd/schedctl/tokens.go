package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/storage"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/tokens"
	"github.com/spf13/cobra"
)

func newIssueTokensCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "issue-tokens <appointment-id>",
		Short: "Replace an appointment's action links and print them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			mgr := tokens.NewManager(tokens.Deps{
				Store:  storage.NewStore(pool),
				Logger: a.logger,
				TTL:    time.Duration(a.v.GetInt("TOKEN_TTL_HOURS")) * time.Hour,
			})
			issued, err := mgr.Issue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			links := tokens.Links(a.v.GetString("PUBLIC_BASE_URL"), issued)
			actions := make([]string, 0, len(links))
			for action := range links {
				actions = append(actions, string(action))
			}
			sort.Strings(actions)
			for _, action := range actions {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", action, links[model.TokenAction(action)])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expires    %s\n", issued.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
}
