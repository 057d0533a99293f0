package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"swapline/internal/app"
	"swapline/internal/auth"
	"swapline/internal/config"
	"swapline/internal/docstore"
	"swapline/internal/domain"
	"swapline/internal/events"
)

func importCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import trades, challenge templates and challenges from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			fx, err := app.LoadFixtures(file)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := app.Import(ctx, rt.Store, fx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Imported %d trades, %d templates, %d challenges\n", res.Trades, res.Templates, res.Challenges)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "fixtures YAML path")
	return cmd
}

func tradeCmd() *cobra.Command {
	c := &cobra.Command{Use: "trade", Short: "Inspect trades"}
	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := listDocs[domain.Trade](ctx, rt.Store, domain.TradesCollection, status, limit)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					rows = append(rows, table.Row{t.ID, t.Status, t.CreatorID, t.ParticipantID, formatTime(t.CompletionRequestedAt), t.RemindersSent, t.AutoCompleted})
				}
				return printTable(items, table.Row{"ID", "Status", "Creator", "Participant", "Completion Requested", "Reminders", "Auto"}, rows)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().IntVar(&limit, "limit", 100, "max rows")
	c.AddCommand(list)
	return c
}

func challengeCmd() *cobra.Command {
	c := &cobra.Command{Use: "challenge", Short: "Inspect challenges"}
	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List challenges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := listDocs[domain.Challenge](ctx, rt.Store, domain.ChallengesCollection, status, limit)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, ch := range items {
					rows = append(rows, table.Row{ch.ID, ch.Status, ch.Title, ch.TemplateID, formatTime(&ch.StartDate), formatTime(&ch.EndDate)})
				}
				return printTable(items, table.Row{"ID", "Status", "Title", "Template", "Start", "End"}, rows)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().IntVar(&limit, "limit", 100, "max rows")
	c.AddCommand(list)
	return c
}

func notificationCmd() *cobra.Command {
	c := &cobra.Command{Use: "notification", Short: "Inspect notifications"}
	var user string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications for a user, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("--user required")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				q := docstore.Collection(domain.NotificationsCollection).
					Where("userId", docstore.Eq, user).
					Order("createdAt", true).
					Take(limit)
				docs, err := rt.Store.Query(ctx, q)
				if err != nil {
					return err
				}
				items, err := docstore.DecodeAll[domain.Notification](docs)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, n := range items {
					rows = append(rows, table.Row{formatTime(&n.CreatedAt), n.Type, n.Priority, n.Title, n.RelatedID})
				}
				return printTable(items, table.Row{"Created", "Type", "Priority", "Title", "Related"}, rows)
			})
		},
	}
	list.Flags().StringVar(&user, "user", "", "recipient user id")
	list.Flags().IntVar(&limit, "limit", 50, "max rows")
	c.AddCommand(list)
	return c
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				var items []domain.Event
				var err error
				if entityID != "" {
					items, err = events.ForEntity(ctx, rt.Store, entityID)
				} else {
					items, err = events.Tail(ctx, rt.Store, n)
				}
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, e := range items {
					rows = append(rows, table.Row{formatTime(&e.TS), e.Type, e.EntityKind, e.EntityID, e.ActorID})
				}
				return printTable(items, table.Row{"TS", "Type", "Kind", "Entity", "Actor"}, rows)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&entityID, "entity-id", "", "show the full history of one entity")
	c.AddCommand(tail)
	return c
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default swapline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
	c.AddCommand(initCmd, show)
	return c
}

func tokenCmd() *cobra.Command {
	c := &cobra.Command{Use: "token", Short: "API tokens"}
	var subject string
	var perms []string
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("SWAPLINE_JWT_SECRET (or --jwt-secret) is required")
			}
			if subject == "" {
				return fmt.Errorf("--subject required")
			}
			tok, err := auth.IssueToken(secret, subject, perms, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": tok, "subject": subject, "permissions": perms})
			}
			fmt.Println(tok)
			return nil
		},
	}
	issue.Flags().StringVar(&subject, "subject", "", "token subject, e.g. cron or a user id")
	issue.Flags().StringSliceVar(&perms, "perm", []string{auth.PermRunTriggers, auth.PermReadMarketplace}, "granted permissions ("+strings.Join([]string{auth.PermRunTriggers, auth.PermReadMarketplace, auth.PermAll}, ", ")+")")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 for no expiry")
	c.AddCommand(issue)
	return c
}

func listDocs[T any](ctx context.Context, store *docstore.Store, collection, status string, limit int) ([]T, error) {
	q := docstore.Collection(collection)
	if status != "" {
		q = q.Where("status", docstore.Eq, status)
	}
	if limit > 0 {
		q = q.Take(limit)
	}
	docs, err := store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return docstore.DecodeAll[T](docs)
}
