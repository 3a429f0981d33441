package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAppCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manage the app catalog",
	}

	cmd.AddCommand(newAppCreateCmd())
	cmd.AddCommand(newAppListCmd())

	return cmd
}

func newAppCreateCmd() *cobra.Command {
	var (
		name string
		slug string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new app",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			stk, err := openStack(cfg)
			if err != nil {
				return err
			}
			defer stk.Close()

			app, err := stk.catalog.Create(context.Background(), name, slug, nil)
			if err != nil {
				return err
			}
			fmt.Printf("created app %s (slug %s, id %s)\n", app.Name, app.Slug, app.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "App display name (required)")
	cmd.Flags().StringVar(&slug, "slug", "", "URL slug (derived from the name if omitted)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newAppListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered apps",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			stk, err := openStack(cfg)
			if err != nil {
				return err
			}
			defer stk.Close()

			apps, err := stk.catalog.List(context.Background())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSLUG\tSTATUS\tID")
			for _, a := range apps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Name, a.Slug, a.Status, a.ID)
			}
			return w.Flush()
		},
	}
}
