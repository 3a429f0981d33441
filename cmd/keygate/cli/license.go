package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/keygatehq/keygate/internal/model"
	"github.com/keygatehq/keygate/internal/service"
	"github.com/keygatehq/keygate/internal/store"
)

func newLicenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Issue and manage license keys",
	}

	cmd.AddCommand(newLicenseIssueCmd())
	cmd.AddCommand(newLicenseListCmd())
	cmd.AddCommand(newLicenseRevokeCmd())

	return cmd
}

func newLicenseIssueCmd() *cobra.Command {
	var (
		app     string
		count   int
		seats   int
		expires string
		machine string
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue new license keys for an app",
		Example: `  keygate license issue --app "My Widget" --count 10 --seats 2
  keygate license issue --app my-widget --expires 2027-01-01
  keygate license issue --app my-widget --machine mach-0042`,
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

			params := service.IssueParams{
				AppIdentifier:   app,
				Count:           count,
				MaxActivations:  seats,
				LockedMachineID: machine,
			}
			if expires != "" {
				exp, err := time.Parse("2006-01-02", expires)
				if err != nil {
					return fmt.Errorf("invalid --expires (want YYYY-MM-DD): %w", err)
				}
				params.ExpiresAt = &exp
			}

			lics, err := stk.licensing.Issue(context.Background(), params)
			if err != nil {
				return err
			}
			for _, lic := range lics {
				fmt.Fprintln(cmd.OutOrStdout(), lic.LicenseKey)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&app, "app", "", "App name or slug (required)")
	cmd.Flags().IntVar(&count, "count", 1, "Number of keys to issue")
	cmd.Flags().IntVar(&seats, "seats", 1, "Max concurrent activations per key")
	cmd.Flags().StringVar(&expires, "expires", "", "License expiry date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&machine, "machine", "", "Lock each issued key to this machine id")
	cmd.MarkFlagRequired("app")

	return cmd
}

func newLicenseListCmd() *cobra.Command {
	var (
		app    string
		status string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issued licenses",
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

			lics, err := stk.licensing.List(context.Background(), store.LicenseFilter{
				AppName: app,
				Status:  model.LicenseStatus(status),
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tAPP\tSTATUS\tSEATS\tID")
			for _, lic := range lics {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
					lic.LicenseKey, lic.AppName, lic.Status,
					lic.ActiveActivations, lic.MaxActivations, lic.ID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&app, "app", "", "Filter by app name")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (active or revoked)")

	return cmd
}

func newLicenseRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <license-id>",
		Short: "Revoke a license key",
		Args:  cobra.ExactArgs(1),
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

			lic, err := stk.licensing.SetStatus(context.Background(), args[0], model.LicenseStatusRevoked)
			if err != nil {
				return err
			}
			fmt.Printf("revoked %s (%s)\n", lic.LicenseKey, lic.ID)
			return nil
		},
	}
}
