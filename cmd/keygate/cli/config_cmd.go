package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the keygate configuration file",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

const starterConfig = `# keygate configuration
server:
  host: 0.0.0.0
  port: 8080
  shutdown_timeout: 30s
  rate_per_minute: 60
  cors:
    origins: ["*"]

database:
  # driver: sqlite, postgres, or mysql
  driver: sqlite
  dsn: keygate.db

auth:
  # Both secrets must be at least 32 bytes. Inject them from the
  # environment rather than committing them.
  session_secret: ${KEYGATE_SESSION_SECRET}
  activation_secret: ${KEYGATE_ACTIVATION_SECRET}

licenses:
  default_token_ttl_days: 30

logging:
  level: info
  format: text
`

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter keygate.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "keygate.yaml"
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			if err := os.WriteFile(path, []byte(starterConfig), 0o600); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// Never print the secrets.
			cfg.Auth.SessionSecret = redact(cfg.Auth.SessionSecret)
			cfg.Auth.ActivationSecret = redact(cfg.Auth.ActivationSecret)

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			cmd.OutOrStdout().Write(out)
			return nil
		},
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "<set>"
}
