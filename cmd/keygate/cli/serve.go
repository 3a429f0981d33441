package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keygatehq/keygate/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keygate API server",
		Long:  "Start the HTTP server exposing the public activation protocol and the authenticated admin API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if v := viper.GetString("server.host"); v != "" {
		cfg.Server.Host = v
	}

	stk, err := openStack(cfg)
	if err != nil {
		return err
	}
	// The server owns the store from here; it closes it on shutdown.

	stk.logger.Info("store opened", "driver", stk.store.Driver())

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeoutDuration(),
		CORSOrigins:     cfg.Server.CORS.Origins,
		RatePerMinute:   cfg.Server.RatePerMinute,
	}
	if srvCfg.RatePerMinute <= 0 {
		srvCfg.RatePerMinute = 60
	}
	if len(srvCfg.CORSOrigins) == 0 {
		srvCfg.CORSOrigins = []string{"*"}
	}

	srv := server.New(srvCfg, stk.store, stk.licensing, stk.catalog, stk.auth, stk.logger)
	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
