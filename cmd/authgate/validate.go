package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vyrodovalexey/authgate/internal/config"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := v.GetString(keyConfig)

			cfg, err := config.LoadAndValidate(path)
			if err != nil {
				return fmt.Errorf("configuration %s is invalid: %w", path, err)
			}

			locations := 0
			for _, srv := range cfg.Servers {
				locations += len(srv.Locations)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration %s is valid: %d server(s), %d location(s), %d upstream(s)\n",
				path, len(cfg.Servers), locations, len(cfg.Upstreams))
			return nil
		},
	}
}
