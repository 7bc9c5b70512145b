package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vyrodovalexey/authgate/internal/config"
	"github.com/vyrodovalexey/authgate/internal/observability"
)

const (
	envPrefix         = "AUTHGATE"
	defaultConfigPath = "configs/authgate.yaml"

	keyConfig    = "config"
	keyLogLevel  = "log-level"
	keyLogFormat = "log-format"
)

// newRootCmd builds the command tree. Flags are bound through a private
// viper instance so AUTHGATE_CONFIG, AUTHGATE_LOG_LEVEL and
// AUTHGATE_LOG_FORMAT override their defaults.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "authgate",
		Short: "authgate - subrequest authorization gateway",
		Long: `authgate is an HTTP gateway that authorizes each request by issuing an
internal subrequest to an auth location before serving it.

A 2xx answer lets the request proceed, 401 and 403 are returned to the
client (401 with the check's WWW-Authenticate header), anything else is an
internal error.

Environment variables override flags with the AUTHGATE_ prefix.
Example: AUTHGATE_LOG_LEVEL=debug`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String(keyConfig, defaultConfigPath, "path to configuration file")
	flags.String(keyLogLevel, "", "log level override (debug, info, warn, error)")
	flags.String(keyLogFormat, "", "log format override (json, console)")
	_ = v.BindPFlags(flags)

	root.AddCommand(
		newServeCmd(v),
		newValidateCmd(v),
		newVersionCmd(),
	)

	return root
}

// logConfig merges the configuration file's logging section with the
// command line overrides.
func logConfig(v *viper.Viper, cfg *config.Config) observability.LogConfig {
	lc := observability.DefaultLogConfig()
	if cfg != nil {
		lc.Level = cfg.Logging.Level
		lc.Format = cfg.Logging.Format
		lc.Output = cfg.Logging.Output
	}
	if level := v.GetString(keyLogLevel); level != "" {
		lc.Level = level
	}
	if format := v.GetString(keyLogFormat); format != "" {
		lc.Format = format
	}
	return lc
}
