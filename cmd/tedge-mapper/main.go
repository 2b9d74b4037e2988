// Command tedge-mapper runs a single mapper instance: it resolves the
// instance's configuration directory, connects to the local MQTT broker,
// and drives whichever of the flow engine and bridge rule engine that
// directory's layout calls for until a termination signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thin-edge/tedge-mapper-core/internal/config"
	"github.com/thin-edge/tedge-mapper-core/internal/logging"
	"github.com/thin-edge/tedge-mapper-core/internal/mapperapp"
)

var (
	profile    string
	configFile string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tedge-mapper <name>",
		Short: "Run a thin-edge mapper instance",
		Long: `tedge-mapper connects to the local MQTT broker and runs the flow engine
and/or bridge rule engine configured for the named mapper instance under
/etc/tedge/mappers/<name>[.<profile>]/.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0])
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "", "mapper profile, e.g. 'staging' for tedge-mapper-c8y@staging")
	cmd.Flags().StringVar(&configFile, "config", "", "path to a mapper config TOML overriding the defaults")

	return cmd
}

func run(ctx context.Context, name string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()
	log := logging.NewScoped(logging.New(logging.DefaultConfig()), nil)

	app, err := mapperapp.New(mapperapp.Options{
		Name:    name,
		Profile: profile,
		Config:  cfg,
		Log:     log,
	})
	if err != nil {
		return fmt.Errorf("tedge-mapper: %w", err)
	}
	defer app.Stop()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("tedge-mapper: %w", err)
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// loadConfig layers defaults, an optional TOML file (via --config, and via
// viper's TEDGE_MAPPER_CONFIG env var for container deployments) and
// environment overrides, in that order of increasing precedence.
func loadConfig() config.MapperConfig {
	cfg := config.DefaultMapperConfig()

	viper.SetEnvPrefix("TEDGE_MAPPER")
	viper.AutomaticEnv()

	path := configFile
	if path == "" {
		path = viper.GetString("CONFIG")
	}
	if path != "" {
		layered := cfg
		if _, err := toml.DecodeFile(path, &layered); err == nil {
			cfg = layered
		}
	}

	return config.FromEnv(cfg)
}
