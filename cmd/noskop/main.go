package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/nsfm/noskop/internal/cliconfig"
)

var longHelp = strings.TrimSpace(`
Drive a Marlin controlled microscope stage from a game controller.

Inputs arrive over the /ws/input websocket and are turned into short relative
travels, paced so each one reaches the board just before the last decelerates.
State is published on /api/state, /events/state and /ws.

Without --device the built-in simulator stands in for the board.
`)

var exampleUsage = strings.TrimSpace(`
  noskop --device /dev/ttyACM0 --profile ~/.noskop/profile.yaml
  noskop --listen :8420 --log-level debug
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	log := cliconfig.Logger(cfg.LogLevel)

	root := &cobra.Command{
		Use:          "noskop",
		Short:        "Drive a Marlin microscope stage from a game controller",
		Long:         longHelp,
		Example:      exampleUsage,
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			haveFile := cfgFile != "" && cliconfig.FileExists(cfgFile)
			if haveFile {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			// NOSKOP_* override the file, flags override both
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			log = cliconfig.Logger(cfg.LogLevel)
			log.Info().Interface("config", cfg).Msg("configuration")

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			s, err := openScope(cfg, log)
			if err != nil {
				return err
			}
			if haveFile && cfg.Watch {
				s.watch(ctx, cfgFile)
			}
			return s.run(ctx)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.noskop/config.toml)")
	root.Flags().StringVar(&cfg.Device, "device", cfg.Device, `serial device of the controller, or "sim" for the simulator`)
	root.Flags().IntVar(&cfg.Baud, "baud", cfg.Baud, "serial baud rate")
	root.Flags().Float64Var(&cfg.CommandRate, "command-rate", cfg.CommandRate, "maximum commands sent per second")
	root.Flags().DurationVar(&cfg.ResponseTimeout, "response-timeout", cfg.ResponseTimeout, "stop the machine if a command is not acknowledged in time (0 waits forever)")
	root.Flags().Float64Var(&cfg.MaxSpeed, "max-speed", cfg.MaxSpeed, "fastest allowed feedrate in mm/s")
	root.Flags().StringVar(&cfg.ProfilePath, "profile", cfg.ProfilePath, "motion profile YAML (default: built-in)")

	root.Flags().StringVar(&cfg.Listen, "listen", cfg.Listen, "address for the state and input API (empty disables)")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	root.Flags().BoolVar(&cfg.Watch, "watch", cfg.Watch, "reload [stage] settings when the config file changes")

	root.Flags().Float64Var(&cfg.BoostPower, "boost-power", cfg.BoostPower, "feedrate multiplier at full boost")
	root.Flags().Float64Var(&cfg.TravelPower, "travel-power", cfg.TravelPower, "mm per travel at full stick")
	root.Flags().Float64Var(&cfg.FocusStep, "focus-step", cfg.FocusStep, "mm per focus travel")
	root.Flags().Float64Var(&cfg.MoveRate, "move-rate", cfg.MoveRate, "input samples per second")

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("noskop")
		os.Exit(1)
	}
}
