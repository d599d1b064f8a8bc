package main

import (
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tradebook/config"
)

// app is the state shared by every subcommand once the root pre-run has
// loaded the configuration.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        config.Config
	log        zerolog.Logger
}

func main() {
	a := &app{v: viper.New()}
	if err := newRootCmd(a).Execute(); err != nil {
		a.log.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "tradebook",
		Short:         "Limit and stop order exchange over an AMM router",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.v, a.configFile)
			if err != nil {
				return err
			}
			log, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, log
			return nil
		},
	}
	// usable before the config is loaded
	a.log = zerolog.New(os.Stderr).With().Timestamp().Logger()

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default <home>/config.toml)")
	flags.String("home", "", "directory for config and data")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "", "log format (json or text)")
	for key, flag := range map[string]string{
		"home":       "home",
		"log.level":  "log-level",
		"log.format": "log-format",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(newServeCmd(a), newReplayCmd(a), newTailCmd(a))
	return root
}

func newLogger(w io.Writer, c config.LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return zerolog.Logger{}, errors.Wrapf(err, "log level %q", c.Level)
	}
	if c.Format == "text" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
