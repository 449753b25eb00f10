// Package cli implements the persona-scorer command line.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "persona-scorer",
	Short: "Visitor persona and journey-stage scoring service",
	Long: `persona-scorer consumes anonymous storefront events, keeps per-visitor state
and scores each visitor's persona and journey stage.

Running without a subcommand starts the HTTP service (same as 'persona-scorer serve').
Configuration is read from the environment.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. JSON to stdout, or a console writer in
// development.
func newLogger(development bool, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if development {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	log.Logger = logger
	return logger
}
