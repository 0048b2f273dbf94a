// Package flags wires the logging and version flags common to the
// rtpsd and rtpsctl command trees onto a cobra.Command, the way the
// teacher's ConfigureAndParse wires them onto a flag.FlagSet.
package flags

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rtpsmesh/rtpsd/pkg/rtpsversion"
)

// AddLoggingFlags adds --log-level as a persistent flag on cmd, and
// installs a PersistentPreRunE that applies it before any subcommand
// runs. Call this once on the root command.
func AddLoggingFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-level", log.InfoLevel.String(),
		"log level, must be one of: panic, fatal, error, warn, info, debug")

	prevPreRunE := cmd.PersistentPreRunE
	cmd.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		level, err := c.Flags().GetString("log-level")
		if err != nil {
			return err
		}
		if err := setLogLevel(level); err != nil {
			return err
		}
		if prevPreRunE != nil {
			return prevPreRunE(c, args)
		}
		return nil
	}
}

func setLogLevel(logLevel string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log-level %q: %w", logLevel, err)
	}
	log.SetLevel(level)
	return nil
}

// AddVersionCommand adds a "version" subcommand that prints
// rtpsversion.Version and exits, the way the teacher's --version flag
// shortcuts ConfigureAndParse.
func AddVersionCommand(cmd *cobra.Command) {
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Println(rtpsversion.Version)
			return nil
		},
	})
}

// LogRunningVersion logs the running build version at info level, the
// way the teacher logs it once ConfigureAndParse has decided the
// process isn't exiting early to print it.
func LogRunningVersion() {
	log.Infof("running version %s", rtpsversion.Version)
}

// FatalOnError logs err at fatal level and exits(1) if non-nil,
// mirroring the teacher's log.Fatalf call sites in its cmd/*/main.go
// entrypoints.
func FatalOnError(err error) {
	if err == nil {
		return
	}
	log.Fatalf("%s", err)
}
