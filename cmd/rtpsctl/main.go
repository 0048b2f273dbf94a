// Command rtpsctl talks to a running rtpsd's admin HTTP surface to
// render its discovered participants, matched endpoints, and writer
// cache occupancy, and to stream live match/unmatch events.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rtpsmesh/rtpsd/pkg/flags"
)

var (
	stdout = color.Output
	stderr = color.Error

	okStatus   = color.New(color.FgGreen, color.Bold).SprintFunc()("✓")
	warnStatus = color.New(color.FgYellow, color.Bold).SprintFunc()("•")
)

func main() {
	var adminAddr string

	root := &cobra.Command{
		Use:   "rtpsctl",
		Short: "Inspect a running rtpsd's discovery and cache state",
	}
	root.PersistentFlags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:9990", "address of rtpsd's admin HTTP surface")

	flags.AddLoggingFlags(root)
	flags.AddVersionCommand(root)

	root.AddCommand(newParticipantsCommand(&adminAddr))
	root.AddCommand(newMatchesCommand(&adminAddr))
	root.AddCommand(newCacheCommand(&adminAddr))
	root.AddCommand(newWatchCommand(&adminAddr))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		os.Exit(1)
	}
}
