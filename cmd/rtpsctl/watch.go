package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/gorilla/websocket"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/rtpsmesh/rtpsd/pkg/admin"
)

func newWatchCommand(adminAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream match/unmatch and participant events",
		RunE: func(*cobra.Command, []string) error {
			return watchEvents(*adminAddr)
		},
	}
}

func watchEvents(adminAddr string) error {
	url := fmt.Sprintf("ws://%s/events", adminAddr)

	spin := spinner.New(spinner.CharSets[9], 100*time.Millisecond)
	spin.Writer = stdout
	spin.Suffix = " waiting for events"
	if isatty.IsTerminal(os.Stdout.Fd()) {
		spin.Start()
		defer spin.Stop()
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("rtpsctl: dialing %s: %w", url, err)
	}
	defer conn.Close()

	for {
		var e admin.Event
		if err := conn.ReadJSON(&e); err != nil {
			return fmt.Errorf("rtpsctl: reading event: %w", err)
		}
		spin.Stop()
		printEvent(e)
		if isatty.IsTerminal(os.Stdout.Fd()) {
			spin.Start()
		}
	}
}

func printEvent(e admin.Event) {
	detail := e.Writer
	if e.Reader != "" {
		detail = strings.Join([]string{e.Writer, e.Reader}, " -> ")
	}
	if e.Reason != "" {
		detail += " (" + e.Reason + ")"
	}
	if e.AliveChange != 0 {
		detail += fmt.Sprintf(" (alive_change=%d)", e.AliveChange)
	}
	fmt.Fprintf(stdout, "%s [%s] %s\n", e.Timestamp.Format(time.RFC3339), e.Kind, detail)
}
