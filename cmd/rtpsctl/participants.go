package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rtpsmesh/rtpsd/cli/table"
	"github.com/rtpsmesh/rtpsd/pkg/rtpsversion"
	"github.com/rtpsmesh/rtpsd/rtps/pdp"
)

func newParticipantsCommand(adminAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "participants",
		Short: "List participants discovered over SPDP",
		RunE: func(*cobra.Command, []string) error {
			var peers []pdp.ParticipantProxyData
			if err := fetchJSON(*adminAddr, "/participants", &peers); err != nil {
				return err
			}
			renderParticipants(peers)
			return nil
		},
	}
}

func renderParticipants(peers []pdp.ParticipantProxyData) {
	cols := []table.Column{
		{Header: "PREFIX", Width: 32, LeftAlign: true},
		{Header: "VENDOR", Width: 12, LeftAlign: true},
		{Header: "LEASE", Width: 10, LeftAlign: true},
		{Header: "USERDATA", Flexible: true, LeftAlign: true},
	}
	rows := make([]table.Row, 0, len(peers))
	for _, p := range peers {
		rows = append(rows, table.Row{
			p.GuidPrefix.String(),
			rtpsversion.VendorName(p.VendorID),
			p.LeaseDuration.String(),
			string(p.UserData),
		})
	}
	t := table.NewTable(cols, rows)
	t.Sort = []int{0}
	t.Render(stdout)
	if len(peers) == 0 {
		fmt.Fprintln(stdout, warnStatus, "no participants discovered")
		return
	}
	fmt.Fprintln(stdout, okStatus, fmt.Sprintf("%d participant(s) discovered", len(peers)))
}
