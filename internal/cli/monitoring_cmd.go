package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kolibri-omega/kolibri-studio/internal/kolibri"
	"github.com/kolibri-omega/kolibri-studio/internal/validator"
)

func (a *App) monitoringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "monitoring",
		Aliases: []string{"mon"},
		Short:   "Show alerts and the node timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			snap, err := client.Monitoring(ctx)
			if err != nil {
				return err
			}
			return a.writeOutput(cmd.OutOrStdout(), snap, func(w io.Writer) error {
				printMonitoring(w, snap)
				return nil
			})
		},
	}
	cmd.AddCommand(a.alertAckCmd())
	return cmd
}

func printMonitoring(w io.Writer, snap *kolibri.MonitoringSnapshot) {
	fmt.Fprintf(w, "Node %s, up %s, %d peers\n\n",
		valueOrDash(snap.Health.Version),
		humanDurationSeconds(snap.Health.Uptime),
		len(snap.Health.Peers))
	if len(snap.Alerts) == 0 {
		fmt.Fprintln(w, "No alerts.")
	} else {
		tw := newTable(w)
		fmt.Fprintln(tw, "ALERT\tSEVERITY\tTITLE\tRAISED\tCLEARED\tTASK")
		for _, al := range snap.Alerts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				al.ID, al.Severity, al.Title, relativeStamp(al.RaisedAt), relativeStamp(al.ClearedAt), valueOrDash(al.RelatedTaskID))
		}
		flushTable(tw)
	}
	if len(snap.Timeline) > 0 {
		fmt.Fprintln(w, "\nTimeline:")
		tw := newTable(w)
		for _, entry := range snap.Timeline {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", relativeStamp(entry.Timestamp), entry.Label, floatOrDash(entry.Value, "%g"))
		}
		flushTable(tw)
	}
}

func (a *App) alertAckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack <alertId>",
		Short: "Acknowledge an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			resp, err := client.AcknowledgeAlert(ctx, args[0])
			if err != nil {
				return err
			}
			return a.writeOutput(cmd.OutOrStdout(), resp, func(w io.Writer) error {
				if !resp.Acknowledged {
					fmt.Fprintf(w, "Alert %s was not acknowledged.\n", args[0])
					return nil
				}
				printSuccess(w, "Alert %s acknowledged.", args[0])
				return nil
			})
		},
	}
}

func (a *App) peersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "peers",
		Aliases: []string{"peer"},
		Short:   "Inspect and manage peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			health, err := client.Health(ctx)
			if err != nil {
				return err
			}
			return a.writeOutput(cmd.OutOrStdout(), health.Peers, func(w io.Writer) error {
				if len(health.Peers) == 0 {
					fmt.Fprintln(w, "No peers connected.")
					return nil
				}
				printPeers(w, health.Peers)
				return nil
			})
		},
	}
	cmd.AddCommand(a.peerUpdateCmd(), a.peerDisconnectCmd())
	return cmd
}

func (a *App) peerUpdateCmd() *cobra.Command {
	var (
		file       string
		score      float64
		role       string
		quarantine bool
		notes      string
	)
	cmd := &cobra.Command{
		Use:   "update <peerId>",
		Short: "Change a peer's score, role or quarantine state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flagReq := kolibri.PeerCommandRequest{Role: role, Notes: notes}
			if cmd.Flags().Changed("score") {
				flagReq.Score = &score
			}
			if cmd.Flags().Changed("quarantine") {
				flagReq.Quarantine = &quarantine
			}
			var req kolibri.PeerCommandRequest
			if err := a.decodeOrBuild(validator.KindPeerCommand, file, flagReq, &req); err != nil {
				return err
			}
			client, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			resp, err := client.UpdatePeer(ctx, args[0], req)
			if err != nil {
				return err
			}
			return a.printPeerCommand(cmd, args[0], resp, "updated")
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or YAML command file")
	cmd.Flags().Float64Var(&score, "score", 0, "Trust score between 0 and 1")
	cmd.Flags().StringVar(&role, "role", "", "Peer role")
	cmd.Flags().BoolVar(&quarantine, "quarantine", false, "Quarantine (true) or release (false) the peer")
	cmd.Flags().StringVar(&notes, "notes", "", "Operator notes")
	return cmd
}

func (a *App) peerDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "disconnect <peerId>",
		Aliases: []string{"remove", "rm"},
		Short:   "Disconnect a peer",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			resp, err := client.DisconnectPeer(ctx, args[0])
			if err != nil {
				return err
			}
			return a.printPeerCommand(cmd, args[0], resp, "disconnected")
		},
	}
}

func (a *App) printPeerCommand(cmd *cobra.Command, id string, resp *kolibri.PeerCommandResponse, verb string) error {
	return a.writeOutput(cmd.OutOrStdout(), resp, func(w io.Writer) error {
		if !resp.Acknowledged {
			fmt.Fprintf(w, "Node did not acknowledge the request. %s\n", resp.Message)
			return nil
		}
		printSuccess(w, "Peer %s %s.", id, verb)
		if resp.Peer != nil {
			printPeers(w, []kolibri.PeerInfo{*resp.Peer})
		}
		return nil
	})
}
