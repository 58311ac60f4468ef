package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kolibri-omega/kolibri-studio/internal/store"
)

func (a *App) tracesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "traces",
		Aliases: []string{"trace"},
		Short:   "Browse traces saved with 'vm stream --record'",
	}
	cmd.AddCommand(a.tracesListCmd(), a.tracesShowCmd(), a.tracesDeleteCmd())
	return cmd
}

func (a *App) tracesListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List recorded traces, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			recs, err := st.ListRecordings(ctx, limit)
			if err != nil {
				return err
			}
			return a.writeOutput(cmd.OutOrStdout(), recs, func(w io.Writer) error {
				if len(recs) == 0 {
					fmt.Fprintln(w, "No recorded traces.")
					return nil
				}
				tw := newTable(w)
				fmt.Fprintln(tw, "ID\tSESSION\tTRANSPORT\tSTATUS\tEVENTS\tPROGRAM\tRECORDED")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
						r.ID, r.SessionID, r.Transport, r.Status, r.Events, valueOrDash(r.ProgramID), relativeTime(r.CreatedAt))
				}
				flushTable(tw)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of traces")
	return cmd
}

type traceDetail struct {
	Recording *store.Recording `json:"recording"`
	Events    []store.Event    `json:"events"`
}

func (a *App) tracesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a recorded trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			rec, err := st.GetRecording(ctx, args[0])
			if err != nil {
				return traceLookupError(args[0], err)
			}
			events, err := st.ListEvents(ctx, rec.ID)
			if err != nil {
				return err
			}
			detail := traceDetail{Recording: rec, Events: events}
			return a.writeOutput(cmd.OutOrStdout(), detail, func(w io.Writer) error {
				fmt.Fprintf(w, "Trace %s (session %s over %s, %s)\n", rec.ID, rec.SessionID, rec.Transport, rec.Status)
				fmt.Fprintf(w, "Node: %s\n", rec.BaseURL)
				if rec.Error != "" {
					fmt.Fprintf(w, "Error: %s\n", rec.Error)
				}
				fmt.Fprintln(w)
				tw := newTable(w)
				fmt.Fprintln(tw, "SEQ\tTYPE\tFRAME")
				for _, e := range events {
					fmt.Fprintf(tw, "%d\t%s\t%s\n", e.Seq, valueOrDash(e.Type), e.Raw)
				}
				flushTable(tw)
				return nil
			})
		},
	}
}

func (a *App) tracesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a recorded trace",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.OpenStore()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			if err := st.DeleteRecording(ctx, args[0]); err != nil {
				return traceLookupError(args[0], err)
			}
			printSuccess(cmd.OutOrStdout(), "Trace %s deleted.", args[0])
			return nil
		},
	}
}

func traceLookupError(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("trace %s not found", id)
	}
	return err
}
