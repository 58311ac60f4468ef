package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/kolibri-omega/kolibri-studio/internal/kolibri"
	"github.com/kolibri-omega/kolibri-studio/internal/livequery"
	"github.com/kolibri-omega/kolibri-studio/internal/logutil"
)

func (a *App) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show node health",
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
			return a.writeOutput(cmd.OutOrStdout(), health, func(w io.Writer) error {
				printHealth(w, health)
				return nil
			})
		},
	}
}

func printHealth(w io.Writer, health *kolibri.HealthResponse) {
	fmt.Fprintf(w, "Version: %s\n", valueOrDash(health.Version))
	fmt.Fprintf(w, "Uptime:  %s\n", humanDurationSeconds(health.Uptime))
	fmt.Fprintf(w, "Blocks:  %s\n", intOrDash(health.Blocks))
	fmt.Fprintf(w, "Memory:  %s / %s\n", formatBytes(health.Memory.Used), formatBytes(health.Memory.Total))
	if len(health.Peers) == 0 {
		fmt.Fprintln(w, "\nNo peers connected.")
		return
	}
	fmt.Fprintln(w)
	printPeers(w, health.Peers)
}

func printPeers(w io.Writer, peers []kolibri.PeerInfo) {
	tw := newTable(w)
	fmt.Fprintln(tw, "PEER\tROLE\tSTATUS\tLATENCY\tSCORE\tADDRESS")
	for _, p := range peers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, valueOrDash(p.Role), valueOrDash(p.Status),
			floatOrDash(p.Latency, "%.0fms"), floatOrDash(p.Score, "%.2f"), valueOrDash(p.Address))
	}
	flushTable(tw)
}

func (a *App) metricsCmd() *cobra.Command {
	var (
		watch      bool
		interval   time.Duration
		iterations int
	)
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show node metrics, optionally polling",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.client()
			if err != nil {
				return err
			}
			if !watch {
				ctx, cancel := a.requestContext(cmd)
				defer cancel()
				m, err := client.Metrics(ctx)
				if err != nil {
					return err
				}
				return a.writeOutput(cmd.OutOrStdout(), m, func(w io.Writer) error {
					printMetrics(w, m)
					return nil
				})
			}
			if interval <= 0 {
				interval = a.env.PollInterval
			}
			return a.watchMetrics(cmd, client, interval, iterations)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Polling interval (default KOLIBRI_POLL_INTERVAL)")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "Stop after this many refreshes (0 = unlimited)")
	return cmd
}

// watchMetrics prints every settled refresh until ctx ends or the iteration
// budget is spent. Failed polls are reported and polling continues.
func (a *App) watchMetrics(cmd *cobra.Command, client *kolibri.Client, interval time.Duration, iterations int) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	var (
		mu      sync.Mutex
		settled int
		lastErr error
		done    = make(chan struct{})
		once    sync.Once
	)
	q := livequery.New(func(ctx context.Context) (*kolibri.MetricsResponse, error) {
		callCtx, cancel := withTimeout(ctx, a.timeout)
		defer cancel()
		return client.Metrics(callCtx)
	}, livequery.Options[*kolibri.MetricsResponse]{
		Interval: interval,
		OnError: func(err error) {
			logutil.Warn("metrics refresh failed", map[string]interface{}{"error": err.Error()})
		},
		OnChange: func(state livequery.State[*kolibri.MetricsResponse]) {
			if state.Loading {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if iterations > 0 && settled >= iterations {
				return
			}
			settled++
			lastErr = state.Err
			if state.Err != nil {
				reportError(cmd.ErrOrStderr(), state.Err)
			} else if state.Data != nil {
				a.printMetricsFrame(out, state.Data, state.LastUpdated)
			}
			if iterations > 0 && settled >= iterations {
				once.Do(func() { close(done) })
			}
		},
	})
	q.Start(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	if iterations > 0 && settled >= iterations {
		return lastErr
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (a *App) printMetricsFrame(w io.Writer, m *kolibri.MetricsResponse, at time.Time) {
	switch a.format() {
	case "json":
		// One object per line so watch output can be piped.
		line, err := marshalLine(m)
		if err == nil {
			fmt.Fprintln(w, line)
		}
	case "yaml", "yml":
		fmt.Fprintln(w, "---")
		_ = printYAML(w, m)
	default:
		fmt.Fprintf(w, "== %s ==\n", at.Format(time.RFC3339))
		printMetrics(w, m)
		fmt.Fprintln(w)
	}
}

func printMetrics(w io.Writer, m *kolibri.MetricsResponse) {
	tw := newTable(w)
	fmt.Fprintln(tw, "METRIC\tVALUE")
	if m.Uptime != nil {
		fmt.Fprintf(tw, "uptime\t%s\n", humanDurationSeconds(*m.Uptime))
	}
	if m.Memory != nil {
		fmt.Fprintf(tw, "memory\t%s / %s\n", formatBytes(m.Memory.Used), formatBytes(m.Memory.Total))
	}
	if m.Blocks != nil {
		fmt.Fprintf(tw, "blocks\t%d\n", *m.Blocks)
	}
	if m.TasksInFlight != nil {
		fmt.Fprintf(tw, "tasksInFlight\t%d\n", *m.TasksInFlight)
	}
	if m.LastBlockTime != "" {
		fmt.Fprintf(tw, "lastBlockTime\t%s\n", relativeStamp(m.LastBlockTime))
	}
	fmt.Fprintf(tw, "peers\t%d\n", len(m.Peers))
	keys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\n", k, compactJSON(m.Extra[k]))
	}
	flushTable(tw)
}

func (a *App) dialogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dialog <text...>",
		Short: "Send a dialog input to the node",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.TrimSpace(strings.Join(args, " "))
			if input == "" {
				return errors.New("dialog input is empty")
			}
			client, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			resp, err := client.Dialog(ctx, kolibri.DialogRequest{Input: input})
			if err != nil {
				return err
			}
			return a.writeOutput(cmd.OutOrStdout(), resp, func(w io.Writer) error {
				fmt.Fprintln(w, resp.Answer)
				if resp.Trace != nil {
					fmt.Fprintf(w, "trace: %s\n", compactJSON(resp.Trace))
				}
				return nil
			})
		},
	}
}

func (a *App) memoryCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "List stored values and programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			mem, err := client.Memory(ctx, prefix)
			if err != nil {
				return err
			}
			return a.writeOutput(cmd.OutOrStdout(), mem, func(w io.Writer) error {
				printMemory(w, mem)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Key prefix to filter by")
	return cmd
}

func printMemory(w io.Writer, mem *kolibri.MemoryResponse) {
	if len(mem.Values) == 0 && len(mem.Programs) == 0 {
		fmt.Fprintln(w, "No entries.")
		return
	}
	if len(mem.Values) > 0 {
		tw := newTable(w)
		fmt.Fprintln(tw, "KEY\tVALUE")
		for _, v := range mem.Values {
			fmt.Fprintf(tw, "%s\t%s\n", v.Key, v.Value)
		}
		flushTable(tw)
	}
	if len(mem.Programs) > 0 {
		if len(mem.Values) > 0 {
			fmt.Fprintln(w)
		}
		tw := newTable(w)
		fmt.Fprintln(tw, "PROGRAM\tSCORE\tLENGTH\tDESCRIPTION")
		for _, p := range mem.Programs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", p.ID, floatOrDash(p.Score, "%.3f"), len(p.Bytecode), valueOrDash(p.Description))
		}
		flushTable(tw)
	}
}
