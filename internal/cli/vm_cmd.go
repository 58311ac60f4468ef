package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/kolibri-omega/kolibri-studio/internal/kolibri"
	"github.com/kolibri-omega/kolibri-studio/internal/logutil"
	"github.com/kolibri-omega/kolibri-studio/internal/store"
	"github.com/kolibri-omega/kolibri-studio/internal/validator"
)

// ErrVMFailed is returned when a streamed run ends with an error event.
var ErrVMFailed = errors.New("vm run failed")

type vmInput struct {
	program   string
	file      string
	gas       int
	programID string
	comment   string
}

func (in *vmInput) bind(cmd *cobra.Command, withStored bool) {
	cmd.Flags().StringVarP(&in.program, "program", "p", "", "Bytecode as comma or space separated integers")
	cmd.Flags().StringVarP(&in.file, "file", "f", "", "JSON or YAML request file")
	cmd.Flags().IntVar(&in.gas, "gas", 0, "Gas limit (0 = node default)")
	if withStored {
		cmd.Flags().StringVar(&in.programID, "program-id", "", "Run a stored program instead of inline bytecode")
		cmd.Flags().StringVar(&in.comment, "comment", "", "Free-form note attached to the run")
	}
}

func (a *App) vmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vm",
		Short: "Run programs on the node VM",
	}
	cmd.AddCommand(a.vmRunCmd(), a.vmStreamCmd())
	return cmd
}

func (a *App) vmRunCmd() *cobra.Command {
	var in vmInput
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a program and wait for its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.loadVMRequest(cmd, in)
			if err != nil {
				return err
			}
			if len(req.Program) == 0 {
				return errors.New("--program or --file is required")
			}
			client, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			resp, err := client.RunVM(ctx, req.VMRunRequest)
			if err != nil {
				return err
			}
			return a.writeOutput(cmd.OutOrStdout(), resp, func(w io.Writer) error {
				tw := newTable(w)
				fmt.Fprintf(tw, "Status:\t%s\n", valueOrDash(resp.Status))
				fmt.Fprintf(tw, "Result:\t%s\n", compactJSON(resp.Result))
				fmt.Fprintf(tw, "Steps:\t%s\n", intOrDash(resp.Steps))
				fmt.Fprintf(tw, "Gas used:\t%s\n", intOrDash(resp.GasUsed))
				flushTable(tw)
				return nil
			})
		},
	}
	in.bind(cmd, false)
	return cmd
}

func (a *App) vmStreamCmd() *cobra.Command {
	var (
		in          vmInput
		preferWS    bool
		record      bool
		maxDuration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Run a program and follow its trace live",
		Long: `Starts a streamed run and prints each trace event as it arrives.
The stream ends at the first complete, result or error event. With -o json
each event is printed as one JSON line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.loadVMRequest(cmd, in)
			if err != nil {
				return err
			}
			if len(req.Program) == 0 && req.ProgramID == "" {
				return errors.New("--program, --file or --program-id is required")
			}
			client, t, err := a.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if maxDuration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, maxDuration)
				defer cancel()
			}

			opts := kolibri.StreamOptions{PreferWebSocket: t.PreferWS || preferWS}
			rec := &traceRecorder{}
			out := cmd.OutOrStdout()
			start := func(ctx context.Context, h kolibri.Handlers) (*kolibri.Session, error) {
				return client.StreamVM(ctx, req, opts, h)
			}
			outcome, runErr := kolibri.RunUntilTerminal(ctx, start, kolibri.Handlers{
				OnOpen: func() {
					logutil.Debug("trace stream open", nil)
				},
				OnEvent: func(msg kolibri.Message) {
					rec.add(msg)
					a.printTraceEvent(out, msg)
				},
			})
			if outcome.Session != nil && record {
				if err := a.saveRecording(cmd, t, outcome.Session, req.ProgramID, rec, outcome, runErr); err != nil {
					reportError(cmd.ErrOrStderr(), fmt.Errorf("record trace: %w", err))
				}
			}
			if runErr != nil {
				return runErr
			}
			if outcome.Err != nil {
				return outcome.Err
			}
			if outcome.Last != nil && outcome.Last.Type() == kolibri.EventError {
				return fmt.Errorf("%w: %s", ErrVMFailed, describePayload(outcome.Last))
			}
			if outcome.Last == nil && a.format() == "table" {
				fmt.Fprintln(cmd.ErrOrStderr(), pterm.Warning.Sprint("stream ended without a terminal event"))
			}
			return nil
		},
	}
	in.bind(cmd, true)
	cmd.Flags().BoolVar(&preferWS, "websocket", false, "Prefer WebSocket for this run")
	cmd.Flags().BoolVar(&record, "record", false, "Save the trace to the local recording store")
	cmd.Flags().DurationVar(&maxDuration, "max-duration", 0, "Give up on the stream after this long (0 = no limit)")
	return cmd
}

// loadVMRequest builds a stream request from flags or a request file and
// validates it before anything is sent.
func (a *App) loadVMRequest(cmd *cobra.Command, in vmInput) (kolibri.VMStreamRequest, error) {
	var req kolibri.VMStreamRequest
	v, err := a.validator()
	if err != nil {
		return req, err
	}
	var result validator.Result
	switch {
	case in.file != "":
		if in.program != "" {
			return req, errors.New("--program and --file are mutually exclusive")
		}
		result, err = v.DecodeFile(validator.KindVMRun, in.file, &req)
		if err != nil {
			return req, err
		}
	case in.program != "":
		program, err := parseProgram(in.program)
		if err != nil {
			return req, err
		}
		req.Program = program
	}
	if in.gas > 0 {
		gas := in.gas
		req.GasLimit = &gas
	}
	if in.programID != "" {
		req.ProgramID = in.programID
	}
	if in.comment != "" {
		req.Comment = in.comment
	}
	if in.file == "" && len(req.Program) > 0 {
		payload, err := json.Marshal(req)
		if err != nil {
			return req, err
		}
		result = v.Validate(validator.KindVMRun, payload)
		if !result.Valid {
			return req, &validator.InvalidError{Result: result}
		}
	}
	printWarnings(cmd.ErrOrStderr(), result)
	return req, nil
}

func printWarnings(w io.Writer, result validator.Result) {
	for _, check := range result.Checks {
		if check.Status == validator.StatusWarn {
			fmt.Fprintln(w, pterm.Warning.Sprint(check.Message))
		}
	}
}

// parseProgram reads "1,2,3" or "1 2 3".
func parseProgram(raw string) ([]int, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	program := make([]int, 0, len(fields))
	for _, f := range fields {
		op, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid opcode %q", f)
		}
		program = append(program, op)
	}
	if len(program) == 0 {
		return nil, errors.New("program is empty")
	}
	return program, nil
}

func (a *App) printTraceEvent(w io.Writer, msg kolibri.Message) {
	switch a.format() {
	case "json":
		if line, err := marshalLine(msg.Value); err == nil {
			fmt.Fprintln(w, line)
		}
	case "yaml", "yml":
		fmt.Fprintln(w, "---")
		_ = printYAML(w, msg.Value)
	default:
		if msg.Event == nil {
			fmt.Fprintf(w, "%-8s %s\n", "raw", compactJSON(msg.Value))
			return
		}
		step := "-"
		if msg.Event.Step != nil {
			step = strconv.Itoa(*msg.Event.Step)
		}
		fmt.Fprintf(w, "%-8s %-5s %s\n", msg.Event.Type, step, compactJSON(msg.Event.Payload))
	}
}

func describePayload(msg *kolibri.Message) string {
	if msg.Event == nil || msg.Event.Payload == nil {
		return msg.Raw
	}
	if p, ok := msg.Event.Payload.(map[string]any); ok {
		if m, ok := p["message"].(string); ok && m != "" {
			return m
		}
	}
	return compactJSON(msg.Event.Payload)
}

// traceRecorder buffers messages on the session goroutine. They are written
// to the store once the run is over.
type traceRecorder struct {
	mu       sync.Mutex
	messages []kolibri.Message
}

func (r *traceRecorder) add(msg kolibri.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
}

func (r *traceRecorder) snapshot() []kolibri.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kolibri.Message(nil), r.messages...)
}

func recordingStatus(outcome kolibri.Outcome, runErr error) (store.RecordingStatus, string) {
	switch {
	case runErr != nil:
		return store.StatusFailed, kolibri.Classify(runErr)
	case outcome.Err != nil:
		return store.StatusFailed, kolibri.Classify(outcome.Err)
	case outcome.Last == nil:
		return store.StatusClosed, ""
	case outcome.Last.Type() == kolibri.EventError:
		return store.StatusFailed, describePayload(outcome.Last)
	default:
		return store.StatusCompleted, ""
	}
}

func (a *App) saveRecording(cmd *cobra.Command, t *target, sess *kolibri.Session, programID string, rec *traceRecorder, outcome kolibri.Outcome, runErr error) error {
	st, err := a.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	// The stream context may already be cancelled; the write gets its own budget.
	ctx, cancel := withTimeout(context.Background(), 30*time.Second)
	defer cancel()

	recording := &store.Recording{
		SessionID: sess.ID,
		Transport: string(sess.Transport),
		BaseURL:   t.Base,
		ProgramID: programID,
	}
	if err := st.CreateRecording(ctx, recording); err != nil {
		return err
	}
	for i, msg := range rec.snapshot() {
		evt := &store.Event{RecordingID: recording.ID, Seq: i + 1, Type: msg.Type(), Raw: msg.Raw}
		if err := st.AppendEvent(ctx, evt); err != nil {
			return err
		}
	}
	status, message := recordingStatus(outcome, runErr)
	if err := st.FinishRecording(ctx, recording.ID, status, message); err != nil {
		return err
	}
	if a.format() == "table" {
		fmt.Fprintln(cmd.ErrOrStderr(), pterm.Info.Sprintf("trace recorded as %s", recording.ID))
	}
	return nil
}
