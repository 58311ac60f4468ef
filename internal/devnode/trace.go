package devnode

import (
	"fmt"
	"math"

	"github.com/kolibri-omega/kolibri-studio/internal/kolibri"
)

// The dev node does not execute bytecode. Traces are synthesized from the
// program so clients see a realistic shape: one state frame per instruction,
// a few log lines and a terminal result or error.

const gasPerStep = 1

type runSummary struct {
	Result  int
	Steps   int
	GasUsed int
	Err     string
}

func summarize(program []int, gasLimit *int) runSummary {
	limit := math.MaxInt
	if gasLimit != nil {
		limit = *gasLimit
	}
	var sum runSummary
	for _, op := range program {
		cost := gasPerStep + op%3
		if sum.GasUsed+cost > limit {
			sum.Err = fmt.Sprintf("out of gas at step %d", sum.Steps)
			return sum
		}
		sum.GasUsed += cost
		sum.Result += op
		sum.Steps++
	}
	return sum
}

func buildTrace(req kolibri.VMStreamRequest, stamp func() string) []kolibri.TraceEvent {
	step := func(i int) *int { return &i }
	events := []kolibri.TraceEvent{{
		Type:      kolibri.EventLog,
		Timestamp: stamp(),
		Payload:   fmt.Sprintf("program loaded (%d instructions)", len(req.Program)),
	}}
	if len(req.Program) == 0 {
		return append(events, kolibri.TraceEvent{
			Type:      kolibri.EventError,
			Timestamp: stamp(),
			Payload:   map[string]any{"message": "empty program"},
		})
	}

	limit := math.MaxInt
	if req.GasLimit != nil {
		limit = *req.GasLimit
	}
	acc, gas := 0, 0
	for i, op := range req.Program {
		cost := gasPerStep + op%3
		if gas+cost > limit {
			return append(events, kolibri.TraceEvent{
				Type:      kolibri.EventError,
				Step:      step(i),
				Timestamp: stamp(),
				Payload:   map[string]any{"message": fmt.Sprintf("out of gas at step %d", i), "gasUsed": gas},
			})
		}
		gas += cost
		acc += op
		events = append(events, kolibri.TraceEvent{
			Type:      kolibri.EventState,
			Step:      step(i),
			Timestamp: stamp(),
			Payload:   map[string]any{"pc": i, "op": op, "acc": acc, "gasUsed": gas},
		})
		if (i+1)%4 == 0 {
			events = append(events, kolibri.TraceEvent{
				Type:      kolibri.EventLog,
				Step:      step(i),
				Timestamp: stamp(),
				Payload:   fmt.Sprintf("checkpoint after %d steps", i+1),
			})
		}
	}
	return append(events, kolibri.TraceEvent{
		Type:      kolibri.EventResult,
		Step:      step(len(req.Program)),
		Timestamp: stamp(),
		Payload:   map[string]any{"status": "ok", "result": acc, "steps": len(req.Program), "gasUsed": gas},
	})
}

// scoreProgram derives a stable proof-of-effectiveness and description
// length from the bytecode.
func scoreProgram(bytecode []int) (poe, mdl float64) {
	if len(bytecode) == 0 {
		return 0, 0
	}
	distinct := map[int]struct{}{}
	for _, op := range bytecode {
		distinct[op] = struct{}{}
	}
	poe = math.Round(float64(len(distinct))/float64(len(bytecode))*1000) / 1000
	mdl = math.Round(float64(len(bytecode))*math.Log2(float64(len(distinct)+1))*100) / 100
	return poe, mdl
}
