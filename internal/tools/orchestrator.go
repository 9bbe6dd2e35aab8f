// Package tools runs the asynchronous function-call protocol: the model
// announces a call, arguments arrive (possibly in a later event), the call
// is forwarded to an external executor, and the result is fed back into
// the conversation.
package tools

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/samelhousseini/gpt-realtime-agents/internal/observability"
	"github.com/samelhousseini/gpt-realtime-agents/internal/protocol"
)

// Status tracks one call through its lifecycle. Transitions only move
// forward; a completed or failed call never executes again.
type Status int

const (
	StatusAnnounced Status = iota
	StatusArgumentsReady
	StatusExecuting
	StatusCompleted
	StatusFailed
)

// Call is one in-flight model-requested function call, keyed by call id.
type Call struct {
	CallID    string
	ItemID    string
	Name      string
	Arguments string
	Status    Status
	StartedAt time.Time
}

// Result is emitted once per call, success or failure.
type Result struct {
	CallID string
	Name   string
	Output string
	Err    string
}

// Executor runs one tool call and returns its JSON output. Implemented by
// the HTTP executor bridge; swapped for a fake in tests.
type Executor interface {
	Execute(ctx context.Context, name, callID, arguments string) (string, error)
}

// Sender delivers outbound control events to the live transport.
type Sender interface {
	SendControl(evt protocol.ClientEvent) error
}

// Orchestrator correlates announcement and argument events per call id and
// invokes the executor exactly once per call. Results are never retried
// here; retry policy belongs to the caller.
type Orchestrator struct {
	executor Executor
	sender   Sender
	metrics  *observability.Metrics
	onResult func(Result)

	mu      sync.Mutex
	pending map[string]*Call
	wg      sync.WaitGroup
}

func NewOrchestrator(executor Executor, sender Sender, metrics *observability.Metrics, onResult func(Result)) *Orchestrator {
	return &Orchestrator{
		executor: executor,
		sender:   sender,
		metrics:  metrics,
		onResult: onResult,
		pending:  make(map[string]*Call),
	}
}

// HandleEvent feeds one decoded inbound event through the call lifecycle.
// Events unrelated to function calls are ignored.
func (o *Orchestrator) HandleEvent(ctx context.Context, evt protocol.ServerEvent) {
	switch evt.Kind() {
	case protocol.KindFunctionCallAnnounced:
		o.observeAnnounced(ctx, evt.Item)
	case protocol.KindFunctionCallArguments:
		o.observeArguments(ctx, evt.CallID, evt.Name, evt.Arguments)
	case protocol.KindResponseDone:
		o.observeResponseDone(ctx, evt.Response)
	}
}

func (o *Orchestrator) observeAnnounced(ctx context.Context, item *protocol.Item) {
	if item == nil || item.CallID == "" {
		return
	}
	o.mu.Lock()
	call, ok := o.pending[item.CallID]
	if !ok {
		call = &Call{
			CallID:    item.CallID,
			ItemID:    item.ID,
			Name:      item.Name,
			Status:    StatusAnnounced,
			StartedAt: time.Now(),
		}
		o.pending[item.CallID] = call
	}
	// Some services attach arguments directly to the announcement item.
	ready := false
	if call.Status == StatusAnnounced && item.Arguments != "" {
		call.Arguments = item.Arguments
		call.Status = StatusArgumentsReady
		ready = true
	}
	o.mu.Unlock()
	if ready {
		o.execute(ctx, call)
	}
}

func (o *Orchestrator) observeArguments(ctx context.Context, callID, name, arguments string) {
	if callID == "" {
		return
	}
	o.mu.Lock()
	call, ok := o.pending[callID]
	if !ok {
		// Arguments can land before the announcement on some transports.
		call = &Call{CallID: callID, Name: name, Status: StatusAnnounced, StartedAt: time.Now()}
		o.pending[callID] = call
	}
	if call.Name == "" {
		call.Name = name
	}
	ready := false
	if call.Status == StatusAnnounced {
		call.Arguments = arguments
		call.Status = StatusArgumentsReady
		ready = true
	}
	o.mu.Unlock()
	if !ready {
		log.Printf("tools: ignoring duplicate arguments for call %s", callID)
		return
	}
	o.execute(ctx, call)
}

// observeResponseDone sweeps the response output for function-call items
// whose arguments arrived attached to the item itself rather than through a
// separate arguments event.
func (o *Orchestrator) observeResponseDone(ctx context.Context, resp *protocol.Response) {
	if resp == nil {
		return
	}
	for _, item := range resp.Output {
		if item.Type != protocol.ItemTypeFunctionCall || item.CallID == "" {
			continue
		}
		o.observeAnnounced(ctx, &item)
	}
}

// Pending reports the number of calls not yet completed or failed.
func (o *Orchestrator) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, call := range o.pending {
		if call.Status != StatusCompleted && call.Status != StatusFailed {
			n++
		}
	}
	return n
}

// Wait blocks until all in-flight executions finish. Used on teardown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) execute(ctx context.Context, call *Call) {
	o.mu.Lock()
	if call.Status != StatusArgumentsReady {
		o.mu.Unlock()
		return
	}
	call.Status = StatusExecuting
	name, args := call.Name, call.Arguments
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		started := time.Now()
		output, err := o.executor.Execute(ctx, name, call.CallID, args)

		result := Result{CallID: call.CallID, Name: name, Output: output}
		outcome := "ok"
		final := StatusCompleted
		if err != nil {
			// Executor failures are surfaced to the model as a payload so
			// the conversation can recover verbally instead of stalling.
			outcome = "error"
			final = StatusFailed
			result.Err = err.Error()
			msg, _ := json.Marshal(map[string]string{"error": err.Error()})
			result.Output = string(msg)
			log.Printf("tools: call %s (%s) failed: %v", call.CallID, name, err)
		}

		o.mu.Lock()
		call.Status = final
		o.mu.Unlock()

		if o.metrics != nil {
			o.metrics.ObserveToolCall(name, outcome, time.Since(started))
		}
		if err := o.sender.SendControl(protocol.FunctionCallOutput(call.CallID, result.Output)); err != nil {
			log.Printf("tools: send output for call %s: %v", call.CallID, err)
			return
		}
		if err := o.sender.SendControl(protocol.ResponseCreate()); err != nil {
			log.Printf("tools: request follow-up response: %v", err)
		}
		if o.onResult != nil {
			o.onResult(result)
		}
	}()
}
