package gojob

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-ocpi/core"
)

// NackPolicy bounds how a failed handshake delivery goes back to the queue.
type NackPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// Apply clamps the delay and turns a requeue into a dead letter once attempt
// reaches MaxAttempts. A nack always either requeues or dead letters.
func (p NackPolicy) Apply(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	out.Delay = max(out.Delay, 0)
	if p.MaxDelay > 0 {
		out.Delay = min(out.Delay, p.MaxDelay)
	}
	exhausted := p.MaxAttempts > 0 && attempt >= p.MaxAttempts
	switch {
	case out.DeadLetter:
		out.Requeue = false
	case exhausted:
		out.Requeue = false
		out.DeadLetter = p.DeadLetterOnMax
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// HandshakeQueue carries handshake jobs over go-job. Either side may be nil
// when a process only produces or only consumes.
type HandshakeQueue struct {
	enqueuer queue.Enqueuer
	dequeuer queue.Dequeuer
	policy   NackPolicy
}

func NewHandshakeQueue(enqueuer queue.Enqueuer, dequeuer queue.Dequeuer, policy NackPolicy) *HandshakeQueue {
	return &HandshakeQueue{enqueuer: enqueuer, dequeuer: dequeuer, policy: policy}
}

// Enqueue refuses anything that is not a well formed handshake job.
func (q *HandshakeQueue) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if q == nil || q.enqueuer == nil {
		return fmt.Errorf("gojob: handshake enqueuer is not configured")
	}
	if _, err := core.ParseHandshakeJob(msg); err != nil {
		return fmt.Errorf("gojob: %w", err)
	}
	return q.enqueuer.Enqueue(ctx, toJobMessage(msg))
}

func (q *HandshakeQueue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if q == nil || q.dequeuer == nil {
		return nil, fmt.Errorf("gojob: handshake dequeuer is not configured")
	}
	delivery, err := q.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, fmt.Errorf("gojob: dequeuer returned no delivery")
	}
	return &Delivery{delivery: delivery, policy: q.policy}, nil
}

// Delivery is one dequeued handshake job.
type Delivery struct {
	delivery queue.Delivery
	policy   NackPolicy
}

func (d *Delivery) Message() *core.JobExecutionMessage {
	return fromJobMessage(d.delivery.Message())
}

func (d *Delivery) Ack(ctx context.Context) error {
	return d.delivery.Ack(ctx)
}

// Nack applies the queue policy using the attempt go-job reports, when it
// reports one.
func (d *Delivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	attempt := 0
	if counted, ok := d.delivery.(interface{ Attempt() int }); ok {
		attempt = counted.Attempt()
	}
	return d.NackAt(ctx, opts, attempt)
}

func (d *Delivery) NackAt(ctx context.Context, opts core.JobNackOptions, attempt int) error {
	applied := d.policy.Apply(opts, attempt)
	return d.delivery.Nack(ctx, queue.NackOptions{
		Delay:      applied.Delay,
		Requeue:    applied.Requeue,
		DeadLetter: applied.DeadLetter,
		Reason:     applied.Reason,
	})
}

// WorkerHook lets a go-job worker report into a core.JobWorkerHook, such as
// gologger.HandshakeLogHook.
func WorkerHook(hook core.JobWorkerHook) worker.Hook {
	return workerHook{hook: hook}
}

type workerHook struct {
	hook core.JobWorkerHook
}

func (h workerHook) OnStart(ctx context.Context, event worker.Event) {
	if h.hook != nil {
		h.hook.OnStart(ctx, fromWorkerEvent(event))
	}
}

func (h workerHook) OnSuccess(ctx context.Context, event worker.Event) {
	if h.hook != nil {
		h.hook.OnSuccess(ctx, fromWorkerEvent(event))
	}
}

func (h workerHook) OnFailure(ctx context.Context, event worker.Event) {
	if h.hook != nil {
		h.hook.OnFailure(ctx, fromWorkerEvent(event))
	}
}

func (h workerHook) OnRetry(ctx context.Context, event worker.Event) {
	if h.hook != nil {
		h.hook.OnRetry(ctx, fromWorkerEvent(event))
	}
}

func fromWorkerEvent(event worker.Event) core.JobWorkerEvent {
	msg := event.Message
	if msg == nil && event.Delivery != nil {
		msg = event.Delivery.Message()
	}
	return core.JobWorkerEvent{
		Message:   fromJobMessage(msg),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

func toJobMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func fromJobMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

func cloneParameters(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	maps.Copy(out, in)
	return out
}

var (
	_ core.JobEnqueuer = (*HandshakeQueue)(nil)
	_ core.JobDequeuer = (*HandshakeQueue)(nil)
	_ core.JobDelivery = (*Delivery)(nil)
)
