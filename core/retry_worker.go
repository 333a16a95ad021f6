package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	JobIDHandshake = "ocpi.handshake"

	defaultHandshakeMaxAttempts = 5
)

// HandshakeJob asks a worker to run Register or Renew for one party.
type HandshakeJob struct {
	Party     PartyID
	Operation string
}

func (j HandshakeJob) key() string {
	return j.Party.Key() + ":" + j.Operation
}

func (j HandshakeJob) Message() *JobExecutionMessage {
	return &JobExecutionMessage{
		JobID: JobIDHandshake,
		Parameters: map[string]any{
			"party_key": j.Party.Key(),
			"operation": j.Operation,
		},
		IdempotencyKey: JobIDHandshake + ":" + j.key(),
		DedupPolicy:    "drop",
	}
}

func ParseHandshakeJob(msg *JobExecutionMessage) (HandshakeJob, error) {
	if msg == nil {
		return HandshakeJob{}, fmt.Errorf("core: handshake message is required")
	}
	if msg.JobID != JobIDHandshake {
		return HandshakeJob{}, fmt.Errorf("core: unexpected job %q", msg.JobID)
	}
	key, _ := msg.Parameters["party_key"].(string)
	id, err := ParsePartyKey(key)
	if err != nil {
		return HandshakeJob{}, err
	}
	operation, _ := msg.Parameters["operation"].(string)
	operation = strings.ToLower(strings.TrimSpace(operation))
	if operation != handshakeRegister && operation != handshakeRenew {
		return HandshakeJob{}, fmt.Errorf("core: unknown handshake operation %q", operation)
	}
	return HandshakeJob{Party: id, Operation: operation}, nil
}

// ScheduleHandshake queues a Register or Renew for a worker to pick up.
func ScheduleHandshake(ctx context.Context, enqueuer JobEnqueuer, id PartyID, operation string) error {
	if enqueuer == nil {
		return fmt.Errorf("core: job enqueuer is required")
	}
	job := HandshakeJob{Party: id, Operation: strings.ToLower(strings.TrimSpace(operation))}
	if _, err := ParseHandshakeJob(job.Message()); err != nil {
		return invalidInputError(err.Error(), map[string]any{"party": id.Key()})
	}
	return enqueuer.Enqueue(ctx, job.Message())
}

type HandshakeWorkerOptions struct {
	MaxAttempts int
	Backoff     BackoffPolicy
	Hook        JobWorkerHook
}

// HandshakeRetryWorker drains handshake jobs. Transient failures are nacked
// with a backoff delay; rejections and exhausted jobs are dead lettered.
type HandshakeRetryWorker struct {
	service     *Service
	queue       JobDequeuer
	maxAttempts int
	backoff     BackoffPolicy
	hook        JobWorkerHook

	mu       sync.Mutex
	attempts map[string]int
}

func NewHandshakeRetryWorker(service *Service, queue JobDequeuer, opts HandshakeWorkerOptions) *HandshakeRetryWorker {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = defaultHandshakeMaxAttempts
	}
	if opts.Backoff == nil && service != nil {
		opts.Backoff = service.connection.Backoff
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff{}
	}
	return &HandshakeRetryWorker{
		service:     service,
		queue:       queue,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		hook:        opts.Hook,
		attempts:    map[string]int{},
	}
}

// Run processes jobs until ctx is done.
func (w *HandshakeRetryWorker) Run(ctx context.Context) error {
	for {
		if err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.service.logWithLevel(ctx, "warn", "handshake worker iteration failed", map[string]any{"error": err.Error()})
		}
	}
}

// ProcessNext dequeues and settles a single job.
func (w *HandshakeRetryWorker) ProcessNext(ctx context.Context) error {
	if w == nil || w.service == nil || w.queue == nil {
		return fmt.Errorf("core: handshake worker is not configured")
	}
	delivery, err := w.queue.Dequeue(ctx)
	if err != nil {
		return err
	}
	msg := delivery.Message()
	job, err := ParseHandshakeJob(msg)
	if err != nil {
		return delivery.Nack(ctx, JobNackOptions{DeadLetter: true, Reason: err.Error()})
	}

	attempt := w.nextAttempt(job)
	event := JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: time.Now().UTC()}
	w.emit(ctx, "start", event)

	switch job.Operation {
	case handshakeRenew:
		_, err = w.service.Renew(ctx, job.Party)
	default:
		_, err = w.service.Register(ctx, job.Party)
	}
	event.Duration = time.Since(event.StartedAt)
	event.Err = err

	if err == nil {
		w.forget(job)
		w.emit(ctx, "success", event)
		return delivery.Ack(ctx)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !isRetryableHandshakeError(err) || attempt >= w.maxAttempts {
		w.forget(job)
		w.emit(ctx, "failure", event)
		return delivery.Nack(ctx, JobNackOptions{DeadLetter: true, Reason: err.Error()})
	}

	event.Delay = w.backoff.NextDelay(attempt)
	w.emit(ctx, "retry", event)
	return delivery.Nack(ctx, JobNackOptions{Delay: event.Delay, Requeue: true, Reason: err.Error()})
}

func (w *HandshakeRetryWorker) nextAttempt(job HandshakeJob) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[job.key()]++
	return w.attempts[job.key()]
}

func (w *HandshakeRetryWorker) forget(job HandshakeJob) {
	w.mu.Lock()
	delete(w.attempts, job.key())
	w.mu.Unlock()
}

func (w *HandshakeRetryWorker) emit(ctx context.Context, phase string, event JobWorkerEvent) {
	if w.hook == nil {
		return
	}
	switch phase {
	case "start":
		w.hook.OnStart(ctx, event)
	case "success":
		w.hook.OnSuccess(ctx, event)
	case "failure":
		w.hook.OnFailure(ctx, event)
	case "retry":
		w.hook.OnRetry(ctx, event)
	}
}

// isRetryableHandshakeError separates outages from answers that will not
// change on their own.
func isRetryableHandshakeError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrHandshakeRejected),
		errors.Is(err, ErrNoCompatibleVersion),
		errors.Is(err, ErrMalformedVersionsResponse),
		errors.Is(err, ErrPartyNotFound),
		errors.Is(err, ErrAlreadyRegistered),
		errors.Is(err, ErrPartyUnavailable),
		errors.Is(err, ErrInvalidInput):
		return false
	}
	return true
}
