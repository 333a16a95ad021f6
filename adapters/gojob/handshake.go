package gojob

import (
	"context"

	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-ocpi/core"
)

const (
	JobIDHandshake = core.JobIDHandshake

	OperationRegister = "register"
	OperationRenew    = "renew"
)

// ScheduleHandshake puts a Register or Renew for party on a go-job queue.
func ScheduleHandshake(ctx context.Context, enqueuer queue.Enqueuer, party core.PartyID, operation string) error {
	return core.ScheduleHandshake(ctx, NewHandshakeQueue(enqueuer, nil, NackPolicy{}), party, operation)
}

// HandshakeWorkerConfig wires a core.HandshakeRetryWorker onto a go-job
// dequeuer. Policy bounds the nack delay and dead letters on the last attempt.
type HandshakeWorkerConfig struct {
	Policy      NackPolicy
	MaxAttempts int
	Backoff     core.BackoffPolicy
	Hook        core.JobWorkerHook
}

func NewHandshakeWorker(service *core.Service, dequeuer queue.Dequeuer, cfg HandshakeWorkerConfig) *core.HandshakeRetryWorker {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = cfg.Policy.MaxAttempts
	}
	return core.NewHandshakeRetryWorker(service, NewHandshakeQueue(nil, dequeuer, cfg.Policy), core.HandshakeWorkerOptions{
		MaxAttempts: maxAttempts,
		Backoff:     cfg.Backoff,
		Hook:        cfg.Hook,
	})
}
