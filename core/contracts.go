package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Metadata             map[string]any
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// TransportResolver returns the adapter used to reach one party, built from
// its connection policy.
type TransportResolver interface {
	Resolve(ctx context.Context, id PartyID, cfg ConnectionConfig) (TransportAdapter, error)
}

type TransportResolverFunc func(ctx context.Context, id PartyID, cfg ConnectionConfig) (TransportAdapter, error)

func (f TransportResolverFunc) Resolve(ctx context.Context, id PartyID, cfg ConnectionConfig) (TransportAdapter, error) {
	return f(ctx, id, cfg)
}

type PartyStore interface {
	Load(ctx context.Context) ([]RemoteParty, error)
	Save(ctx context.Context, party RemoteParty) error
	Delete(ctx context.Context, id PartyID) error
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// PartyLocker serializes mutations of one party. Acquire blocks until the
// lock is free or ctx is done.
type PartyLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// PartyService is the operator facing surface used by the command and query
// adapters.
type PartyService interface {
	AddParty(ctx context.Context, in AddPartyInput) (RemoteParty, error)
	GetParty(ctx context.Context, id PartyID) (RemoteParty, error)
	ListParties(ctx context.Context) ([]RemoteParty, error)
	RemoveParty(ctx context.Context, id PartyID) error
	SetPartyStatus(ctx context.Context, id PartyID, status PartyStatus) (RemoteParty, error)
	SetLocalAccessStatus(ctx context.Context, id PartyID, token string, status LocalAccessStatus) (RemoteParty, error)
	Register(ctx context.Context, id PartyID) (RemoteAccessInfo, error)
	Renew(ctx context.Context, id PartyID) (RemoteAccessInfo, error)
	Unregister(ctx context.Context, id PartyID) error
	Authorize(ctx context.Context, presented string) (AuthorizedParty, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
