package gocommand

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

const (
	// OperationTypePrefix namespaces every message type dispatched for OCPI.
	OperationTypePrefix = "ocpi."

	// QueueResolverKey is the resolver that mirrors operations into a go-job
	// queue registry.
	QueueResolverKey = "ocpi.queue"
)

// OperationType returns the message type of T and checks it is namespaced.
func OperationType[T any]() (string, error) {
	var zero T
	msg, ok := any(zero).(command.Message)
	if !ok {
		return "", fmt.Errorf("gocommand: %T does not implement Type()", zero)
	}
	typ := strings.TrimSpace(msg.Type())
	if len(typ) <= len(OperationTypePrefix) || !strings.HasPrefix(typ, OperationTypePrefix) {
		return "", fmt.Errorf("gocommand: operation type %q must start with %q", typ, OperationTypePrefix)
	}
	return typ, nil
}

// OperationRegistry is the go-command registry for OCPI operations. Each
// operation type can be registered once.
type OperationRegistry struct {
	registry *command.Registry

	mu    sync.Mutex
	types map[string]struct{}
}

func NewOperationRegistry(registry *command.Registry) *OperationRegistry {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &OperationRegistry{registry: registry, types: map[string]struct{}{}}
}

func (r *OperationRegistry) Registry() *command.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Types lists the registered operation types in order.
func (r *OperationRegistry) Types() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.types))
	for typ := range r.types {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

func (r *OperationRegistry) AddResolver(key string, resolver command.Resolver) error {
	if r == nil || r.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return r.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// MirrorToQueue makes Initialize copy every registered operation into
// queueRegistry, so handshake jobs can run them asynchronously.
func (r *OperationRegistry) MirrorToQueue(queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return r.AddResolver(QueueResolverKey, jobqueuecommand.QueueResolver(queueRegistry))
}

func (r *OperationRegistry) Initialize() error {
	if r == nil || r.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return r.registry.Initialize()
}

func (r *OperationRegistry) claim(typ string, handler any) error {
	if r == nil || r.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[typ]; exists {
		return fmt.Errorf("gocommand: operation %q already registered", typ)
	}
	if err := r.registry.RegisterCommand(handler); err != nil {
		return err
	}
	r.types[typ] = struct{}{}
	return nil
}

// RegisterCommand registers cmd and subscribes it on the global dispatcher.
func RegisterCommand[T any](
	r *OperationRegistry,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	typ, err := OperationType[T]()
	if err != nil {
		return nil, err
	}
	if err := r.claim(typ, cmd); err != nil {
		return nil, err
	}
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...), nil
}

// RegisterQuery registers qry and subscribes it on the global dispatcher.
func RegisterQuery[T any, R any](
	r *OperationRegistry,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	typ, err := OperationType[T]()
	if err != nil {
		return nil, err
	}
	if err := r.claim(typ, qry); err != nil {
		return nil, err
	}
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...), nil
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}
