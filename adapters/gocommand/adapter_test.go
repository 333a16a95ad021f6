package gocommand

import (
	"context"
	"reflect"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

type unprefixedMessage struct{}

func (unprefixedMessage) Type() string { return "party.add" }

type bareMessage struct{}

type dispatchMessage struct {
	ID string
}

func (dispatchMessage) Type() string { return "ocpi.test.dispatch" }

type queueMessage struct{}

func (queueMessage) Type() string { return "ocpi.test.queue" }

func TestOperationTypeRequiresNamespace(t *testing.T) {
	if typ, err := OperationType[dispatchMessage](); err != nil || typ != "ocpi.test.dispatch" {
		t.Fatalf("expected namespaced type, got %q %v", typ, err)
	}
	if _, err := OperationType[unprefixedMessage](); err == nil {
		t.Fatalf("expected type outside the ocpi namespace to fail")
	}
	if _, err := OperationType[bareMessage](); err == nil {
		t.Fatalf("expected message without Type() to fail")
	}
}

func TestRegisterCommandAndDispatch(t *testing.T) {
	registry := NewOperationRegistry(command.NewRegistry())
	executed := 0
	resolverCalls := 0

	cmd := command.CommandFunc[dispatchMessage](func(context.Context, dispatchMessage) error {
		executed++
		return nil
	})
	sub, err := RegisterCommand(registry, cmd)
	if err != nil {
		t.Fatalf("register command: %v", err)
	}
	defer sub.Unsubscribe()

	if _, err := RegisterCommand(registry, cmd); err == nil {
		t.Fatalf("expected duplicate operation type to be refused")
	}
	if err := registry.AddResolver("custom", func(any, command.CommandMeta, *command.Registry) error {
		resolverCalls++
		return nil
	}); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	if err := registry.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if resolverCalls == 0 {
		t.Fatalf("expected resolver to run during initialization")
	}

	if err := Dispatch(context.Background(), dispatchMessage{ID: "m1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected one execution, got %d", executed)
	}
	if got := registry.Types(); !reflect.DeepEqual(got, []string{"ocpi.test.dispatch"}) {
		t.Fatalf("unexpected registered types %v", got)
	}
}

func TestMirrorToQueue(t *testing.T) {
	registry := NewOperationRegistry(nil)
	queueRegistry := jobqueuecommand.NewRegistry()

	if err := registry.MirrorToQueue(nil); err == nil {
		t.Fatalf("expected nil queue registry to fail")
	}
	if err := registry.MirrorToQueue(queueRegistry); err != nil {
		t.Fatalf("mirror to queue: %v", err)
	}
	sub, err := RegisterCommand(registry, command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil }))
	if err != nil {
		t.Fatalf("register command: %v", err)
	}
	defer sub.Unsubscribe()
	if err := registry.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if _, ok := queueRegistry.Get("ocpi.test.queue"); !ok {
		t.Fatalf("expected operation to be mirrored into the queue registry")
	}
}

func TestNilRegistryRefusesRegistration(t *testing.T) {
	var registry *OperationRegistry
	if _, err := RegisterCommand(registry, command.CommandFunc[dispatchMessage](func(context.Context, dispatchMessage) error { return nil })); err == nil {
		t.Fatalf("expected nil registry to fail")
	}
	if err := registry.Initialize(); err == nil {
		t.Fatalf("expected nil registry initialize to fail")
	}
}
