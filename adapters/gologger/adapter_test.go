package gologger

import (
	"context"
	"errors"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-ocpi/core"
)

func TestResolveDeterministicFallback(t *testing.T) {
	loggerOnly := &capturingLogger{id: "logger"}
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	var resolvedProvider glog.LoggerProvider
	_, resolved := Resolve("ocpi", provider, loggerOnly)
	got := resolved.(*capturingLogger)
	if got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}

	resolvedProvider, resolved = Resolve("ocpi", nil, loggerOnly)
	got = resolved.(*capturingLogger)
	if got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	_, resolved = Resolve("ocpi", nil, nil)
	if resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestGoJobBridgeCompatibility(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	_, _, jobProvider, jobLogger := ResolveForJob("ocpi", provider, nil)
	if jobProvider == nil {
		t.Fatalf("expected go-job provider bridge")
	}
	if jobLogger == nil {
		t.Fatalf("expected go-job logger bridge")
	}

	bridged := jobProvider.GetLogger("ocpi")
	bridged.Info("hello", "k", "v")

	captured := providerLogger.lastInfo
	if captured.msg != "hello" {
		t.Fatalf("expected bridged message, got %q", captured.msg)
	}
	if captured.args[0] != "k" || captured.args[1] != "v" {
		t.Fatalf("expected bridged args, got %#v", captured.args)
	}
}

func TestResolveDefaultsName(t *testing.T) {
	provider := &namingProvider{}
	Resolve("  ", provider, nil)
	if provider.requested != DefaultLoggerName {
		t.Fatalf("expected default logger name, got %q", provider.requested)
	}
}

func TestHandshakeLogHookFields(t *testing.T) {
	logger := &capturingLogger{id: "hook"}
	hook := NewHandshakeLogHook(logger)
	party := core.NewPartyID("NL", "ABC", core.RoleCPO)
	msg := core.HandshakeJob{Party: party, Operation: "renew"}.Message()

	hook.OnFailure(context.Background(), core.JobWorkerEvent{
		Message: msg,
		Attempt: 3,
		Err:     errors.New("peer offline"),
	})
	if logger.last.level != "error" || logger.last.msg != "ocpi handshake failed" {
		t.Fatalf("unexpected failure log: %#v", logger.last)
	}
	fields := map[any]any{}
	for i := 0; i+1 < len(logger.last.args); i += 2 {
		fields[logger.last.args[i]] = logger.last.args[i+1]
	}
	if fields["party"] != "NL*ABC*CPO" || fields["operation"] != "renew" {
		t.Fatalf("expected party fields, got %#v", fields)
	}
	if fields["attempt"] != 3 || fields["error"] != "peer offline" {
		t.Fatalf("expected attempt and error fields, got %#v", fields)
	}

	hook.OnRetry(context.Background(), core.JobWorkerEvent{Message: msg, Attempt: 1, Delay: time.Second})
	if logger.last.level != "warn" {
		t.Fatalf("expected retry to warn, got %q", logger.last.level)
	}

	hook.OnSuccess(context.Background(), core.JobWorkerEvent{Message: &core.JobExecutionMessage{JobID: "other"}})
	if logger.lastInfo.msg != "ocpi handshake completed" {
		t.Fatalf("expected success info log, got %#v", logger.lastInfo)
	}
	if logger.lastInfo.args[2] != "job_id" || logger.lastInfo.args[3] != "other" {
		t.Fatalf("expected job id fallback for foreign messages, got %#v", logger.lastInfo.args)
	}
}

type namingProvider struct {
	requested string
}

func (p *namingProvider) GetLogger(name string) glog.Logger {
	p.requested = name
	return glog.Nop()
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger *capturingLogger
}

func (p *capturingProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type infoCall struct {
	level string
	msg   string
	args  []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
	last     infoCall
}

func (l *capturingLogger) record(level string, msg string, args []any) infoCall {
	call := infoCall{level: level, msg: msg, args: append([]any(nil), args...)}
	l.last = call
	return call
}

func (l *capturingLogger) Trace(msg string, args ...any) { l.record("trace", msg, args) }
func (l *capturingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *capturingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *capturingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }
func (l *capturingLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args) }

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = l.record("info", msg, args)
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}
