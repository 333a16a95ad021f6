package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

func TestClassifyOutcome(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		outcome string
		code    string
	}{
		{name: "nil", err: nil, outcome: OutcomeSuccess},
		{name: "unauthorized", err: unauthorizedError("unknown token"), outcome: OutcomeRejected, code: ServiceErrorUnauthorized},
		{name: "missing party", err: partyNotFoundError(testPartyID), outcome: OutcomeRejected, code: ServiceErrorPartyNotFound},
		{name: "transport", err: transportFailure(errors.New("timeout"), 3, testPeerVersionsURL), outcome: OutcomeFailure, code: ServiceErrorTransport},
		{name: "plain", err: fmt.Errorf("disk full"), outcome: OutcomeFailure, code: ServiceErrorInternal},
	}
	for _, tc := range cases {
		outcome, code := ClassifyOutcome(tc.err)
		if outcome != tc.outcome || code != tc.code {
			t.Fatalf("%s: expected %s/%s, got %s/%s", tc.name, tc.outcome, tc.code, outcome, code)
		}
	}
}

func TestObserveOperationRedactsAndLevels(t *testing.T) {
	logger := &levelLogger{}
	metrics := newRecordingMetrics()
	svc := &Service{logger: logger, metricsRecorder: metrics}

	svc.observeOperation(context.Background(), time.Now(), "Accept-Credentials", unauthorizedError("unknown token"), map[string]any{
		"party": testPartyID.Key(),
		"token": "secret-token",
	})
	if logger.level != "warn" || logger.msg != "ocpi accept_credentials rejected" {
		t.Fatalf("expected rejected warn log, got %s %q", logger.level, logger.msg)
	}
	for _, arg := range logger.args {
		if arg == "secret-token" {
			t.Fatalf("expected token to be redacted from log args %v", logger.args)
		}
	}
	if metrics.count("ocpi.accept_credentials.total", OutcomeRejected) != 1 {
		t.Fatalf("expected rejected counter")
	}

	svc.observeOperation(context.Background(), time.Now(), "call", transportFailure(errors.New("timeout"), 3, testPeerVersionsURL), nil)
	if logger.level != "error" || !strings.Contains(fmt.Sprint(logger.args), ServiceErrorTransport) {
		t.Fatalf("expected failure error log with code, got %s %v", logger.level, logger.args)
	}

	svc.observeOperation(context.Background(), time.Now(), "load", nil, map[string]any{"parties": 2})
	if logger.level != "info" || metrics.count("ocpi.load.total", OutcomeSuccess) != 1 {
		t.Fatalf("expected success info log and counter, got %s", logger.level)
	}
}

type levelLogger struct {
	level string
	msg   string
	args  []any
}

func (l *levelLogger) set(level string, msg string, args []any) {
	l.level, l.msg, l.args = level, msg, args
}

func (l *levelLogger) Trace(msg string, args ...any)           { l.set("trace", msg, args) }
func (l *levelLogger) Debug(msg string, args ...any)           { l.set("debug", msg, args) }
func (l *levelLogger) Info(msg string, args ...any)            { l.set("info", msg, args) }
func (l *levelLogger) Warn(msg string, args ...any)            { l.set("warn", msg, args) }
func (l *levelLogger) Error(msg string, args ...any)           { l.set("error", msg, args) }
func (l *levelLogger) Fatal(msg string, args ...any)           { l.set("fatal", msg, args) }
func (l *levelLogger) WithContext(context.Context) glog.Logger { return l }
