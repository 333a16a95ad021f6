package gologger

import (
	"context"
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-ocpi/core"
)

// DefaultLoggerName is used when no name is passed to Resolve.
const DefaultLoggerName = "ocpi"

// Resolve picks provider, then logger, then a nop logger.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultLoggerName
	}
	return glog.Resolve(name, provider, logger)
}

// ResolveForJob resolves like Resolve and also returns the go-job bridges,
// so handshake workers log through the same sink as the service.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	var jobProvider job.LoggerProvider
	if resolvedProvider != nil {
		jobProvider = job.GoLoggerProvider(resolvedProvider)
	}
	var jobLogger job.Logger
	if resolvedLogger != nil {
		jobLogger = job.GoLogger(resolvedLogger)
	}
	return resolvedProvider, resolvedLogger, jobProvider, jobLogger
}

// HandshakeLogHook writes handshake worker events to a glog logger.
type HandshakeLogHook struct {
	logger glog.Logger
}

func NewHandshakeLogHook(logger glog.Logger) *HandshakeLogHook {
	return &HandshakeLogHook{logger: glog.Ensure(logger)}
}

func (h *HandshakeLogHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "debug", "ocpi handshake started", event)
}

func (h *HandshakeLogHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "info", "ocpi handshake completed", event)
}

func (h *HandshakeLogHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "error", "ocpi handshake failed", event)
}

func (h *HandshakeLogHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "warn", "ocpi handshake retry scheduled", event)
}

func (h *HandshakeLogHook) log(ctx context.Context, level string, msg string, event core.JobWorkerEvent) {
	if h == nil || h.logger == nil {
		return
	}
	logger := h.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	args := handshakeFields(event)
	switch level {
	case "debug":
		logger.Debug(msg, args...)
	case "warn":
		logger.Warn(msg, args...)
	case "error":
		logger.Error(msg, args...)
	default:
		logger.Info(msg, args...)
	}
}

func handshakeFields(event core.JobWorkerEvent) []any {
	args := []any{"attempt", event.Attempt}
	if handshake, err := core.ParseHandshakeJob(event.Message); err == nil {
		args = append(args, "party", handshake.Party.Key(), "operation", handshake.Operation)
	} else if event.Message != nil {
		args = append(args, "job_id", event.Message.JobID)
	}
	if event.Delay > 0 {
		args = append(args, "delay", event.Delay.String())
	}
	if event.Duration > 0 {
		args = append(args, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	return args
}

var _ core.JobWorkerHook = (*HandshakeLogHook)(nil)
