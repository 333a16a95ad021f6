package core

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const metricPrefix = "ocpi."

const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailure  = "failure"
)

// metricTagFields are the log fields promoted to metric tags.
var metricTagFields = []string{"party", "module", "version", "method"}

// secretFields never reach logs or metrics.
var secretFields = map[string]struct{}{
	"token":          {},
	"local_token":    {},
	"presented":      {},
	"access_token":   {},
	"credentials":    {},
	"authorization":  {},
	"remote_token":   {},
	"previous_token": {},
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// ClassifyOutcome separates requests a peer or operator got wrong (rejected)
// from faults on our side or the network (failure). It also returns the OCPI
// text code of err.
func ClassifyOutcome(err error) (outcome string, textCode string) {
	if err == nil {
		return OutcomeSuccess, ""
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		rich = serviceErrorMapper(err)
	}
	switch rich.Category {
	case goerrors.CategoryAuth, goerrors.CategoryAuthz,
		goerrors.CategoryBadInput, goerrors.CategoryValidation,
		goerrors.CategoryNotFound, goerrors.CategoryConflict:
		return OutcomeRejected, rich.TextCode
	}
	return OutcomeFailure, rich.TextCode
}

func (s *Service) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if s == nil {
		return
	}
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	outcome, code := ClassifyOutcome(err)
	elapsed := time.Since(startedAt)

	logFields := redactFields(fields)
	logFields["operation"] = operation
	logFields["outcome"] = outcome
	logFields["duration_ms"] = elapsed.Milliseconds()
	if err != nil {
		logFields["error"] = err.Error()
		logFields["code"] = code
	}

	tags := map[string]string{"operation": operation, "outcome": outcome}
	if code != "" {
		tags["code"] = code
	}
	for _, key := range metricTagFields {
		if value, ok := logFields[key]; ok && value != nil {
			if text := strings.TrimSpace(fmt.Sprint(value)); text != "" {
				tags[key] = text
			}
		}
	}

	s.recordCounter(ctx, metricPrefix+operation+".total", 1, tags)
	s.recordHistogram(ctx, metricPrefix+operation+".duration_ms", float64(elapsed.Milliseconds()), tags)

	switch outcome {
	case OutcomeFailure:
		s.logWithLevel(ctx, "error", "ocpi "+operation+" failed", logFields)
	case OutcomeRejected:
		s.logWithLevel(ctx, "warn", "ocpi "+operation+" rejected", logFields)
	default:
		s.logWithLevel(ctx, "info", "ocpi "+operation+" succeeded", logFields)
	}
}

func (s *Service) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(maps.Clone(fields))
	}
	args := make([]any, 0, len(fields)*2)
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, key, fields[key])
	}
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (s *Service) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.IncCounter(ctx, name, value, maps.Clone(tags))
}

func (s *Service) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.ObserveHistogram(ctx, name, value, maps.Clone(tags))
}

func redactFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+5)
	for key, value := range fields {
		if _, secret := secretFields[strings.ToLower(key)]; secret {
			continue
		}
		out[key] = value
	}
	return out
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(operation)
}
