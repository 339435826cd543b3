package classify

import (
	"context"
	"log/slog"
)

// LogError writes a classified error at a level matching its severity.
func LogError(ctx context.Context, logger *slog.Logger, e *ClassifiedError, operation string) {
	if logger == nil || e == nil {
		return
	}

	level := slog.LevelWarn
	switch e.Severity {
	case SeverityLow:
		level = slog.LevelDebug
	case SeverityHigh, SeverityCritical:
		level = slog.LevelError
	}

	attrs := []any{
		"operation", operation,
		"category", string(e.Category),
		"severity", e.Severity.String(),
		"code", e.Code,
		"retryable", e.Retryable,
	}
	if e.StatusCode > 0 {
		attrs = append(attrs, "status", e.StatusCode)
	}
	if e.RetryAfter > 0 {
		attrs = append(attrs, "retry_after", e.RetryAfter)
	}

	logger.Log(ctx, level, "Discord request failed: "+e.Message, attrs...)
}
