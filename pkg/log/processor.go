package log

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/mwantia/fabric/pkg/container"
)

// LoggerTagProcessor injects loggers into fields tagged `fabric:"logger"` or
// `fabric:"logger:<name>"`. The agent also uses it to hand named loggers to the
// scheduler, the garbage collector and the artifact service.
type LoggerTagProcessor struct{}

func NewLoggerTagProcessor() *LoggerTagProcessor {
	return &LoggerTagProcessor{}
}

// GetPriority keeps logger injection ahead of the default inject processor (priority 0).
func (ltp *LoggerTagProcessor) GetPriority() int {
	return 50
}

// CanProcess matches "logger" and "logger:<name>", case-insensitive.
func (ltp *LoggerTagProcessor) CanProcess(value string) bool {
	return strings.EqualFold(value, "logger") || strings.HasPrefix(strings.ToLower(value), "logger:")
}

func (ltp *LoggerTagProcessor) Process(ctx context.Context, sc *container.ServiceContainer, field reflect.StructField, value string) (any, error) {
	logger, err := ResolveNamed(ctx, sc, TagName(value))
	if err != nil {
		return nil, fmt.Errorf("failed to inject logger into field '%s': %w", field.Name, err)
	}
	return logger, nil
}

// TagName extracts <name> from "logger:<name>"; plain "logger" yields an empty name.
func TagName(value string) string {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ResolveNamed looks up the registered LoggerService and derives a named logger from it.
func ResolveNamed(ctx context.Context, sc *container.ServiceContainer, name string) (LoggerService, error) {
	ok, resolved := sc.ResolveByType(ctx, reflect.TypeOf((*LoggerService)(nil)).Elem())
	if !ok {
		return nil, fmt.Errorf("no logger service registered")
	}

	base, ok := resolved.(LoggerService)
	if !ok {
		return nil, fmt.Errorf("resolved service is not a LoggerService")
	}

	if name != "" {
		return base.Named(name), nil
	}
	return base, nil
}
