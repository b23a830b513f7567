package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the daemon.
const (
	PluginKey    = "plugin.id"
	ModeKey      = "plugin.mode"
	OpKey        = "plugin.op"
	RequestIDKey = "ondemand.request_id"
	SourceKey    = "display.source"
	OutcomeKey   = "display.outcome"
	DurationKey  = "slice.duration_ms"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// SliceAttributes creates the span attributes for one display slice.
func SliceAttributes(plugin, mode, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PluginKey, plugin),
		attribute.String(ModeKey, mode),
		attribute.String(SourceKey, source),
	}
}

// CallAttributes creates the span attributes for one plugin invocation.
func CallAttributes(plugin, op string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PluginKey, plugin),
		attribute.String(OpKey, op),
	}
}

// ErrorAttributes creates error span attributes.
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, fmtErrorType(err)),
	}
}

func fmtErrorType(err error) string {
	type typer interface{ Type() string }
	if t, ok := err.(typer); ok {
		return t.Type()
	}
	return "generic"
}
