package logging

import (
	"log/slog"

	"possync/internal/core/domain"
)

// Resource identifiers

func Path(p domain.ResourcePath) slog.Attr {
	return slog.String("path", p.Key())
}

func Collection(name string) slog.Attr {
	return slog.String("collection", name)
}

func Document(id string) slog.Attr {
	return slog.String("document_id", id)
}

func Subscription(id string) slog.Attr {
	return slog.String("subscription_id", id)
}

func Handle(id string) slog.Attr {
	return slog.String("handle_id", id)
}

func IdempotencyKey(key string) slog.Attr {
	return slog.String("idempotency_key", key)
}

// Request / tracing

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
