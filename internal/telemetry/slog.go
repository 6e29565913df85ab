package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// Handler forwards every slog record to an OpenTelemetry logger and then to
// the wrapped handler, so console output and exported logs match.
type Handler struct {
	next   slog.Handler
	logger otellog.Logger
	attrs  []otellog.KeyValue
	prefix string
}

// NewHandler wraps next. A nil logger uses the global logger provider, which
// stays a no-op until [Setup] succeeds.
func NewHandler(next slog.Handler, logger otellog.Logger) *Handler {
	if logger == nil {
		logger = global.GetLoggerProvider().Logger("github.com/pulsebook/pulsebook")
	}
	return &Handler{next: next, logger: logger}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var rec otellog.Record
	rec.SetTimestamp(r.Time)
	rec.SetObservedTimestamp(time.Now())
	rec.SetSeverity(severity(r.Level))
	rec.SetSeverityText(r.Level.String())
	rec.SetBody(otellog.StringValue(r.Message))
	rec.AddAttributes(h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttributes(convertAttr(h.prefix, a))
		return true
	})
	h.logger.Emit(ctx, rec)

	return h.next.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = make([]otellog.KeyValue, 0, len(h.attrs)+len(attrs))
	cp.attrs = append(cp.attrs, h.attrs...)
	for _, a := range attrs {
		cp.attrs = append(cp.attrs, convertAttr(h.prefix, a))
	}
	cp.next = h.next.WithAttrs(attrs)
	return &cp
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	cp.next = h.next.WithGroup(name)
	return &cp
}

func severity(l slog.Level) otellog.Severity {
	switch {
	case l < slog.LevelInfo:
		return otellog.SeverityDebug
	case l < slog.LevelWarn:
		return otellog.SeverityInfo
	case l < slog.LevelError:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityError
	}
}

func convertAttr(prefix string, a slog.Attr) otellog.KeyValue {
	return otellog.KeyValue{Key: prefix + a.Key, Value: convertValue(a.Value)}
}

func convertValue(v slog.Value) otellog.Value {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return otellog.StringValue(v.String())
	case slog.KindInt64:
		return otellog.Int64Value(v.Int64())
	case slog.KindUint64:
		return otellog.Int64Value(int64(v.Uint64()))
	case slog.KindFloat64:
		return otellog.Float64Value(v.Float64())
	case slog.KindBool:
		return otellog.BoolValue(v.Bool())
	case slog.KindDuration:
		return otellog.StringValue(v.Duration().String())
	case slog.KindTime:
		return otellog.StringValue(v.Time().Format(time.RFC3339Nano))
	case slog.KindGroup:
		group := v.Group()
		kvs := make([]otellog.KeyValue, 0, len(group))
		for _, a := range group {
			kvs = append(kvs, convertAttr("", a))
		}
		return otellog.MapValue(kvs...)
	default:
		if err, ok := v.Any().(error); ok {
			return otellog.StringValue(err.Error())
		}
		return otellog.StringValue(fmt.Sprint(v.Any()))
	}
}
