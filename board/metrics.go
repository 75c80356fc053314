package board

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "taskflow/board"
	commandEventName   = "board.command"
	commandEventDomain = "taskflow"
)

func newCommandCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_board_commands_total",
		Help: "Board commands sent to the remote collection, by command and outcome.",
	}, []string{"command", "outcome"})
}

// registerCounter registers cv with reg. When an identical counter is already
// registered, that one is returned so every Store on reg reports into it.
func registerCounter(reg prometheus.Registerer, cv *prometheus.CounterVec, logger log.FieldLogger) *prometheus.CounterVec {
	err := reg.Register(cv)
	if err == nil {
		return cv
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing
		}
	}
	logger.WithError(err).Warn("register metrics")
	return cv
}

type commandObservation struct {
	ctx     context.Context
	span    trace.Span
	logger  *log.Logger
	counter *prometheus.CounterVec
	command string
	start   time.Time
}

func (s *Store) observe(ctx context.Context, command string) *commandObservation {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "board."+command,
		trace.WithAttributes(attribute.String("taskflow.board.command", command)),
	)
	return &commandObservation{
		ctx:     ctx,
		span:    span,
		logger:  s.logger,
		counter: s.commands,
		command: command,
		start:   time.Now(),
	}
}

func (o *commandObservation) finish(err error) {
	outcome := "ok"
	severityText, severityNumber := "INFO", 9
	if err != nil {
		outcome = "error"
		severityText, severityNumber = "ERROR", 17
	}
	durationMs := durationToMillis(time.Since(o.start))

	attrs := []attribute.KeyValue{
		attribute.String("taskflow.board.command", o.command),
		attribute.String("taskflow.board.outcome", outcome),
		attribute.Float64("taskflow.board.duration_ms", durationMs),
	}
	logAttrs := map[string]any{
		"taskflow.board.command":     o.command,
		"taskflow.board.outcome":     outcome,
		"taskflow.board.duration_ms": durationMs,
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
		logAttrs["error.message"] = err.Error()
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	} else {
		o.span.SetStatus(codes.Ok, "")
	}

	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", commandEventName),
		attribute.String("event.domain", commandEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)
	o.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))

	fields := log.Fields{
		"event.name":      commandEventName,
		"event.domain":    commandEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      logAttrs,
	}
	if sc := o.span.SpanContext(); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	o.span.End()
	o.counter.WithLabelValues(o.command, outcome).Inc()

	if o.logger == nil {
		return
	}
	entry := o.logger.WithFields(fields)
	if err != nil {
		entry.Error("observability.event")
		return
	}
	entry.Info("observability.event")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
