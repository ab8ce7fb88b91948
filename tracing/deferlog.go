package tracing

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LogRecoverToReturn Recovers from a panic, logs and forwards it sentry and otel, then returns
// Does nothing when there is no panic.
func LogRecoverToReturn(ctx context.Context, loc string) {
	err := recover()
	if err == nil {
		return
	}

	stack := string(debug.Stack())
	HandleError(ctx, loc, err, stack)
}

func HandleError(ctx context.Context, loc string, err interface{}, stack string) {
	msg := fmt.Sprintf("unhandled panic in %v, exiting: %v", loc, err)

	hub := sentry.CurrentHub()
	if hub != nil {
		hub.Recover(err)
	}

	// always log to stderr (no WithContext!)
	log.WithFields(log.Fields{"loc": loc, "stack": stack}).Error(msg)

	// if we have a context, try attaching additional info to the span
	if ctx != nil {
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(
			attribute.String("tokengen.panic.loc", loc),
			attribute.String("tokengen.panic.stack", stack),
		)
	}
}
