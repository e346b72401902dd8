package logging

import (
	"context"

	"go.uber.org/zap"
)

type namespaceCtxKey struct{}
type signalCtxKey struct{}
type phaseCtxKey struct{}

// WithNamespace attaches a namespace to the context for log correlation.
func WithNamespace(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, namespaceCtxKey{}, namespace)
}

// NamespaceFromContext returns the namespace stored in ctx, or "".
func NamespaceFromContext(ctx context.Context) string {
	ns, _ := ctx.Value(namespaceCtxKey{}).(string)
	return ns
}

// WithSignalID attaches a completion-signal ID to the context.
func WithSignalID(ctx context.Context, signalID string) context.Context {
	return context.WithValue(ctx, signalCtxKey{}, signalID)
}

// SignalIDFromContext returns the signal ID stored in ctx, or "".
func SignalIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(signalCtxKey{}).(string)
	return id
}

// WithPhase attaches the current phase name to the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseCtxKey{}, phase)
}

// PhaseFromContext returns the phase stored in ctx, or "".
func PhaseFromContext(ctx context.Context) string {
	p, _ := ctx.Value(phaseCtxKey{}).(string)
	return p
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if ns := NamespaceFromContext(ctx); ns != "" {
		fields = append(fields, zap.String("namespace", ns))
	}
	if id := SignalIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("signal.id", id))
	}
	if p := PhaseFromContext(ctx); p != "" {
		fields = append(fields, zap.String("phase", p))
	}

	return fields
}
