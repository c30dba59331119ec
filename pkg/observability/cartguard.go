package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Enforcement attributes.
var (
	AttrOperation     = attribute.Key("cartguard.operation")
	AttrPassID        = attribute.Key("cartguard.pass.id")
	AttrPassSeq       = attribute.Key("cartguard.pass.seq")
	AttrPassTrigger   = attribute.Key("cartguard.pass.trigger")
	AttrProductID     = attribute.Key("cartguard.product.id")
	AttrViolationKind = attribute.Key("cartguard.violation.kind")
	AttrGateFrom      = attribute.Key("cartguard.gate.from")
	AttrGateTo        = attribute.Key("cartguard.gate.to")
	AttrIntentChannel = attribute.Key("cartguard.intent.channel")
	AttrShop          = attribute.Key("cartguard.shop")
)

// PassOperation creates attributes for a validation pass.
func PassOperation(passID string, seq uint64, trigger string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPassID.String(passID),
		AttrPassSeq.Int64(int64(seq)),
		AttrPassTrigger.String(trigger),
	}
}

// LookupOperation creates attributes for a policy lookup.
func LookupOperation(shop, productID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrShop.String(shop),
		AttrProductID.String(productID),
	}
}

// GateTransition creates attributes for a gate state change.
func GateTransition(from, to string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrGateFrom.String(from),
		AttrGateTo.String(to),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
