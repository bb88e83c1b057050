package aslanpay

import (
	"context"
)

// ExecutionResult is what the purchase mechanism reports back. It is
// the only thing the orchestrator knows about execution: internal
// retries, browser automation, merchant APIs are the adapter's private
// concern and must still collapse into a single result.
type ExecutionResult struct {
	Succeeded bool

	// FinalAmount is the amount actually charged. Only meaningful when
	// Succeeded; may exceed the requested amount (taxes, fees) or fall
	// below it, but never be negative. Zero is a valid free service.
	FinalAmount float64

	// Evidence is opaque transaction detail (order id, item list,
	// timestamps) passed through to confirmation for audit.
	Evidence map[string]any

	// Err describes the failure when Succeeded is false.
	Err string
}

// ExecutionAdapter carries out the purchase a grant was approved for.
// Implementations range from browser automation to direct merchant
// APIs to deterministic test doubles; the orchestrator depends only on
// this contract.
type ExecutionAdapter interface {
	Execute(ctx context.Context, grant *Grant, intent PurchaseIntent) (ExecutionResult, error)
}

// AdapterFunc adapts a plain function to an ExecutionAdapter.
type AdapterFunc func(ctx context.Context, grant *Grant, intent PurchaseIntent) (ExecutionResult, error)

func (f AdapterFunc) Execute(ctx context.Context, grant *Grant, intent PurchaseIntent) (ExecutionResult, error) {
	return f(ctx, grant, intent)
}
