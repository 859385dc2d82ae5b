package domain

import "context"

// Service is the consumption engine. Consume is idempotent when the
// request carries an operation ID: a replay returns the original outcome
// without charging twice.
type Service interface {
	Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error)
	// Check quotes the cost of a prospective operation without charging.
	// The quote is advisory; only Consume is authoritative.
	Check(ctx context.Context, req ConsumeRequest) (*CheckResult, error)
}
