// Package shared holds small domain primitives used across bounded contexts.
package shared

import "context"

// UnitOfWork executes a function inside one transactional scope. Every write
// performed through repositories within fn is committed atomically when fn
// returns nil, and discarded when fn returns an error. Readers outside the
// scope never observe a partially applied set of writes.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
