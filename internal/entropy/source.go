package entropy

import "context"

// Source produces random bytes on demand.
//
// Implementations report failures through SourceError so the chain can
// distinguish recoverable source outages from programming errors.
type Source interface {
	// Name identifies the source in logs and errors.
	Name() string

	// Fetch returns exactly n bytes of entropy, or an error.
	// Implementations must honor context cancellation on blocking calls.
	Fetch(ctx context.Context, n int) ([]byte, error)
}
