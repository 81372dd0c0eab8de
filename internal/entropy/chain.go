package entropy

import (
	"context"
	"log/slog"
)

// Chain orchestrates the entropy sources with a fixed priority:
// spectral radio first, the online quantum API second, and the secure
// software source as the trust floor. Physical entropy is preferred,
// network-sourced "quantum" claims are secondary, and the CSPRNG
// guarantees a result.
type Chain struct {
	spectral Source
	online   Source
	fallback *Fallback
}

// NewChain builds a chain. spectral and online may be nil when the
// corresponding source is not configured; the fallback is always
// present.
func NewChain(spectral, online Source) *Chain {
	return &Chain{
		spectral: spectral,
		online:   online,
		fallback: NewFallback(),
	}
}

// Fetch returns exactly n bytes. It never fails: every recoverable
// source error falls through to the next source, and the fallback
// cannot fail. Non-recoverable errors are logged and still fall
// through, so bit production is never halted by a source bug.
func (c *Chain) Fetch(ctx context.Context, n int) []byte {
	if n <= 0 {
		return []byte{}
	}

	if c.spectral != nil {
		b, err := c.spectral.Fetch(ctx, n)
		if err == nil {
			return b
		}

		c.logFallthrough(c.spectral.Name(), err)
	}

	if c.online != nil {
		b, err := c.online.Fetch(ctx, n)
		if err == nil {
			return b
		}

		c.logFallthrough(c.online.Name(), err)
	}

	b, _ := c.fallback.Fetch(ctx, n)

	return b
}

func (c *Chain) logFallthrough(source string, err error) {
	if recoverable(err) {
		slog.Debug("entropy source unavailable, falling through",
			"source", source,
			"error", err,
		)

		return
	}

	// Not part of the recoverable taxonomy. Still fall through (the
	// chain contract guarantees a result) but flag it loudly.
	slog.Error("unexpected entropy source failure",
		"source", source,
		"error", err,
	)
}
