package element

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glinharesb/sekeys/internal/hsm"
	"github.com/glinharesb/sekeys/internal/metrics"
)

const (
	MinRandomLength = 8
	MaxRandomLength = 256
)

// Random returns n random bytes from the element's true random generator, or
// from its deterministic generator when useTrueRandom is false. A non-zero
// status is returned as *hsm.HardwareFault like every other operation.
func Random(ctx context.Context, t hsm.Transport, n int, useTrueRandom bool) (out []byte, err error) {
	source := hsm.DRNG
	if useTrueRandom {
		source = hsm.TRNG
	}
	start := time.Now()
	defer func() { metrics.RecordOperation(metrics.OpRandom, source.String(), start, err) }()

	if t == nil {
		return nil, ErrNilTransport
	}
	if n < MinRandomLength || n > MaxRandomLength {
		return nil, fmt.Errorf("%w: random length %d outside %d..%d", ErrInvalidLength, n, MinRandomLength, MaxRandomLength)
	}

	out = make([]byte, n)
	if err := hsm.Fault(t.Random(ctx, source, out)); err != nil {
		slog.Warn("random generation failed", "source", source, "length", n, "error", err)
		return nil, fmt.Errorf("random: %w", err)
	}
	return out, nil
}
