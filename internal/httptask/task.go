package httptask

import (
	"context"

	"github.com/rcourtman/fabricpulse/internal/barrier"
	"github.com/rs/zerolog/log"
)

// Spawn registers one unit of work on b, runs call on its own goroutine and
// passes the outcome to cont. The barrier handle is completed after cont
// returns, whether call succeeded or not, so anything cont registers on the
// same barrier is counted before this unit finishes.
func Spawn[T any](ctx context.Context, b *barrier.Barrier, call func(context.Context) (T, error), cont func(T, error)) error {
	h, err := b.Begin()
	if err != nil {
		return err
	}

	go func() {
		defer func() {
			if err := h.Done(); err != nil {
				log.Error().Err(err).Str("barrier", b.Name()).Msg("Barrier handle misuse")
			}
		}()

		v, err := call(ctx)
		cont(v, err)
	}()

	return nil
}
