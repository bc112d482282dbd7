package backoff

import (
	"context"
	"time"
)

// Options controla o executor de retry com backoff exponencial.
// delay = BaseDelay * 2^(tentativa-1), limitado a MaxDelay.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Defaults usados por todas as chamadas ao ledger.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// Retryable decide se um erro merece nova tentativa. Qualquer erro fora
// dessa classe é devolvido imediatamente, sem retry — a operação embrulhada
// precisa ser idempotente ou re-checável pelo chamador.
type Retryable func(error) bool

// Run executa fn até MaxAttempts vezes, dormindo entre tentativas quando
// o erro é retryable. Respeita cancelamento do contexto durante a espera.
func Run[T any](ctx context.Context, opts Options, retryable Retryable, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if opts.MaxAttempts <= 0 {
		opts = DefaultOptions()
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == opts.MaxAttempts {
			break
		}
		if err := sleep(ctx, delayFor(opts, attempt)); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func delayFor(opts Options, attempt int) time.Duration {
	d := opts.BaseDelay << (attempt - 1)
	if d > opts.MaxDelay || d <= 0 { // overflow do shift também cai no teto
		d = opts.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
