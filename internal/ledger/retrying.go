package ledger

import (
	"context"

	"github.com/guess5/match-payout-poc/internal/shared/backoff"
)

// retryingGateway aplica o executor de backoff em toda chamada ao RPC.
// A classificação vem da taxonomia (Retryable); mutações continuam seguras
// porque a criação de proposta é idempotente no ledger (AlreadyExists).
type retryingGateway struct {
	inner Gateway
	opts  backoff.Options
}

// WithBackoff decora o gateway com retry exponencial pra erros transitórios
// e de rate limit.
func WithBackoff(inner Gateway, opts backoff.Options) Gateway {
	return &retryingGateway{inner: inner, opts: opts}
}

func (g *retryingGateway) ReadAccount(ctx context.Context, address string) (*AccountState, error) {
	return backoff.Run(ctx, g.opts, Retryable, func(ctx context.Context) (*AccountState, error) {
		return g.inner.ReadAccount(ctx, address)
	})
}

func (g *retryingGateway) ReadTransaction(ctx context.Context, vault string, index int64) (*TxState, error) {
	return backoff.Run(ctx, g.opts, Retryable, func(ctx context.Context) (*TxState, error) {
		return g.inner.ReadTransaction(ctx, vault, index)
	})
}

func (g *retryingGateway) GetLatestIndex(ctx context.Context, vault string) (int64, error) {
	return backoff.Run(ctx, g.opts, Retryable, func(ctx context.Context) (int64, error) {
		return g.inner.GetLatestIndex(ctx, vault)
	})
}

func (g *retryingGateway) SubmitProposal(ctx context.Context, sub ProposalSubmission) (string, error) {
	return backoff.Run(ctx, g.opts, Retryable, func(ctx context.Context) (string, error) {
		return g.inner.SubmitProposal(ctx, sub)
	})
}

func (g *retryingGateway) LastSignature(ctx context.Context, address string) (string, error) {
	return backoff.Run(ctx, g.opts, Retryable, func(ctx context.Context) (string, error) {
		return g.inner.LastSignature(ctx, address)
	})
}
