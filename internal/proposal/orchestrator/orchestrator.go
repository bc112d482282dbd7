package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/guess5/match-payout-poc/internal/ledger"
	"github.com/guess5/match-payout-poc/internal/matchstore"
	"github.com/guess5/match-payout-poc/internal/proposal/derive"
)

// Taxas em basis points (1_000 bps = 10%)
const (
	payoutFeeBps = 500 // 5% sobre o pote em vitória normal
	refundFeeBps = 500 // 5% retido em refund de empate/timeout (95% de volta)
	bpsDivisor   = 10_000
)

var (
	ErrNotFinal           = errors.New("match outcome not final")
	ErrMissingVault       = errors.New("match has no vault address")
	ErrCreationInFlight   = errors.New("proposal creation already in flight")
	ErrAttemptsExhausted  = errors.New("proposal attempts exhausted")
	ErrNoIndexAvailable   = errors.New("could not claim a tx index for vault")
	errUnexpectedConflict = errors.New("store conflict persisted after retries")
)

// Store é o subconjunto do match store que o orquestrador usa
type Store interface {
	Get(ctx context.Context, matchID string) (*matchstore.Record, error)
	CompareAndUpdate(ctx context.Context, matchID string, expectedVersion int64, patch matchstore.Patch) (*matchstore.Record, error)
	ClaimTxIndex(ctx context.Context, vault string, index int64, matchID string) error
	ClaimedTxIndex(ctx context.Context, vault string, matchID string) (int64, error)
}

// Locker é o marcador de criação em andamento por partida
type Locker interface {
	Acquire(ctx context.Context, matchID string) (token string, ok bool, err error)
	Release(ctx context.Context, matchID, token string) error
}

// Orchestrator garante no máximo uma proposta criada por partida concluída.
// O Gateway já deve vir decorado com backoff (ledger.WithBackoff).
type Orchestrator struct {
	Log    *zap.Logger
	Store  Store
	Ledger ledger.Gateway
	Locks  Locker

	ProgramID    string
	FeeAddress   string
	Signer       string
	ExpiryWindow time.Duration
	MaxAttempts  int

	OnCreated       func()       // métricas (counter++)
	OnAlreadyExists func()       // métricas
	OnFailed        func(string) // métricas por causa
}

const (
	maxStoreRetries = 3
	maxIndexRetries = 3
)

// EnsureProposal garante que a partida concluída tenha uma proposta no ledger:
// 1. short-circuit se o registro já tem proposalId
// 2. lock de criação por partida (gatilhos concorrentes colapsam num só)
// 3. lê o próximo índice do cofre e o reivindica atomicamente no store
// 4. deriva o proposalId e submete a instrução de criação
// 5. persiste índice/id/status com compare-and-update
// AlreadyExists do ledger é caminho de sucesso: a proposta daquele índice
// já está on-chain, só falta o registro local convergir.
func (o *Orchestrator) EnsureProposal(ctx context.Context, matchID string) (*matchstore.Record, error) {
	rec, err := o.Store.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !rec.Final() {
		return nil, fmt.Errorf("match %s: %w", matchID, ErrNotFinal)
	}
	if rec.VaultAddress == "" {
		return nil, fmt.Errorf("match %s: %w", matchID, ErrMissingVault)
	}
	if rec.ProposalID != nil {
		return rec, nil // já criada; chamadas repetidas são no-op
	}
	if rec.ProposalStatus == matchstore.StatusFailed && rec.AttemptCount >= o.maxAttempts() {
		return nil, fmt.Errorf("match %s: %w", matchID, ErrAttemptsExhausted)
	}

	token, ok, err := o.Locks.Acquire(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("acquire creation lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("match %s: %w", matchID, ErrCreationInFlight)
	}
	defer func() {
		// melhor esforço; o TTL do lock cobre falha aqui
		if rerr := o.Locks.Release(context.WithoutCancel(ctx), matchID, token); rerr != nil {
			o.Log.Warn("release creation lock", zap.String("matchId", matchID), zap.Error(rerr))
		}
	}()

	// relê depois do lock: outro gatilho pode ter terminado enquanto esperava
	rec, err = o.Store.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if rec.ProposalID != nil {
		return rec, nil
	}

	return o.create(ctx, rec)
}

func (o *Orchestrator) create(ctx context.Context, rec *matchstore.Record) (*matchstore.Record, error) {
	now := time.Now().UTC()

	index, err := o.claimIndex(ctx, rec)
	if err != nil {
		return nil, o.recordFailure(ctx, rec, now, err)
	}

	proposalID, err := derive.ProposalAddress(rec.VaultAddress, index, o.ProgramID)
	if err != nil {
		return nil, o.recordFailure(ctx, rec, now, err)
	}

	sub, err := o.buildSubmission(rec, index, proposalID)
	if err != nil {
		return nil, o.recordFailure(ctx, rec, now, err)
	}

	sig, err := o.Ledger.SubmitProposal(ctx, sub)
	switch {
	case err == nil:
		o.Log.Info("proposal submitted",
			zap.String("matchId", rec.MatchID),
			zap.String("vault", rec.VaultAddress),
			zap.Int64("txIndex", index),
			zap.String("proposalId", proposalID),
			zap.String("signature", sig),
		)
		if o.OnCreated != nil {
			o.OnCreated()
		}
	case errors.Is(err, ledger.ErrAlreadyExists):
		// o ledger é o árbitro final: a conta já existe pra esse índice,
		// então converge o registro local como sucesso
		o.Log.Info("proposal already on ledger, converging",
			zap.String("matchId", rec.MatchID),
			zap.Int64("txIndex", index),
			zap.String("proposalId", proposalID),
		)
		if o.OnAlreadyExists != nil {
			o.OnAlreadyExists()
		}
	default:
		return nil, o.recordFailure(ctx, rec, now, err)
	}

	status := matchstore.StatusPending
	expires := now.Add(o.expiryWindow())
	attempts := rec.AttemptCount + 1
	return o.patchWithRetry(ctx, rec.MatchID, rec.Version, matchstore.Patch{
		TxIndex:        &index,
		ProposalID:     &proposalID,
		ProposalStatus: &status,
		ExpiresAt:      &expires,
		AttemptCount:   &attempts,
		LastAttemptAt:  &now,
	})
}

// claimIndex lê o próximo índice do cofre no ledger e o reivindica no store.
// Índice já tomado por outra partida avança e tenta de novo, limitado.
// Claim existente da partida tem precedência sobre a leitura do ledger: um
// retry depois de falha parcial (submissão ok, persistência não) resubmete
// no MESMO índice e converge via AlreadyExists, em vez de criar uma segunda
// proposta num índice novo.
func (o *Orchestrator) claimIndex(ctx context.Context, rec *matchstore.Record) (int64, error) {
	claimed, err := o.Store.ClaimedTxIndex(ctx, rec.VaultAddress, rec.MatchID)
	if err == nil {
		return claimed, nil
	}
	if !errors.Is(err, matchstore.ErrNotFound) {
		return 0, fmt.Errorf("lookup claimed index: %w", err)
	}

	index, err := o.Ledger.GetLatestIndex(ctx, rec.VaultAddress)
	if err != nil {
		return 0, fmt.Errorf("read latest index: %w", err)
	}

	for i := 0; i < maxIndexRetries; i++ {
		err := o.Store.ClaimTxIndex(ctx, rec.VaultAddress, index, rec.MatchID)
		if err == nil {
			return index, nil
		}
		if !errors.Is(err, matchstore.ErrIndexTaken) {
			return 0, fmt.Errorf("claim tx index: %w", err)
		}
		index++
	}
	return 0, fmt.Errorf("vault %s: %w", rec.VaultAddress, ErrNoIndexAvailable)
}

// buildSubmission monta a instrução com valores calculados pela tabela de
// taxas: vitória paga o pote menos 5%; empate/timeout devolve 95% pra cada
func (o *Orchestrator) buildSubmission(rec *matchstore.Record, index int64, proposalID string) (ledger.ProposalSubmission, error) {
	kind := rec.ProposalKind
	if kind == "" {
		kind = matchstore.KindFor(rec.Outcome)
	}

	pot := rec.EntryFeeLamports * 2
	sub := ledger.ProposalSubmission{
		VaultAddress: rec.VaultAddress,
		Index:        index,
		ProposalID:   proposalID,
		Kind:         kind,
		FeeAddress:   o.FeeAddress,
		Signer:       o.Signer,
		Memo:         "guess5 match " + rec.MatchID,
	}

	switch rec.Outcome {
	case matchstore.OutcomePlayer1Wins:
		fee := feeFor(pot, payoutFeeBps)
		sub.Recipients = []string{rec.Player1}
		sub.Amounts = []int64{pot - fee}
		sub.FeeAmount = fee
	case matchstore.OutcomePlayer2Wins:
		fee := feeFor(pot, payoutFeeBps)
		sub.Recipients = []string{rec.Player2}
		sub.Amounts = []int64{pot - fee}
		sub.FeeAmount = fee
	case matchstore.OutcomeTie, matchstore.OutcomeTimeoutRefund:
		perPlayer := rec.EntryFeeLamports - feeFor(rec.EntryFeeLamports, refundFeeBps)
		sub.Recipients = []string{rec.Player1, rec.Player2}
		sub.Amounts = []int64{perPlayer, perPlayer}
		sub.FeeAmount = pot - 2*perPlayer
	default:
		return ledger.ProposalSubmission{}, fmt.Errorf("match %s: unknown outcome %q", rec.MatchID, rec.Outcome)
	}
	return sub, nil
}

func feeFor(amount int64, bps int64) int64 {
	return amount * bps / bpsDivisor
}

// recordFailure contabiliza a tentativa e, se o erro for definitivo
// (saldo insuficiente, assinante inválido, endereço inválido), marca FAILED.
// Erros transitórios deixam o registro elegível pro sweep tentar de novo.
func (o *Orchestrator) recordFailure(ctx context.Context, rec *matchstore.Record, now time.Time, cause error) error {
	attempts := rec.AttemptCount + 1
	patch := matchstore.Patch{
		AttemptCount:  &attempts,
		LastAttemptAt: &now,
	}
	if ledger.Fatal(cause) {
		failed := matchstore.StatusFailed
		patch.ProposalStatus = &failed
		if o.OnFailed != nil {
			o.OnFailed("fatal")
		}
	} else if o.OnFailed != nil {
		o.OnFailed("transient")
	}

	if _, perr := o.patchWithRetry(ctx, rec.MatchID, rec.Version, patch); perr != nil {
		o.Log.Error("persist attempt bookkeeping",
			zap.String("matchId", rec.MatchID), zap.Error(perr))
	}
	o.Log.Error("proposal creation failed",
		zap.String("matchId", rec.MatchID),
		zap.String("vault", rec.VaultAddress),
		zap.Int("attempt", attempts),
		zap.Error(cause),
	)
	return cause
}

// patchWithRetry aplica o patch tolerando colisão otimista: relê e repete
// com a versão nova, limitado. Se outro caminho já gravou o proposalId,
// devolve o registro como está.
func (o *Orchestrator) patchWithRetry(ctx context.Context, matchID string, version int64, patch matchstore.Patch) (*matchstore.Record, error) {
	for i := 0; i < maxStoreRetries; i++ {
		rec, err := o.Store.CompareAndUpdate(ctx, matchID, version, patch)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, matchstore.ErrConflict) {
			return nil, err
		}
		cur, gerr := o.Store.Get(ctx, matchID)
		if gerr != nil {
			return nil, gerr
		}
		if patch.ProposalID != nil && cur.ProposalID != nil {
			return cur, nil // outro criador concluiu primeiro
		}
		version = cur.Version
	}
	return nil, errUnexpectedConflict
}

func (o *Orchestrator) expiryWindow() time.Duration {
	if o.ExpiryWindow <= 0 {
		return 30 * time.Minute
	}
	return o.ExpiryWindow
}

func (o *Orchestrator) maxAttempts() int {
	if o.MaxAttempts <= 0 {
		return 5
	}
	return o.MaxAttempts
}
