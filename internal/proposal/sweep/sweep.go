package sweep

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/guess5/match-payout-poc/internal/ledger"
	"github.com/guess5/match-payout-poc/internal/matchstore"
	"github.com/guess5/match-payout-poc/internal/proposal/orchestrator"
	"github.com/guess5/match-payout-poc/internal/proposal/syncer"
)

// Store é o subconjunto do match store que o sweep usa
type Store interface {
	Get(ctx context.Context, matchID string) (*matchstore.Record, error)
	CompareAndUpdate(ctx context.Context, matchID string, expectedVersion int64, patch matchstore.Patch) (*matchstore.Record, error)
	ScanMissingProposals(ctx context.Context, completedBefore time.Time, maxAttempts int) ([]*matchstore.Record, error)
	ScanExpirable(ctx context.Context, now time.Time) ([]*matchstore.Record, error)
	ScanUnexecuted(ctx context.Context) ([]*matchstore.Record, error)
}

// Ensurer é o orquestrador de criação, visto pelo sweep
type Ensurer interface {
	EnsureProposal(ctx context.Context, matchID string) (*matchstore.Record, error)
}

// Unresolved identifica uma partida que o sweep não conseguiu resolver
// nesta passada, com a fase e o motivo
type Unresolved struct {
	MatchID string `json:"match_id"`
	Phase   string `json:"phase"` // create | expire | sync
	Reason  string `json:"reason"`
}

// Report agrega o resultado de uma passada
type Report struct {
	Created    int
	Expired    int
	Corrected  int
	Executed   int
	Unresolved []Unresolved
}

// Sweeper é a varredura de reconciliação: cria propostas faltantes, expira
// vencidas, corrige identidade divergente e confirma execuções lidas do
// ledger. Falha em uma partida nunca aborta a passada — isola, registra e
// segue pras outras.
type Sweeper struct {
	Log    *zap.Logger
	Store  Store
	Ledger ledger.Gateway
	Orch   Ensurer

	ProgramID   string
	Grace       time.Duration // carência pra não atropelar o gancho de conclusão
	MaxAttempts int

	OnCreated   func() // métricas (counter++)
	OnExpired   func()
	OnCorrected func()
	OnExecuted  func()
	OnError     func(string) // métricas por fase
}

// Run executa as quatro sub-varreduras, independentes e sem ordem exigida.
// Cancelamento do contexto é checado entre partidas (checkpoint cooperativo).
func (s *Sweeper) Run(ctx context.Context, now time.Time) Report {
	var rep Report
	s.sweepMissing(ctx, now, &rep)
	s.sweepExpired(ctx, now, &rep)
	s.sweepSync(ctx, now, &rep)
	return rep
}

// sweepMissing: partidas finais sem proposta, fora da carência e abaixo do
// teto de tentativas, passam pelo orquestrador
func (s *Sweeper) sweepMissing(ctx context.Context, now time.Time, rep *Report) {
	recs, err := s.Store.ScanMissingProposals(ctx, now.Add(-s.Grace), s.MaxAttempts)
	if err != nil {
		s.fail(rep, "", "create", err)
		return
	}
	for _, rec := range recs {
		if ctx.Err() != nil {
			return
		}
		_, err := s.Orch.EnsureProposal(ctx, rec.MatchID)
		switch {
		case err == nil:
			rep.Created++
			if s.OnCreated != nil {
				s.OnCreated()
			}
		case errors.Is(err, orchestrator.ErrCreationInFlight):
			// outro gatilho está criando agora; não é falha
		default:
			s.fail(rep, rec.MatchID, "create", err)
		}
	}
}

// sweepExpired: propostas PENDING/EXECUTE_READY com prazo vencido viram
// EXPIRED; re-proposta sob novo índice é decisão de operador via relatório
func (s *Sweeper) sweepExpired(ctx context.Context, now time.Time, rep *Report) {
	recs, err := s.Store.ScanExpirable(ctx, now)
	if err != nil {
		s.fail(rep, "", "expire", err)
		return
	}
	expired := matchstore.StatusExpired
	for _, rec := range recs {
		if ctx.Err() != nil {
			return
		}
		_, err := s.Store.CompareAndUpdate(ctx, rec.MatchID, rec.Version, matchstore.Patch{
			ProposalStatus: &expired,
		})
		if err != nil {
			// colisão de versão: outro caminho mexeu no registro, fica pra próxima
			s.fail(rep, rec.MatchID, "expire", err)
			continue
		}
		rep.Expired++
		if s.OnExpired != nil {
			s.OnExpired()
		}
		s.Log.Warn("proposal expired",
			zap.String("matchId", rec.MatchID),
			zap.String("vault", rec.VaultAddress),
			zap.Stringp("proposalId", rec.ProposalID),
		)
	}
}

// sweepSync: partidas com índice atribuído passam pelo validador; aplica
// correção de identidade, reconcilia status/assinantes e confirma execução
func (s *Sweeper) sweepSync(ctx context.Context, now time.Time, rep *Report) {
	recs, err := s.Store.ScanUnexecuted(ctx)
	if err != nil {
		s.fail(rep, "", "sync", err)
		return
	}
	for _, rec := range recs {
		if ctx.Err() != nil {
			return
		}
		if err := s.syncOne(ctx, rec, now, rep); err != nil {
			s.fail(rep, rec.MatchID, "sync", err)
		}
	}
}

func (s *Sweeper) syncOne(ctx context.Context, rec *matchstore.Record, now time.Time, rep *Report) error {
	diff, err := syncer.ValidateAgainstLedger(ctx, s.Ledger, rec, s.ProgramID)
	if err != nil {
		return err
	}
	if diff.Inconclusive {
		return nil
	}

	// identidade primeiro: o índice on-chain manda, a string armazenada não
	if !diff.IdentityOK {
		corrected := diff.CorrectedProposalID
		updated, err := s.Store.CompareAndUpdate(ctx, rec.MatchID, rec.Version, matchstore.Patch{
			ProposalID: &corrected,
		})
		if err != nil {
			return err
		}
		rec = updated
		rep.Corrected++
		if s.OnCorrected != nil {
			s.OnCorrected()
		}
		s.Log.Warn("proposal id corrected",
			zap.String("matchId", rec.MatchID),
			zap.Int64p("txIndex", rec.TxIndex),
			zap.String("corrected", corrected),
		)
	}

	if diff.AccountClosed {
		// conta da transação fechada: o comportamento herdado trata como
		// prova de execução; um fechamento sem transferência seria
		// indistinguível de sucesso só por esse sinal
		sig, err := s.Ledger.LastSignature(ctx, deref(rec.ProposalID))
		if err != nil {
			s.Log.Warn("last signature lookup", zap.String("matchId", rec.MatchID), zap.Error(err))
			sig = ""
		}
		return s.markExecuted(ctx, rec, now, sig, rep)
	}

	if diff.Executed {
		return s.markExecuted(ctx, rec, now, diff.ExecutionTx, rep)
	}

	// status/assinantes só são reconciliados em registros ainda ativos;
	// EXPIRED não volta pra PENDING por leitura de aprovação atrasada
	if rec.ProposalStatus != matchstore.StatusPending && rec.ProposalStatus != matchstore.StatusExecuteReady {
		return nil
	}
	if diff.StatusMismatch || diff.SignerMismatch {
		status := diff.LedgerStatus
		_, err := s.Store.CompareAndUpdate(ctx, rec.MatchID, rec.Version, matchstore.Patch{
			ProposalStatus: &status,
			Signers:        diff.LedgerSigners,
		})
		if err != nil {
			return err
		}
		rep.Corrected++
		if s.OnCorrected != nil {
			s.OnCorrected()
		}
	}
	return nil
}

// markExecuted persiste a execução confirmada por leitura do ledger.
// executedAt só é gravado aqui, nunca inferido de threshold atingido.
func (s *Sweeper) markExecuted(ctx context.Context, rec *matchstore.Record, now time.Time, sig string, rep *Report) error {
	executed := matchstore.StatusExecuted
	_, err := s.Store.CompareAndUpdate(ctx, rec.MatchID, rec.Version, matchstore.Patch{
		ProposalStatus: &executed,
		ExecutedAt:     &now,
		ExecutionTxID:  &sig,
	})
	if err != nil {
		return err
	}
	rep.Executed++
	if s.OnExecuted != nil {
		s.OnExecuted()
	}
	s.Log.Info("proposal execution confirmed",
		zap.String("matchId", rec.MatchID),
		zap.Stringp("proposalId", rec.ProposalID),
		zap.String("executionTx", sig),
	)
	return nil
}

func (s *Sweeper) fail(rep *Report, matchID, phase string, err error) {
	rep.Unresolved = append(rep.Unresolved, Unresolved{
		MatchID: matchID,
		Phase:   phase,
		Reason:  err.Error(),
	})
	if s.OnError != nil {
		s.OnError(phase)
	}
	s.Log.Error("sweep item failed",
		zap.String("matchId", matchID),
		zap.String("phase", phase),
		zap.Error(err),
	)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
