package syncer

import (
	"context"
	"errors"
	"sort"

	"github.com/guess5/match-payout-poc/internal/ledger"
	"github.com/guess5/match-payout-poc/internal/matchstore"
	"github.com/guess5/match-payout-poc/internal/proposal/derive"
)

// Diff é o resultado estruturado da validação: o que diverge entre o
// registro local e a verdade do ledger. Quem aplica é o chamador (sweep);
// aqui nada é mutado.
type Diff struct {
	// Inconclusive: registro ainda sem índice, nada a verificar
	Inconclusive bool

	// Identidade (invariante central): proposalId armazenado deve ser
	// exatamente a derivação de (cofre, índice)
	IdentityOK          bool
	CorrectedProposalID string // preenchido quando IdentityOK == false

	// Comparação com a leitura do ledger no mesmo índice
	AccountClosed  bool // conta da transação fechada/ausente
	StatusMismatch bool
	LedgerStatus   string
	SignerMismatch bool
	LedgerSigners  []string
	Executed       bool
	ExecutionTx    string
}

// ValidateIdentity recomputa a derivação e compara com o valor armazenado.
// O índice on-chain é a fonte de verdade; string armazenada divergente é
// corrupção e deve ser sobrescrita com o valor corrigido.
func ValidateIdentity(rec *matchstore.Record, programID string) (Diff, error) {
	if rec.TxIndex == nil {
		return Diff{Inconclusive: true, IdentityOK: true}, nil
	}

	expected, err := derive.ProposalAddress(rec.VaultAddress, *rec.TxIndex, programID)
	if err != nil {
		return Diff{}, err
	}

	d := Diff{IdentityOK: true}
	if rec.ProposalID == nil || *rec.ProposalID != expected {
		d.IdentityOK = false
		d.CorrectedProposalID = expected
	}
	return d, nil
}

// ValidateAgainstLedger faz a validação de identidade e, em cima dela,
// compara status e assinantes com a leitura autoritativa do ledger.
// Execução nunca é inferida aqui: Executed só vem de leitura confirmada.
func ValidateAgainstLedger(ctx context.Context, gw ledger.Gateway, rec *matchstore.Record, programID string) (Diff, error) {
	d, err := ValidateIdentity(rec, programID)
	if err != nil || d.Inconclusive {
		return d, err
	}

	tx, err := gw.ReadTransaction(ctx, rec.VaultAddress, *rec.TxIndex)
	if errors.Is(err, ledger.ErrNotFound) {
		d.AccountClosed = true
		return d, nil
	}
	if err != nil {
		return Diff{}, err
	}

	d.Executed = tx.Executed
	d.ExecutionTx = tx.ExecutionTx
	d.LedgerSigners = append([]string(nil), tx.Approvals...)
	d.SignerMismatch = !sameSet(rec.Signers, tx.Approvals)

	d.LedgerStatus = statusFrom(tx)
	d.StatusMismatch = d.LedgerStatus != rec.ProposalStatus

	return d, nil
}

// statusFrom traduz o estado on-chain pro enum local
func statusFrom(tx *ledger.TxState) string {
	switch {
	case tx.Executed:
		return matchstore.StatusExecuted
	case tx.Threshold > 0 && len(tx.Approvals) >= tx.Threshold:
		return matchstore.StatusExecuteReady
	default:
		return matchstore.StatusPending
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
