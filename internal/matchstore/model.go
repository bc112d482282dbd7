package matchstore

import "time"

// Status da proposta multisig de uma partida
const (
	StatusNone         = "NONE"
	StatusPending      = "PENDING"
	StatusExecuteReady = "EXECUTE_READY"
	StatusExecuted     = "EXECUTED"
	StatusExpired      = "EXPIRED"
	StatusFailed       = "FAILED"
)

// Resultado final da partida
const (
	OutcomePlayer1Wins   = "PLAYER1_WINS"
	OutcomePlayer2Wins   = "PLAYER2_WINS"
	OutcomeTie           = "TIE"
	OutcomeTimeoutRefund = "TIMEOUT_REFUND"
)

// Tipo de proposta derivado do resultado
const (
	KindPayout    = "PAYOUT"
	KindTieRefund = "TIE_REFUND"
)

// Record é o registro durável de uma partida e da proposta de pagamento.
// Campos ponteiro são nulos até serem atribuídos; Version é a coluna de
// concorrência otimista usada em todo CompareAndUpdate.
type Record struct {
	MatchID          string
	Player1          string
	Player2          string
	EntryFeeLamports int64
	VaultAddress     string

	Outcome      string // vazio até a partida ter resultado final
	ProposalKind string // derivado do Outcome, imutável depois de setado

	TxIndex        *int64
	ProposalID     *string
	ProposalStatus string
	Signers        []string

	AttemptCount  int
	LastAttemptAt *time.Time
	ExpiresAt     *time.Time
	ExecutedAt    *time.Time
	ExecutionTxID *string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Final informa se a partida já tem resultado definitivo
func (r *Record) Final() bool { return r.Outcome != "" }

// Terminal informa se a proposta chegou a um estado que não muda mais
// (EXPIRED só reabre com novo índice, decisão de operador)
func (r *Record) Terminal() bool {
	switch r.ProposalStatus {
	case StatusExecuted, StatusExpired, StatusFailed:
		return true
	}
	return false
}

// KindFor deriva o tipo de proposta a partir do resultado
func KindFor(outcome string) string {
	switch outcome {
	case OutcomeTie, OutcomeTimeoutRefund:
		return KindTieRefund
	default:
		return KindPayout
	}
}

// ValidOutcome valida o valor recebido do gancho de conclusão
func ValidOutcome(outcome string) bool {
	switch outcome {
	case OutcomePlayer1Wins, OutcomePlayer2Wins, OutcomeTie, OutcomeTimeoutRefund:
		return true
	}
	return false
}

// Patch descreve uma atualização parcial aplicada via CompareAndUpdate.
// Campo nil = não altera. Signers substitui o conjunto inteiro (o ledger
// é autoritativo e o conjunto só cresce).
type Patch struct {
	Outcome        *string
	ProposalKind   *string
	TxIndex        *int64
	ProposalID     *string
	ProposalStatus *string
	Signers        []string
	AttemptCount   *int
	LastAttemptAt  *time.Time
	ExpiresAt      *time.Time
	ExecutedAt     *time.Time
	ExecutionTxID  *string
}
