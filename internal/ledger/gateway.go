package ledger

import "context"

// AccountState é a leitura crua de uma conta no ledger
type AccountState struct {
	Address  string
	Lamports int64
	Owner    string
	Data     []byte
}

// TxState é o estado autoritativo de uma transação do cofre (vault)
// no índice informado. Approvals cresce de forma monotônica até a execução.
type TxState struct {
	VaultAddress string
	Index        int64
	ProposalID   string
	Approvals    []string
	Threshold    int
	Executed     bool
	ExecutionTx  string // assinatura da transação de execução, quando confirmada
}

// ProposalSubmission descreve a instrução de criação de proposta
// (payout ao vencedor ou refund de empate), já com valores calculados.
type ProposalSubmission struct {
	VaultAddress string
	Index        int64
	ProposalID   string
	Kind         string   // PAYOUT | TIE_REFUND
	Recipients   []string // vencedor, ou os dois jogadores no refund
	Amounts      []int64  // lamports por destinatário, mesma ordem
	FeeAddress   string
	FeeAmount    int64
	Signer       string // assinante do backend que co-assina a criação
	Memo         string
}

// Gateway encapsula o RPC do ledger. Toda chamada pode falhar com os
// erros da taxonomia fechada em errors.go; o adapter é o único lugar
// onde erro externo vira erro interno.
type Gateway interface {
	// ReadAccount lê o estado de uma conta; ErrNotFound se não existir.
	ReadAccount(ctx context.Context, address string) (*AccountState, error)

	// ReadTransaction lê a transação do cofre no índice dado.
	// ErrNotFound quando a conta da transação está fechada/ausente.
	ReadTransaction(ctx context.Context, vault string, index int64) (*TxState, error)

	// GetLatestIndex retorna o próximo índice de transação disponível do cofre.
	GetLatestIndex(ctx context.Context, vault string) (int64, error)

	// SubmitProposal submete a instrução de criação e retorna a assinatura.
	SubmitProposal(ctx context.Context, sub ProposalSubmission) (string, error)

	// LastSignature retorna a assinatura mais recente que tocou a conta.
	// Usada pra registrar a execução observada de uma conta já fechada.
	LastSignature(ctx context.Context, address string) (string, error)
}
