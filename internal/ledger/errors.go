package ledger

import "errors"

// Taxonomia fechada de erros do ledger. O adapter RPC traduz status HTTP,
// códigos JSON-RPC e mensagens pra cá; o resto do sistema só compara com
// errors.Is e nunca faz pattern-match em string.
var (
	ErrRateLimited       = errors.New("ledger: rate limited")
	ErrTransient         = errors.New("ledger: transient error")
	ErrNotFound          = errors.New("ledger: account not found")
	ErrAlreadyExists     = errors.New("ledger: account already exists")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidSigner     = errors.New("ledger: invalid signer")
	ErrInvalidAddress    = errors.New("ledger: invalid address")
)

// Retryable informa se o erro vale nova tentativa com backoff.
// Só rate-limit e falha transitória; o resto é definitivo pra tentativa atual.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}

// Fatal informa se o erro encerra a tentativa em FAILED (não adianta
// reenviar a mesma instrução sem intervenção).
func Fatal(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidSigner) ||
		errors.Is(err, ErrInvalidAddress)
}
