package dto

// CreateMatchRequest provisiona o registro da partida antes do jogo começar
type CreateMatchRequest struct {
	Player1          string `json:"player1"`
	Player2          string `json:"player2"`
	EntryFeeLamports int64  `json:"entry_fee_lamports"`
	VaultAddress     string `json:"vault_address"`
}

// CompleteMatchRequest marca o resultado final da partida
type CompleteMatchRequest struct {
	Outcome string `json:"outcome"` // PLAYER1_WINS | PLAYER2_WINS | TIE | TIMEOUT_REFUND
}
