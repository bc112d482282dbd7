package events

// MatchCompleted é publicado quando uma partida atinge resultado final.
// Entrega at-least-once: o consumidor precisa tolerar duplicatas.
type MatchCompleted struct {
	MatchID      string `json:"match_id"`
	Outcome      string `json:"outcome"` // PLAYER1_WINS | PLAYER2_WINS | TIE | TIMEOUT_REFUND
	VaultAddress string `json:"vault_address"`
	TsUnixMs     int64  `json:"ts_unix_ms"`
}
