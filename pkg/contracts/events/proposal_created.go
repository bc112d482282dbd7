package events

// ProposalCreated é publicado após a proposta multisig ser criada (ou
// reconciliada como já existente) no ledger.
type ProposalCreated struct {
	MatchID      string `json:"match_id"`
	VaultAddress string `json:"vault_address"`
	TxIndex      int64  `json:"tx_index"`
	ProposalID   string `json:"proposal_id"`
	Status       string `json:"status"`
	TsUnixMs     int64  `json:"ts_unix_ms"`
}
