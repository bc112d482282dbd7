package dto

type CreateMatchResponse struct {
	MatchID string `json:"match_id"`
	Status  string `json:"proposal_status"`
}

type CompleteMatchResponse struct {
	MatchID string `json:"match_id"`
	Outcome string `json:"outcome"`
	Kind    string `json:"proposal_kind"`
}

// ProposalView é a visão read-only consumida pela UI de assinatura
type ProposalView struct {
	MatchID         string   `json:"match_id"`
	ProposalID      string   `json:"proposal_id,omitempty"`
	Status          string   `json:"status"`
	Signers         []string `json:"signers"`
	NeedsSignatures int      `json:"needs_signatures"`
}
