package topics

const (
	// Partidas
	MatchCompleted = "match_completed"

	// Propostas de pagamento
	ProposalCreated = "proposal_created"

	// DLQs
	MatchCompletedDLQ = "match_completed_dlq"
	SweepUnresolved   = "sweep_unresolved"
)
