package matchstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Postgres implementa o Match Record Store em banco Postgres.
// Concorrência otimista via coluna version; unicidade de índice por cofre
// garantida pela constraint UNIQUE(vault_address, tx_index) de vault_tx_claims.
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

var (
	ErrNotFound   = errors.New("match not found")
	ErrConflict   = errors.New("version conflict")
	ErrIndexTaken = errors.New("tx index already claimed for vault")
)

const recordColumns = `
	id, player1, player2, entry_fee_lamports, vault_address,
	COALESCE(outcome,''), COALESCE(proposal_kind,''),
	tx_index, proposal_id, proposal_status, signers,
	attempt_count, last_attempt_at, expires_at, executed_at, execution_tx_id,
	version, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	var signers pq.StringArray
	err := row.Scan(
		&r.MatchID, &r.Player1, &r.Player2, &r.EntryFeeLamports, &r.VaultAddress,
		&r.Outcome, &r.ProposalKind,
		&r.TxIndex, &r.ProposalID, &r.ProposalStatus, &signers,
		&r.AttemptCount, &r.LastAttemptAt, &r.ExpiresAt, &r.ExecutedAt, &r.ExecutionTxID,
		&r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Signers = []string(signers)
	return &r, nil
}

// Get carrega o registro da partida
func (p *Postgres) Get(ctx context.Context, matchID string) (*Record, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM matches WHERE id=$1`, matchID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// CreateIfAbsent insere o registro se ainda não existir e devolve o estado
// atual (o já existente ou o recém-criado). Idempotente por matchId.
func (p *Postgres) CreateIfAbsent(ctx context.Context, seed *Record) (*Record, error) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO matches (id, player1, player2, entry_fee_lamports, vault_address, proposal_status, signers, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,1)
		ON CONFLICT (id) DO NOTHING`,
		seed.MatchID, seed.Player1, seed.Player2, seed.EntryFeeLamports,
		seed.VaultAddress, StatusNone, pq.StringArray{},
	)
	if err != nil {
		return nil, err
	}
	return p.Get(ctx, seed.MatchID)
}

// CompareAndUpdate aplica o patch somente se a versão esperada ainda for a
// corrente; caso contrário retorna ErrConflict e o chamador relê e repete.
func (p *Postgres) CompareAndUpdate(ctx context.Context, matchID string, expectedVersion int64, patch Patch) (*Record, error) {
	sets := []string{"version = version + 1", "updated_at = NOW()"}
	args := []any{matchID, expectedVersion}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Outcome != nil {
		add("outcome", *patch.Outcome)
	}
	if patch.ProposalKind != nil {
		add("proposal_kind", *patch.ProposalKind)
	}
	if patch.TxIndex != nil {
		add("tx_index", *patch.TxIndex)
	}
	if patch.ProposalID != nil {
		add("proposal_id", *patch.ProposalID)
	}
	if patch.ProposalStatus != nil {
		add("proposal_status", *patch.ProposalStatus)
	}
	if patch.Signers != nil {
		add("signers", pq.StringArray(patch.Signers))
	}
	if patch.AttemptCount != nil {
		add("attempt_count", *patch.AttemptCount)
	}
	if patch.LastAttemptAt != nil {
		add("last_attempt_at", *patch.LastAttemptAt)
	}
	if patch.ExpiresAt != nil {
		add("expires_at", *patch.ExpiresAt)
	}
	if patch.ExecutedAt != nil {
		add("executed_at", *patch.ExecutedAt)
	}
	if patch.ExecutionTxID != nil {
		add("execution_tx_id", *patch.ExecutionTxID)
	}

	q := `UPDATE matches SET ` + strings.Join(sets, ", ") +
		` WHERE id=$1 AND version=$2 RETURNING ` + recordColumns

	rec, err := scanRecord(p.db.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		// ou a partida não existe, ou a versão mudou por baixo
		if _, gerr := p.Get(ctx, matchID); gerr != nil {
			return nil, gerr
		}
		return nil, ErrConflict
	}
	return rec, err
}

// ClaimTxIndex reivindica o índice de transação pro cofre de forma atômica.
// A constraint UNIQUE faz a serialização: dois claims concorrentes do mesmo
// (cofre, índice) nunca passam os dois. Re-claim da mesma partida no mesmo
// índice é no-op — retry depois de falha parcial não pode mudar o dono.
func (p *Postgres) ClaimTxIndex(ctx context.Context, vault string, index int64, matchID string) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO vault_tx_claims (vault_address, tx_index, match_id, claimed_at)
		VALUES ($1,$2,$3,NOW())
		ON CONFLICT (vault_address, tx_index) DO NOTHING`, vault, index, matchID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var owner string
	err = p.db.QueryRowContext(ctx, `
		SELECT match_id FROM vault_tx_claims
		WHERE vault_address=$1 AND tx_index=$2`, vault, index).Scan(&owner)
	if err != nil {
		if err == sql.ErrNoRows {
			// claim sumiu entre o insert e a leitura; trata como tomado
			return ErrIndexTaken
		}
		return err
	}
	if owner != matchID {
		return ErrIndexTaken
	}
	return nil
}

// ClaimedTxIndex devolve o índice que a partida já reivindicou pro cofre,
// ou ErrNotFound. É o que permite um retry retomar a criação do mesmo ponto
// em vez de reivindicar um índice novo.
func (p *Postgres) ClaimedTxIndex(ctx context.Context, vault string, matchID string) (int64, error) {
	var index int64
	err := p.db.QueryRowContext(ctx, `
		SELECT tx_index FROM vault_tx_claims
		WHERE vault_address=$1 AND match_id=$2
		ORDER BY tx_index LIMIT 1`, vault, matchID).Scan(&index)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return index, err
}

// ScanMissingProposals lista partidas finais sem proposta, concluídas antes
// do período de carência e abaixo do teto de tentativas
func (p *Postgres) ScanMissingProposals(ctx context.Context, completedBefore time.Time, maxAttempts int) ([]*Record, error) {
	return p.scan(ctx, `
		SELECT `+recordColumns+` FROM matches
		WHERE outcome IS NOT NULL
		  AND proposal_id IS NULL
		  AND proposal_status NOT IN ($1,$2)
		  AND attempt_count < $3
		  AND updated_at < $4
		ORDER BY updated_at`,
		StatusFailed, StatusExpired, maxAttempts, completedBefore)
}

// ScanExpirable lista propostas pendentes com prazo vencido
func (p *Postgres) ScanExpirable(ctx context.Context, now time.Time) ([]*Record, error) {
	return p.scan(ctx, `
		SELECT `+recordColumns+` FROM matches
		WHERE proposal_status IN ($1,$2)
		  AND expires_at IS NOT NULL
		  AND expires_at < $3
		ORDER BY expires_at`,
		StatusPending, StatusExecuteReady, now)
}

// ScanUnexecuted lista partidas com índice atribuído e proposta ainda não
// executada — alvo da validação de consistência e da confirmação de execução
func (p *Postgres) ScanUnexecuted(ctx context.Context) ([]*Record, error) {
	return p.scan(ctx, `
		SELECT `+recordColumns+` FROM matches
		WHERE tx_index IS NOT NULL
		  AND proposal_status NOT IN ($1,$2)
		ORDER BY updated_at`,
		StatusExecuted, StatusFailed)
}

func (p *Postgres) scan(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
