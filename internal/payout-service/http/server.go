package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/guess5/match-payout-poc/internal/matchstore"
	"github.com/guess5/match-payout-poc/internal/payout-service/dto"
	"github.com/guess5/match-payout-poc/pkg/contracts/events"
)

// Store é o subconjunto do match store usado pela API
type Store interface {
	Get(ctx context.Context, matchID string) (*matchstore.Record, error)
	CreateIfAbsent(ctx context.Context, seed *matchstore.Record) (*matchstore.Record, error)
	CompareAndUpdate(ctx context.Context, matchID string, expectedVersion int64, patch matchstore.Patch) (*matchstore.Record, error)
}

const viewCacheTTL = 5 * time.Second

type Server struct {
	log       *zap.Logger
	store     Store
	rdb       *redis.Client
	threshold int
	publ      interface {
		PublishMatchCompleted(context.Context, events.MatchCompleted) error
	}
}

func NewServer(log *zap.Logger, s Store, rdb *redis.Client, threshold int, p interface {
	PublishMatchCompleted(context.Context, events.MatchCompleted) error
}) *Server {
	return &Server{log: log, store: s, rdb: rdb, threshold: threshold, publ: p}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/matches", s.createMatch) // POST
	mux.HandleFunc("/matches/", s.matchRoute) // POST /matches/{id}/complete | GET /matches/{id}/proposal
	return mux
}

func (s *Server) createMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.CreateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Player1 == "" || req.Player2 == "" || req.VaultAddress == "" || req.EntryFeeLamports <= 0 {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	rec, err := s.store.CreateIfAbsent(r.Context(), &matchstore.Record{
		MatchID:          uuid.NewString(),
		Player1:          req.Player1,
		Player2:          req.Player2,
		EntryFeeLamports: req.EntryFeeLamports,
		VaultAddress:     req.VaultAddress,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, dto.CreateMatchResponse{MatchID: rec.MatchID, Status: rec.ProposalStatus})
}

func (s *Server) matchRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/matches/")
	switch {
	case strings.HasSuffix(rest, "/complete"):
		s.completeMatch(w, r, strings.TrimSuffix(rest, "/complete"))
	case strings.HasSuffix(rest, "/proposal"):
		s.getProposalView(w, r, strings.TrimSuffix(rest, "/proposal"))
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// completeMatch grava o resultado final (uma vez só) e publica o evento
// match_completed que dispara a criação da proposta no worker.
// Repetição com o mesmo resultado é idempotente; resultado diferente é 409.
func (s *Server) completeMatch(w http.ResponseWriter, r *http.Request, matchID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if matchID == "" {
		http.Error(w, "matchId required", http.StatusBadRequest)
		return
	}
	var req dto.CompleteMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if !matchstore.ValidOutcome(req.Outcome) {
		http.Error(w, "invalid outcome", http.StatusBadRequest)
		return
	}

	rec, err := s.store.Get(r.Context(), matchID)
	if errors.Is(err, matchstore.ErrNotFound) {
		http.Error(w, "match not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if rec.Final() {
		// resultado é imutável depois de setado
		if rec.Outcome != req.Outcome {
			http.Error(w, "outcome already set to "+rec.Outcome, http.StatusConflict)
			return
		}
	} else {
		kind := matchstore.KindFor(req.Outcome)
		rec, err = s.store.CompareAndUpdate(r.Context(), matchID, rec.Version, matchstore.Patch{
			Outcome:      &req.Outcome,
			ProposalKind: &kind,
		})
		if errors.Is(err, matchstore.ErrConflict) {
			http.Error(w, "concurrent update, retry", http.StatusConflict)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.invalidateView(r.Context(), matchID)
	}

	// at-least-once: o worker tolera duplicatas via short-circuit do orquestrador
	if err := s.publ.PublishMatchCompleted(r.Context(), events.MatchCompleted{
		MatchID:      rec.MatchID,
		Outcome:      rec.Outcome,
		VaultAddress: rec.VaultAddress,
		TsUnixMs:     time.Now().UnixMilli(),
	}); err != nil {
		s.log.Error("publish match_completed", zap.String("matchId", matchID), zap.Error(err))
		// o sweep de recuperação cobre o caso do evento perdido
	}

	writeJSON(w, dto.CompleteMatchResponse{
		MatchID: rec.MatchID,
		Outcome: rec.Outcome,
		Kind:    rec.ProposalKind,
	})
}

// getProposalView é a visão read-only pra UI de assinatura, com cache curto
func (s *Server) getProposalView(w http.ResponseWriter, r *http.Request, matchID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if matchID == "" {
		http.Error(w, "matchId required", http.StatusBadRequest)
		return
	}

	if s.rdb != nil {
		if cached, err := s.rdb.Get(r.Context(), viewKey(matchID)).Bytes(); err == nil {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(cached)
			return
		}
	}

	rec, err := s.store.Get(r.Context(), matchID)
	if errors.Is(err, matchstore.ErrNotFound) {
		http.Error(w, "match not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	view := dto.ProposalView{
		MatchID:         rec.MatchID,
		Status:          rec.ProposalStatus,
		Signers:         rec.Signers,
		NeedsSignatures: needsSignatures(s.threshold, len(rec.Signers), rec.ProposalStatus),
	}
	if rec.ProposalID != nil {
		view.ProposalID = *rec.ProposalID
	}

	body, _ := json.Marshal(view)
	if s.rdb != nil {
		_ = s.rdb.Set(r.Context(), viewKey(matchID), body, viewCacheTTL).Err()
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) invalidateView(ctx context.Context, matchID string) {
	if s.rdb != nil {
		_ = s.rdb.Del(ctx, viewKey(matchID)).Err()
	}
}

func viewKey(matchID string) string { return "proposal_view:" + matchID }

func needsSignatures(threshold, signers int, status string) int {
	if status == matchstore.StatusExecuted {
		return 0
	}
	n := threshold - signers
	if n < 0 {
		n = 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
