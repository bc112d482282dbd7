package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/guess5/match-payout-poc/internal/matchstore"
	"github.com/guess5/match-payout-poc/internal/payout-service/dto"
	"github.com/guess5/match-payout-poc/pkg/contracts/events"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*matchstore.Record
}

func newFakeStore(recs ...*matchstore.Record) *fakeStore {
	f := &fakeStore{records: make(map[string]*matchstore.Record)}
	for _, r := range recs {
		cp := *r
		f.records[r.MatchID] = &cp
	}
	return f
}

func (f *fakeStore) Get(_ context.Context, matchID string) (*matchstore.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[matchID]
	if !ok {
		return nil, matchstore.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) CreateIfAbsent(_ context.Context, seed *matchstore.Record) (*matchstore.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.records[seed.MatchID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *seed
	cp.ProposalStatus = matchstore.StatusNone
	cp.Version = 1
	f.records[seed.MatchID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeStore) CompareAndUpdate(_ context.Context, matchID string, expectedVersion int64, patch matchstore.Patch) (*matchstore.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[matchID]
	if !ok {
		return nil, matchstore.ErrNotFound
	}
	if rec.Version != expectedVersion {
		return nil, matchstore.ErrConflict
	}
	if patch.Outcome != nil {
		rec.Outcome = *patch.Outcome
	}
	if patch.ProposalKind != nil {
		rec.ProposalKind = *patch.ProposalKind
	}
	rec.Version++
	cp := *rec
	return &cp, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []events.MatchCompleted
}

func (f *fakePublisher) PublishMatchCompleted(_ context.Context, e events.MatchCompleted) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, e)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func newTestServer(store *fakeStore) (*Server, *fakePublisher) {
	publ := &fakePublisher{}
	return NewServer(zap.NewNop(), store, nil, 2, publ), publ
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCreateMatch(t *testing.T) {
	store := newFakeStore()
	srv, _ := newTestServer(store)

	w := doJSON(t, srv.Router(), http.MethodPost, "/matches",
		`{"player1":"p1","player2":"p2","entry_fee_lamports":1000000,"vault_address":"vault"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.CreateMatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.MatchID)
	assert.Equal(t, matchstore.StatusNone, resp.Status)
}

func TestCreateMatchRejectsInvalidPayload(t *testing.T) {
	srv, _ := newTestServer(newFakeStore())
	w := doJSON(t, srv.Router(), http.MethodPost, "/matches", `{"player1":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func openMatch(id string) *matchstore.Record {
	return &matchstore.Record{
		MatchID:          id,
		Player1:          "p1",
		Player2:          "p2",
		EntryFeeLamports: 1_000_000,
		VaultAddress:     "vault",
		ProposalStatus:   matchstore.StatusNone,
		Version:          1,
	}
}

func TestCompleteMatchSetsOutcomeOnce(t *testing.T) {
	store := newFakeStore(openMatch("m1"))
	srv, publ := newTestServer(store)

	w := doJSON(t, srv.Router(), http.MethodPost, "/matches/m1/complete", `{"outcome":"PLAYER1_WINS"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, publ.count())

	rec, err := store.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, matchstore.OutcomePlayer1Wins, rec.Outcome)
	assert.Equal(t, matchstore.KindPayout, rec.ProposalKind)

	// repetição com o mesmo resultado é idempotente e republica o evento
	w = doJSON(t, srv.Router(), http.MethodPost, "/matches/m1/complete", `{"outcome":"PLAYER1_WINS"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, publ.count())

	// resultado divergente é rejeitado: outcome é imutável
	w = doJSON(t, srv.Router(), http.MethodPost, "/matches/m1/complete", `{"outcome":"PLAYER2_WINS"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCompleteMatchDerivesTieRefundKind(t *testing.T) {
	store := newFakeStore(openMatch("m1"))
	srv, _ := newTestServer(store)

	w := doJSON(t, srv.Router(), http.MethodPost, "/matches/m1/complete", `{"outcome":"TIE"}`)
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := store.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, matchstore.KindTieRefund, rec.ProposalKind)
}

func TestCompleteMatchValidation(t *testing.T) {
	srv, _ := newTestServer(newFakeStore(openMatch("m1")))

	w := doJSON(t, srv.Router(), http.MethodPost, "/matches/m1/complete", `{"outcome":"SOMETHING"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv.Router(), http.MethodPost, "/matches/missing/complete", `{"outcome":"TIE"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetProposalView(t *testing.T) {
	rec := openMatch("m1")
	pid := "proposal123"
	rec.ProposalID = &pid
	rec.ProposalStatus = matchstore.StatusPending
	rec.Signers = []string{"signerA"}

	srv, _ := newTestServer(newFakeStore(rec))

	w := doJSON(t, srv.Router(), http.MethodGet, "/matches/m1/proposal", "")
	require.Equal(t, http.StatusOK, w.Code)

	var view dto.ProposalView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "proposal123", view.ProposalID)
	assert.Equal(t, matchstore.StatusPending, view.Status)
	assert.Equal(t, 1, view.NeedsSignatures) // threshold 2, uma assinatura
}

func TestNeedsSignatures(t *testing.T) {
	assert.Equal(t, 2, needsSignatures(2, 0, matchstore.StatusPending))
	assert.Equal(t, 0, needsSignatures(2, 2, matchstore.StatusExecuteReady))
	assert.Equal(t, 0, needsSignatures(2, 3, matchstore.StatusExecuteReady))
	assert.Equal(t, 0, needsSignatures(2, 0, matchstore.StatusExecuted))
}
