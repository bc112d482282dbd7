package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/guess5/match-payout-poc/internal/ledger"
	"github.com/guess5/match-payout-poc/internal/ledger/rpc"
	"github.com/guess5/match-payout-poc/internal/matchstore"
	"github.com/guess5/match-payout-poc/internal/proposal/lock"
	"github.com/guess5/match-payout-poc/internal/proposal/orchestrator"
	"github.com/guess5/match-payout-poc/internal/shared/backoff"
	sharedcache "github.com/guess5/match-payout-poc/internal/shared/cache"
	"github.com/guess5/match-payout-poc/internal/shared/config"
	"github.com/guess5/match-payout-poc/internal/shared/db"
	"github.com/guess5/match-payout-poc/internal/shared/kafka"
	"github.com/guess5/match-payout-poc/internal/shared/logger"
	"github.com/guess5/match-payout-poc/internal/shared/metrics"
	ev "github.com/guess5/match-payout-poc/pkg/contracts/events"
)

func main() {
	cfg := config.Load()
	log, err := logger.New("proposal-worker", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Postgres: registro durável de partidas e propostas
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	// Redis: lock de criação por partida
	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// Kafka consumer: eventos match_completed (entrega at-least-once)
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicMatchCompleted, "proposal-worker")
	defer reader.Close()

	// Kafka producer: proposal_created e DLQ de mensagens envenenadas
	createdWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicProposalCreated)
	defer createdWriter.Close()

	var dlqWriter *kafkago.Writer
	if cfg.TopicMatchCompletedDLQ != "" {
		dlqWriter = kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMatchCompletedDLQ)
		defer dlqWriter.Close()
	}

	// Métricas Prometheus
	created := prometheus.NewCounter(prometheus.CounterOpts{Name: "proposal_created_total", Help: "propostas criadas no ledger"})
	converged := prometheus.NewCounter(prometheus.CounterOpts{Name: "proposal_already_exists_total", Help: "propostas convergidas via AlreadyExists"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "proposal_failures_total", Help: "falhas de criação por causa"}, []string{"cause"})
	prometheus.MustRegister(created, converged, failures)

	// Gateway do ledger com backoff em toda chamada
	gw := ledger.WithBackoff(
		rpc.NewClient(cfg.LedgerRPCURL, cfg.ProgramID, cfg.LedgerTimeout),
		backoff.Options{MaxAttempts: cfg.MaxRPCAttempts, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second},
	)

	store := matchstore.NewPostgres(pg)
	orch := &orchestrator.Orchestrator{
		Log:             log,
		Store:           store,
		Ledger:          gw,
		Locks:           lock.NewRedisLock(redisClient, time.Minute),
		ProgramID:       cfg.ProgramID,
		FeeAddress:      cfg.FeeAddress,
		Signer:          cfg.SignerAddress,
		ExpiryWindow:    cfg.ProposalExpiry,
		MaxAttempts:     cfg.MaxAttempts,
		OnCreated:       created.Inc,
		OnAlreadyExists: converged.Inc,
		OnFailed: func(cause string) {
			failures.WithLabelValues(cause).Inc()
		},
	}

	// Servidor de métricas Prometheus e healthcheck
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, pg.PingContext)
	defer metricsSrv.Close()
	log.Info("metrics/health", zap.String("addr", metricsSrv.Addr))

	log.Info("proposal-worker started",
		zap.String("consume", cfg.TopicMatchCompleted),
		zap.String("publish", cfg.TopicProposalCreated),
	)

	ctx := context.Background()

	// Loop principal: consome match_completed, garante a proposta e publica
	for {
		key, value, err := kafka.ReadNext(ctx, reader)
		if err != nil {
			log.Warn("kafka read", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		var completed ev.MatchCompleted
		if jerr := json.Unmarshal(value, &completed); jerr != nil {
			log.Error("unmarshal match_completed", zap.Error(jerr))
			if dlqWriter != nil {
				_ = kafka.WriteJSON(ctx, dlqWriter, string(key), value)
			}
			continue
		}

		if err := processOne(ctx, log, orch, createdWriter, &completed); err != nil {
			log.Error("process match", zap.String("matchId", completed.MatchID), zap.Error(err))
			// Backoff simples para evitar flood em caso de erro
			time.Sleep(500 * time.Millisecond)
		}
	}
}

// processOne garante a proposta da partida concluída e publica o resultado.
// Duplicata de evento cai no short-circuit do orquestrador; criação já em
// voo por outro gatilho não é erro (o sweep reconcilia depois).
func processOne(
	ctx context.Context,
	log *zap.Logger,
	orch *orchestrator.Orchestrator,
	createdWriter *kafkago.Writer,
	completed *ev.MatchCompleted,
) error {
	rec, err := orch.EnsureProposal(ctx, completed.MatchID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrCreationInFlight) {
			log.Info("creation in flight elsewhere", zap.String("matchId", completed.MatchID))
			return nil
		}
		return err
	}
	if rec.ProposalID == nil || rec.TxIndex == nil {
		return nil // nada novo a publicar
	}

	evc := ev.ProposalCreated{
		MatchID:      rec.MatchID,
		VaultAddress: rec.VaultAddress,
		TxIndex:      *rec.TxIndex,
		ProposalID:   *rec.ProposalID,
		Status:       rec.ProposalStatus,
		TsUnixMs:     time.Now().UnixMilli(),
	}
	return kafka.WriteJSON(ctx, createdWriter, rec.MatchID, mustJSON(evc))
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
