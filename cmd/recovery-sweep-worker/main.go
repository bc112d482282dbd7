package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/guess5/match-payout-poc/internal/ledger"
	"github.com/guess5/match-payout-poc/internal/ledger/rpc"
	"github.com/guess5/match-payout-poc/internal/matchstore"
	"github.com/guess5/match-payout-poc/internal/proposal/lock"
	"github.com/guess5/match-payout-poc/internal/proposal/orchestrator"
	"github.com/guess5/match-payout-poc/internal/proposal/sweep"
	"github.com/guess5/match-payout-poc/internal/shared/backoff"
	sharedcache "github.com/guess5/match-payout-poc/internal/shared/cache"
	"github.com/guess5/match-payout-poc/internal/shared/config"
	"github.com/guess5/match-payout-poc/internal/shared/db"
	"github.com/guess5/match-payout-poc/internal/shared/kafka"
	"github.com/guess5/match-payout-poc/internal/shared/logger"
	"github.com/guess5/match-payout-poc/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New("recovery-sweep-worker", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// DLQ de partidas não resolvidas pela varredura (ferramenta de operador)
	var dlqWriter *kafkago.Writer
	if cfg.TopicSweepUnresolved != "" {
		dlqWriter = kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicSweepUnresolved)
		defer dlqWriter.Close()
	}

	// Métricas Prometheus por fase da varredura
	created := prometheus.NewCounter(prometheus.CounterOpts{Name: "sweep_proposals_created_total", Help: "propostas criadas pela varredura"})
	expired := prometheus.NewCounter(prometheus.CounterOpts{Name: "sweep_proposals_expired_total", Help: "propostas expiradas"})
	corrected := prometheus.NewCounter(prometheus.CounterOpts{Name: "sweep_records_corrected_total", Help: "registros corrigidos (id/status/assinantes)"})
	executed := prometheus.NewCounter(prometheus.CounterOpts{Name: "sweep_executions_confirmed_total", Help: "execuções confirmadas por leitura do ledger"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sweep_errors_total", Help: "erros por fase"}, []string{"phase"})
	prometheus.MustRegister(created, expired, corrected, executed, errorsBy)

	gw := ledger.WithBackoff(
		rpc.NewClient(cfg.LedgerRPCURL, cfg.ProgramID, cfg.LedgerTimeout),
		backoff.Options{MaxAttempts: cfg.MaxRPCAttempts, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second},
	)

	store := matchstore.NewPostgres(pg)
	orch := &orchestrator.Orchestrator{
		Log:          log,
		Store:        store,
		Ledger:       gw,
		Locks:        lock.NewRedisLock(redisClient, time.Minute),
		ProgramID:    cfg.ProgramID,
		FeeAddress:   cfg.FeeAddress,
		Signer:       cfg.SignerAddress,
		ExpiryWindow: cfg.ProposalExpiry,
		MaxAttempts:  cfg.MaxAttempts,
	}

	sw := &sweep.Sweeper{
		Log:         log,
		Store:       store,
		Ledger:      gw,
		Orch:        orch,
		ProgramID:   cfg.ProgramID,
		Grace:       cfg.SweepGrace,
		MaxAttempts: cfg.MaxAttempts,
		OnCreated:   created.Inc,
		OnExpired:   expired.Inc,
		OnCorrected: corrected.Inc,
		OnExecuted:  executed.Inc,
		OnError: func(phase string) {
			errorsBy.WithLabelValues(phase).Inc()
		},
	}

	// Servidor de métricas Prometheus e healthcheck
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, pg.PingContext)
	defer metricsSrv.Close()
	log.Info("metrics/health", zap.String("addr", metricsSrv.Addr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("recovery-sweep-worker started",
		zap.Duration("interval", cfg.SweepInterval),
		zap.Duration("grace", cfg.SweepGrace),
	)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	// Loop principal: uma varredura por tick, cancelável entre partidas
	for {
		rep := sw.Run(ctx, time.Now().UTC())
		log.Info("sweep done",
			zap.Int("created", rep.Created),
			zap.Int("expired", rep.Expired),
			zap.Int("corrected", rep.Corrected),
			zap.Int("executed", rep.Executed),
			zap.Int("unresolved", len(rep.Unresolved)),
		)
		if dlqWriter != nil {
			for _, u := range rep.Unresolved {
				b, _ := json.Marshal(u)
				_ = kafka.WriteJSON(ctx, dlqWriter, u.MatchID, b)
			}
		}

		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
		}
	}
}
