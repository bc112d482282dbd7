package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/guess5/match-payout-poc/internal/matchstore"
	phttp "github.com/guess5/match-payout-poc/internal/payout-service/http"
	"github.com/guess5/match-payout-poc/internal/payout-service/producer"
	sharedcache "github.com/guess5/match-payout-poc/internal/shared/cache"
	"github.com/guess5/match-payout-poc/internal/shared/config"
	"github.com/guess5/match-payout-poc/internal/shared/db"
	"github.com/guess5/match-payout-poc/internal/shared/kafka"
	"github.com/guess5/match-payout-poc/internal/shared/logger"
)

func main() {
	cfg := config.Load()

	// Inicializa logger estruturado
	log, err := logger.New("payout-service", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", "payout-service"), zap.String("env", cfg.Env))

	// Conexão com Postgres para o registro das partidas/propostas
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	// Redis para o cache da visão de proposta
	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// Producer Kafka do evento match_completed
	writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMatchCompleted)
	defer writer.Close()
	publ := producer.NewKafkaPublisher(writer)

	// Instancia store e servidor HTTP
	store := matchstore.NewPostgres(pg)
	api := phttp.NewServer(log, store, redisClient, cfg.Threshold, publ)

	// Servidor HTTP público (API de partidas/propostas)
	apiSrv := &http.Server{
		Addr:    ":" + cfg.HTTPPort, // ex: 8084
		Handler: api.Router(),
	}

	// Servidor de métricas e health check
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.PingContext(ctx); err != nil {
			http.Error(w, "pg", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux} // ex: 9100

	// Inicia servidor de métricas/health em goroutine separada
	go func() {
		log.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics srv", zap.Error(err))
		}
	}()

	// Inicia servidor principal da API
	log.Info("api listening", zap.String("addr", apiSrv.Addr))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api srv", zap.Error(err))
	}
}
