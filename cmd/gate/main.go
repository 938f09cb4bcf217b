package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/0gfoundation/0g-x402-gate/internal/config"
	"github.com/0gfoundation/0g-x402-gate/internal/facilitator"
	"github.com/0gfoundation/0g-x402-gate/internal/gate"
	"github.com/0gfoundation/0g-x402-gate/internal/journal"
	"github.com/0gfoundation/0g-x402-gate/internal/metrics"
	"github.com/0gfoundation/0g-x402-gate/internal/money"
	"github.com/0gfoundation/0g-x402-gate/internal/nullifier"
	"github.com/0gfoundation/0g-x402-gate/internal/scheme"
	"github.com/0gfoundation/0g-x402-gate/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("config load failed", zap.Error(err))
	}

	log, err := newLogger(cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// ── Redis (nullifier backend and/or journal) ──────────────────────────────
	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis ping failed", zap.Error(err))
		}
		defer rdb.Close() //nolint:errcheck
	}

	// ── Nullifier store ───────────────────────────────────────────────────────
	store, closeStore, err := buildStore(ctx, cfg, rdb, log)
	if err != nil {
		log.Fatal("nullifier store init failed", zap.Error(err))
	}
	defer closeStore()

	// ── Journal ───────────────────────────────────────────────────────────────
	var j journal.Journal = journal.NewLog(log)
	if cfg.Journal.Enabled {
		rj := journal.NewRedis(rdb)
		journal.ReportPending(ctx, rj, log)
		j = rj
	}

	// ── Facilitator ───────────────────────────────────────────────────────────
	fac := facilitator.NewClient(cfg.Facilitator.URL, time.Duration(cfg.Facilitator.TimeoutSec)*time.Second)
	go probeFacilitator(ctx, fac, cfg.Gate.Network, log)

	// ── Content ───────────────────────────────────────────────────────────────
	var content upstream.Content = upstream.NewStatic("x402 lets any HTTP resource charge per request: the server answers 402 with a price, the client pays and retries with proof.")
	if cfg.Upstream.URL != "" {
		content = upstream.NewClient(cfg.Upstream.URL, cfg.Upstream.APIKey, cfg.Upstream.Model)
	}

	rec := metrics.NewPrometheusRecorder()
	h, err := buildHandler(cfg, fac, store, j, rec, content, log)
	if err != nil {
		log.Fatal("gate init failed", zap.Error(err))
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(h, rec, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("network", cfg.Gate.Network),
			zap.String("price", cfg.Gate.Price),
			zap.String("nullifier_backend", cfg.Nullifier.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("HTTP server error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// buildStore selects the nullifier backend. The returned func releases it.
func buildStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.Logger) (nullifier.Store, func(), error) {
	ttl := time.Duration(cfg.Nullifier.TTLSec) * time.Second
	if ttl > 0 {
		log.Warn("nullifier retention enabled: a nullifier is accepted again once its TTL elapses",
			zap.Duration("ttl", ttl),
		)
	}

	switch cfg.Nullifier.Backend {
	case config.BackendRedis:
		return nullifier.NewRedisStore(rdb, ttl), func() {}, nil
	case config.BackendPostgres:
		if ttl > 0 {
			log.Warn("nullifier TTL is ignored by the postgres backend")
		}
		pg, err := nullifier.OpenPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { pg.Close() }, nil //nolint:errcheck
	default:
		log.Info("nullifier store is in memory; consumed nullifiers are lost on restart")
		return nullifier.NewMemoryStore(nullifier.MemoryStoreConfig{TTL: ttl}), func() {}, nil
	}
}

// buildHandler wires codec, requirements and schemes into the HTTP handler.
func buildHandler(cfg *config.Config, fac *facilitator.Client, store nullifier.Store, j journal.Journal, rec metrics.Recorder, content upstream.Content, log *zap.Logger) (*gate.Handler, error) {
	assets := make([]money.Asset, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		assets = append(assets, money.Asset{
			Network:  a.Network,
			Address:  common.HexToAddress(a.Address),
			Name:     a.Name,
			Version:  a.Version,
			Decimals: a.Decimals,
		})
	}
	codec, err := money.NewCodec(assets...)
	if err != nil {
		return nil, err
	}

	payTo := common.HexToAddress(cfg.Gate.PayTo)
	paid, err := scheme.NewRequirement(codec, cfg.Gate.ResourceURL, cfg.Gate.Network, payTo, cfg.Gate.Price, scheme.KindExact)
	if err != nil {
		return nil, err
	}
	paid.Description = cfg.Gate.Description
	paid.MaxTimeout = time.Duration(cfg.Gate.MaxTimeoutSec) * time.Second

	private, err := scheme.NewRequirement(codec, privateResource(cfg.Gate.ResourceURL), cfg.Gate.Network, payTo, cfg.Gate.Price, scheme.KindCommitment)
	if err != nil {
		return nil, err
	}

	reg, err := scheme.NewRegistry(
		scheme.NewExact(fac, codec, scheme.ExactConfig{
			Timeout:  time.Duration(cfg.Facilitator.TimeoutSec) * time.Second,
			Precheck: cfg.Facilitator.Precheck,
		}, log),
		scheme.NewRedemption(store, log),
	)
	if err != nil {
		return nil, err
	}
	log.Info("payment schemes registered", zap.Any("schemes", reg.Kinds()))

	g := gate.New(reg, j, rec, log)
	return gate.NewHandler(g, paid, private, content, nil, log), nil
}

// privateResource derives the private endpoint's id from the paid one.
func privateResource(paidURL string) string {
	if base, ok := strings.CutSuffix(paidURL, "/premium"); ok {
		return base + "/private-premium"
	}
	return paidURL + "#private"
}

func newRouter(h *gate.Handler, rec *metrics.PrometheusRecorder, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(rec.Handler()))

	api := r.Group("/api", gate.RequestID(), gate.AccessLog(log))
	h.Register(api)
	return r
}

// probeFacilitator logs whether the facilitator advertises the gate network.
// The gate starts regardless; verification fails later if it is unreachable.
func probeFacilitator(ctx context.Context, fac *facilitator.Client, network string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	sup, err := fac.Supported(ctx)
	if err != nil {
		log.Warn("facilitator /supported unavailable", zap.String("url", fac.BaseURL()), zap.Error(err))
		return
	}
	for _, k := range sup.Kinds {
		if k.Scheme == string(scheme.KindExact) && k.Network == network {
			log.Info("facilitator supports gate network", zap.String("network", network))
			return
		}
	}
	log.Warn("facilitator does not advertise exact scheme for gate network", zap.String("network", network))
}
