package main

import (
	"flag"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sourav-m/portfolio-api/internal/admission"
	"github.com/sourav-m/portfolio-api/internal/analytics"
	"github.com/sourav-m/portfolio-api/internal/config"
	"github.com/sourav-m/portfolio-api/internal/httpapi"
	"github.com/sourav-m/portfolio-api/internal/log"
	"github.com/sourav-m/portfolio-api/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults apply when empty)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		log.Logger().Fatal("invalid default config", zap.Error(err))
	}

	zapCfg := zap.NewProductionConfig()
	if level, err := zap.ParseAtomicLevel(cfg.Server.LogLevel); err == nil {
		zapCfg.Level = level
	}
	if logger, err := zapCfg.Build(); err == nil {
		log.Set(logger)
		defer logger.Sync()
	}

	db, err := store.OpenSQLite(cfg.Storage.SQLitePath)
	if err != nil {
		log.Logger().Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	limits := make(map[string]admission.Limit, len(cfg.Limiters))
	var registryOpts []admission.RegistryOption
	for name, l := range cfg.Limiters {
		limits[name] = admission.Limit{
			Capacity:     l.Capacity,
			RefillTokens: l.RefillTokens,
			RefillPeriod: l.RefillPeriod.Std(),
		}
		if l.IdleHorizon.Std() > 0 {
			registryOpts = append(registryOpts, admission.WithIdleHorizon(name, l.IdleHorizon.Std()))
		}
	}
	registry := admission.NewRegistry(limits, registryOpts...)

	// The durable store always answers volume queries; redis, when
	// configured, answers them faster and feeds the same window.
	var history admission.SubmissionHistory = db
	var recorderOpt []admission.ServiceOption
	if cfg.Storage.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		recency := store.NewRedisHistory(rdb, cfg.Abuse.Window.Std(), nil)
		history = recency
		recorderOpt = append(recorderOpt, admission.WithSubmissionRecorder(recency))
		log.Logger().Info("using redis submission recency index",
			zap.String("addr", cfg.Storage.RedisAddr))
	}

	detector := admission.NewAbuseDetector(
		cfg.Abuse.BannedPhrases,
		cfg.Abuse.Threshold,
		cfg.Abuse.Window.Std(),
		history,
		nil,
	)

	var cacheOpts []admission.CacheOption
	if cfg.Cache.LoadTimeout.Std() > 0 {
		cacheOpts = append(cacheOpts, admission.WithLoadTimeout(cfg.Cache.LoadTimeout.Std()))
	}
	if cfg.Cache.MaxAge.Std() > 0 {
		cacheOpts = append(cacheOpts, admission.WithMaxAge(cfg.Cache.MaxAge.Std()))
	}
	cache := admission.NewCache(cacheOpts...)

	collector := analytics.NewCollector()
	svc := admission.NewService(registry, detector, cache, db,
		append(recorderOpt, admission.WithTracker(collector))...)
	defer svc.Close()

	api := httpapi.NewAPI(svc, db, db, collector, cfg.Server.JWTSecret)

	log.Logger().Info("portfolio API listening", zap.String("addr", cfg.Server.Addr))
	if err := http.ListenAndServe(cfg.Server.Addr, api.Routes()); err != nil {
		log.Logger().Fatal("server exited", zap.Error(err))
	}
}
