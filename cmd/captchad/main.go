package main

import (
	"log"
	"time"

	"captchad/internal/captcha"
	"captchad/internal/config"
	"captchad/internal/domain"
	"captchad/internal/infra/db"
	httpinfra "captchad/internal/infra/http"
	"captchad/internal/infra/ratelimit"
	"captchad/internal/provider"
	"captchad/internal/settings"
)

func main() {
	cfg := config.FromEnv()

	store, err := db.NewStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	repo := db.NewSettingsRepo(store)

	// Snapshot sources in priority order: admin-persisted, remote
	// endpoint, environment. The resolver falls back to the disabled
	// default when every source fails.
	sources := []settings.Source{settings.StoreSource{Store: repo}}
	if cfg.SettingsEndpoint != "" {
		sources = append(sources, settings.NewRemote(cfg.SettingsEndpoint))
	}
	sources = append(sources, settings.Static{Settings: settings.FromConfig(cfg)})

	var limiter domain.RateLimiter
	if cfg.RateLimitRequests > 0 {
		if cfg.RedisAddr != "" {
			limiter, err = ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, time.Now)
			if err != nil {
				log.Fatalf("failed to init redis limiter: %v", err)
			}
		} else {
			limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{MaxKeys: cfg.RateLimitMaxKeys})
		}
	}

	generator := captcha.NewGenerator(cfg.ChallengeLength, time.Duration(cfg.ChallengeTTLSeconds)*time.Second)
	var source captcha.Source = captcha.LocalSource{Generator: generator}
	if cfg.ChallengeEndpoint != "" {
		source = captcha.NewEndpointSource(cfg.ChallengeEndpoint, generator)
	}

	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Resolver:     settings.NewResolver(sources...),
		SettingsRepo: repo,
		Factory:      provider.NewDefaultFactory(source, []byte(cfg.TokenSecret)),
		Generator:    generator,
		Secret:       []byte(cfg.TokenSecret),
		RateLimiter:  limiter,
		AdminAPIKey:  cfg.AdminAPIKey,
	})
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
