package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/drafterd/drafter/internal/api"
	"github.com/drafterd/drafter/internal/blob"
	"github.com/drafterd/drafter/internal/bootstrap"
	"github.com/drafterd/drafter/internal/config"
	"github.com/drafterd/drafter/internal/da"
	"github.com/drafterd/drafter/internal/engine"
	"github.com/drafterd/drafter/internal/oss"
	"github.com/drafterd/drafter/internal/policy"
	"github.com/drafterd/drafter/internal/remote"
	"github.com/drafterd/drafter/internal/store"
)

func main() {
	// A local .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("drafter: starting",
		"listen_addr", cfg.ListenAddr,
		"engine_url", cfg.EngineURL,
		"storage_url", cfg.StorageURL,
	)

	jobs := store.NewMemoryStore()
	defer jobs.Close()

	tokens := remote.NewCachedTokenProvider(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.Scopes)

	chainOpts := []policy.Option{policy.WithLogger(logger)}
	if cfg.APIRate > 0 {
		chainOpts = append(chainOpts, policy.WithRateLimit(cfg.APIRate))
	}
	chain := policy.NewChain(chainOpts...)

	storageAPI := remote.NewClient(cfg.StorageURL, tokens, logger)
	engineAPI := remote.NewClient(cfg.EngineURL, tokens, logger)

	ossClient := oss.NewClient(storageAPI, chain, logger)
	catalogue := da.DefaultCatalogue()
	daClient := da.NewClient(engineAPI, chain, logger)

	var secondary engine.SecondaryTarget
	if cfg.AzureAccount != "" {
		target, err := blob.NewTarget(cfg.AzureAccount, cfg.AzureKey, cfg.AzureContainer, logger)
		if err != nil {
			log.Fatalf("azure target: %v", err)
		}
		probeCtx, cancelProbe := context.WithTimeout(context.Background(), 10*time.Second)
		if err := target.EnsureContainer(probeCtx); err != nil {
			logger.Warn("secondary blob target unreachable at startup, mirroring may fail", "error", err)
		}
		cancelProbe()

		secondary = target
		logger.Info("secondary blob target enabled", "account", cfg.AzureAccount, "container", cfg.AzureContainer)
	}

	strategy := engine.StrategyPolling
	if cfg.CallbackURL != "" {
		strategy = engine.StrategyCallback
	}

	eng := engine.New(engine.Config{
		Store:        jobs,
		Engine:       daClient,
		Catalogue:    catalogue,
		Secondary:    secondary,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
		JobTimeout:   cfg.JobTimeout,
		Strategy:     strategy,
	})

	boot := bootstrap.New(bootstrap.Config{
		InitOnStart:  cfg.InitTemplatesOnStart,
		ClearOnStart: cfg.ClearTemplatesOnStart,
		SettleDelay:  cfg.BootstrapDelay,
		ClientID:     cfg.ClientID,
		OwnerID:      cfg.OwnerClientID,
	}, catalogue, daClient, eng, logger)

	bootCtx, cancelBoot := context.WithCancel(context.Background())
	go boot.Run(bootCtx)

	if cfg.CallbackURL != "" {
		go func() {
			if err := daClient.RegisterCallback(bootCtx, cfg.CallbackURL); err != nil {
				logger.Error("callback registration failed, polling still covers completion", "error", err)
			}
		}()
	}

	srv := api.NewServer(cfg.ListenAddr, jobs, eng, boot, ossClient, logger)

	err := srv.Run()

	cancelBoot()
	eng.Shutdown()
	eng.Wait()

	if err != nil {
		log.Fatalf("server error: %v", err)
	}
}
