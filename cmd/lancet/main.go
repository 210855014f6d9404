package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/budget"
	"github.com/ternarybob/lancet/internal/challenge"
	"github.com/ternarybob/lancet/internal/common"
	"github.com/ternarybob/lancet/internal/fetch"
	"github.com/ternarybob/lancet/internal/ingest"
	"github.com/ternarybob/lancet/internal/lifecycle"
	"github.com/ternarybob/lancet/internal/mcpapi"
	"github.com/ternarybob/lancet/internal/models"
	"github.com/ternarybob/lancet/internal/netpolicy"
	"github.com/ternarybob/lancet/internal/queue"
	"github.com/ternarybob/lancet/internal/ratelimit"
	"github.com/ternarybob/lancet/internal/session"
	"github.com/ternarybob/lancet/internal/storage/badger"
	"github.com/ternarybob/lancet/internal/storage/sqlite"
	"github.com/ternarybob/lancet/internal/verify"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

func main() {
	defer common.RecoverWithCrashFile()

	configPath := os.Getenv("LANCET_CONFIG")
	if configPath == "" {
		configPath = "lancet.toml"
	}
	config, err := common.LoadFromFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	common.InstallCrashHandler("./logs")
	logger := common.SetupLogger(config)
	defer common.Stop()

	sqliteDB, err := sqlite.NewSQLiteDB(logger, &config.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open sqlite database")
	}
	defer sqliteDB.Close()

	badgerDB, err := badger.NewBadgerDB(logger, &config.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open badger database")
	}
	defer badgerDB.Close()

	jobStore := sqlite.NewJobStore(sqliteDB, logger)
	edgeStore := sqlite.NewEdgeStore(sqliteDB)
	fragmentStore := sqlite.NewFragmentStore(sqliteDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// startup_reset must run before any worker claims a row, so a prior
	// process's stuck running/queued jobs never get double-claimed.
	reset, err := jobStore.StartupReset(ctx, time.Now())
	if err != nil {
		logger.Fatal().Err(err).Msg("startup reset failed")
	}
	logger.Info().Int("jobs_reset", reset).Msg("startup reset complete")

	budgetMgr := budget.NewManager(logger, budget.NewMemStore(), config.Budget.WarmupWindow)

	policyTable := netpolicy.NewStaticPolicyTable(netpolicy.DomainPolicy{
		MinInterval:    durationFromRate(config.RateLimit.DefaultRequestsPerSecond),
		Jitter:         config.RateLimit.Jitter,
		TorAllowed:     false,
		IPv6Preference: netpolicy.PreferenceAuto,
	})

	limiter := ratelimit.NewLimiter(netpolicy.RateLimitAdapter{Lookup: policyTable}, ratelimit.Policy{
		MinInterval: durationFromRate(config.RateLimit.DefaultRequestsPerSecond),
		Jitter:      config.RateLimit.Jitter,
	})

	dnsCache := badger.NewDNSCacheStore(badgerDB)
	leakCounter := netpolicy.NewLeakCounter(logger)
	dnsPolicy := netpolicy.NewDNSPolicy(logger, dnsCache, leakCounter, config.DNS.TorProxyAddr, config.DNS.DirectCacheTTL, config.DNS.DirectCacheTTL)

	ipv6Stats := badger.NewIPv6StatsStore(badgerDB)
	ipv6Mgr := netpolicy.NewIPv6Manager(logger, ipv6Stats, config.IPv6.EMAAlpha, config.IPv6.MinSamples, config.IPv6.FailureThreshold, config.IPv6.RaceDelay, config.Browser.AttachTimeout)

	sessionStore := badger.NewSessionStore(badgerDB, config.Session.MaxSessions)
	sessionMgr := session.NewManager(logger, sessionStore, config.Session.SessionTTL)

	janitor := common.NewJanitor(logger, map[string]common.Pruner{
		"dns_cache": dnsCache,
		"sessions":  sessionStore,
	})
	if err := janitor.Start("@every 10m"); err != nil {
		logger.Warn().Err(err).Msg("failed to start janitor")
	}
	defer janitor.Stop()

	detector := challenge.NewDetector()
	lifecycleMgr := lifecycle.NewManager(logger)

	contentStore := fetch.NewContentStore("./data/content", "./data/archive")

	httpFetcher := fetch.NewHTTPFetcher(logger, limiter, dnsProxySelector{dnsPolicy}, sessionMgr, detector, contentStore, ipv6Mgr, dnsPolicy)

	slotLimits := make(map[models.Slot]int, len(config.Scheduler.Slots))
	for name, limit := range config.Scheduler.Slots {
		slotLimits[models.Slot(name)] = limit
	}

	eventBus := queue.NewEventBus()
	scheduler := queue.NewScheduler(logger, jobStore, budgetMgr, slotLimits, eventBus)
	authQueue := queue.NewAuthQueue(logger, jobStore, scheduler, eventBus)

	var browserFetcher *fetch.BrowserFetcher
	if config.Browser.PoolSize > 0 {
		browserFetcher = fetch.NewBrowserFetcher(logger, limiter, sessionMgr, detector, lifecycleMgr, authQueue,
			config.Profile.Enabled, config.Browser.RemoteDebugHost, config.Browser.DebugPortBase,
			config.Browser.AutoStartScript, config.Browser.AttachTimeout, config.Browser.AutoStartPollTimeout,
			config.Browser.NavigationTimeout)
	}

	ingestRunner := ingest.NewRunner(logger, httpFetcher, browserFetcher, policyTable, budgetMgr, config.Fetch.UserAgent, config.Browser.PoolSize)

	var verifier *verify.Verifier
	if config.Gemini.APIKey != "" {
		genaiClient, err := verify.NewGenaiClient(ctx, logger, config.Gemini.APIKey, config.Gemini.EmbedModel, config.Gemini.NLIModel)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize genai client, cross-verification disabled")
		} else {
			verifier = verify.NewVerifier(logger, fragmentStore, genaiClient, edgeStore, verify.Config{
				RecallLimit:         config.Verify.RecallLimit,
				NLIBatchSize:        config.Verify.NLIBatchSize,
				MaxDomains:          config.Verify.MaxDomains,
				ConfidenceThreshold: config.Verify.ConfidenceThreshold,
				SaveNeutral:         config.Verify.SaveNeutral,
			})
		}
	}

	actions := map[models.JobKind]queue.ActionFunc{
		models.JobKindTargetQueue: ingestRunner.Execute,
	}
	if verifier != nil {
		actions[models.JobKindVerifyNLI] = func(ctx context.Context, job models.Job) (queue.ActionResult, error) {
			_, err := verifier.VerifyTask(ctx, job.TaskID)
			return queue.ActionResult{}, err
		}
	}

	pool := queue.NewWorkerPool(logger, jobStore, scheduler, eventBus, actions, slotLimits, config.Scheduler.PollInterval, lifecycleMgr)
	pool.Start(ctx)
	defer pool.Stop()

	common.PrintBanner(config, logger)

	mcpServer := mcpapi.NewServer(mcpapi.Deps{
		Scheduler: scheduler,
		Pool:      pool,
		Store:     jobStore,
		Events:    eventBus,
		Budget:    budgetMgr,
		AuthQueue: authQueue,
		Logger:    logger,
		Defaults: mcpapi.BudgetDefaults{
			MaxPages:    config.Budget.DefaultMaxPages,
			MaxTime:     int64(config.Budget.DefaultMaxTime.Seconds()),
			MaxLLMRatio: config.Budget.DefaultMaxLLMRatio,
		},
	})

	go watchShutdownSignal(cancel, logger)

	if err := mcpserver.ServeStdio(mcpServer); err != nil {
		logger.Error().Err(err).Msg("mcp server exited with error")
	}

	common.PrintShutdownBanner(logger)
}

// dnsProxySelector adapts netpolicy.DNSPolicy to fetch.ProxySelector.
type dnsProxySelector struct {
	policy *netpolicy.DNSPolicy
}

func (d dnsProxySelector) SelectProxyURL(useTor, resolveDNSThroughProxy bool) string {
	return d.policy.SelectProxyURL(useTor, resolveDNSThroughProxy)
}

// durationFromRate converts a requests-per-second rate into the minimum
// interval the rate limiter enforces between requests to one domain.
func durationFromRate(requestsPerSecond float64) time.Duration {
	if requestsPerSecond <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / requestsPerSecond)
}

func watchShutdownSignal(cancel context.CancelFunc, logger arbor.ILogger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")
	cancel()
}
