// Command server runs the full fiduciary protection gateway: Smart POA
// vault, gatekeeper, break-glass protocol, fiduciary ledger, scam
// interceptor, transaction governor, card-authorization webhook, and the
// advocate HTTP/WebSocket surface.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/api"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/audit"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/breakglass"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/cardauth"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/config"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/crypto"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/gatekeeper"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/governor"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/middleware"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/notify"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/sentinel"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/storage"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/vault"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	log.Println("starting fiduciary protection gateway...")

	cfg := loadConfig(*configPath)

	keys, err := crypto.LoadKeys(cfg.Server.Ephemeral)
	if err != nil {
		log.Fatalf("key material: %v", err)
	}
	cipher, err := crypto.NewCipher(keys.EncryptionKey)
	if err != nil {
		log.Fatalf("cipher: %v", err)
	}
	signer := crypto.NewSigner(keys.MACKey)

	// Stores: SQL when a DSN is configured, in-memory otherwise.
	var (
		auditStore     audit.Store
		poaStore       vault.POAStore
		tokenStore     vault.TokenStore
		presStore      vault.PresentationStore
		eventStore     breakglass.Store
		securityEvents sentinel.EventStore
		approvals      sentinel.ApprovalStore
	)
	if dsn := cfg.Storage.DSN; dsn != "" {
		db, err := storage.Open(dsn)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		defer db.Close()
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatalf("storage: %v", err)
		}
		auditStore = db
		poaStore = db
		tokenStore = db
		presStore = db
		eventStore = db
		securityEvents = db.Sentinel()
		approvals = db.Sentinel()
	} else {
		log.Println("no database dsn configured, using in-memory stores")
		mem := vault.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
		poaStore = mem
		tokenStore = mem
		presStore = vault.NewMemoryPresentationStore()
		eventStore = breakglass.NewMemoryStore()
		securityEvents = sentinel.NewMemoryEventStore()
		approvals = sentinel.NewMemoryApprovalStore()
	}

	ledger := audit.NewLedger(signer, auditStore)
	registry := vault.NewRegistry(poaStore, tokenStore, ledger)
	tokens := vault.NewTokenVault(cipher, tokenStore, poaStore)
	presenter := vault.NewPresenter(signer, poaStore, presStore)

	notifier := notify.NewDispatcher(transportsFor(cfg.Notify.Channels), cfg.Notify.Workers)
	defer notifier.Shutdown()

	monitor := breakglass.NewMonitor(eventStore, keys.TOTPSecret, notifier, breakglass.StubEvaluator{}, ledger)
	gate := gatekeeper.New(poaStore, ledger, monitor, gatekeeper.NewMetrics())

	analyzer, err := buildAnalyzer(cfg)
	if err != nil {
		log.Fatalf("sentinel: %v", err)
	}
	gov, err := buildGovernor(cfg)
	if err != nil {
		log.Fatalf("governor: %v", err)
	}

	cardHandler, err := buildCardHandler(cfg, gov, ledger, securityEvents, approvals)
	if err != nil {
		log.Fatalf("card auth: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.StartSweeper(ctx, time.Minute)

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			MaxPerMinute: cfg.Server.RateLimitPerMinute,
		})
		defer limiter.Close()
	}

	server := api.NewServer(api.Deps{
		Registry:  registry,
		Tokens:    tokens,
		Presenter: presenter,
		Gate:      gate,
		Monitor:   monitor,
		Ledger:    ledger,
		Analyzer:  analyzer,
		Events:    securityEvents,
		Approvals: approvals,
		Card:      cardHandler,
		Stream:    api.NewStream(),
		Limiter:   limiter,
	})

	if err := server.Start(cfg.Server.Port); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func loadConfig(path string) *config.Config {
	if path == "" {
		return config.Default()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func transportsFor(channels []string) []notify.Transport {
	var out []notify.Transport
	for _, ch := range channels {
		switch ch {
		case "push":
			out = append(out, notify.PushTransport{})
		case "sms":
			out = append(out, notify.SMSTransport{})
		case "email":
			out = append(out, notify.EmailTransport{})
		default:
			log.Printf("unknown notify channel %q, skipping", ch)
		}
	}
	return out
}

func buildAnalyzer(cfg *config.Config) (*sentinel.Analyzer, error) {
	categories := sentinel.DefaultCategories()
	if cfg.Sentinel.PatternsFile != "" {
		loaded, err := sentinel.LoadCategories(cfg.Sentinel.PatternsFile)
		if err != nil {
			return nil, err
		}
		categories = loaded
	}
	return sentinel.NewAnalyzer(categories)
}

func buildGovernor(cfg *config.Config) (*governor.Governor, error) {
	sets := governor.DefaultRiskSets()
	if cfg.Governor.RiskFile != "" {
		loaded, err := governor.LoadRiskSets(cfg.Governor.RiskFile)
		if err != nil {
			return nil, err
		}
		sets = loaded
	}
	return governor.New(sets), nil
}

func buildCardHandler(cfg *config.Config, gov *governor.Governor, ledger *audit.Ledger, events sentinel.EventStore, approvals sentinel.ApprovalStore) (*cardauth.Handler, error) {
	secret := os.Getenv("CARD_WEBHOOK_SECRET")
	if secret == "" {
		if !cfg.Server.Ephemeral {
			log.Println("CARD_WEBHOOK_SECRET not set, card webhook disabled")
			return nil, nil
		}
		secret = "ephemeral-card-webhook-secret"
	}

	mcc := cardauth.DefaultMCCMap()
	if cfg.Card.MCCFile != "" {
		loaded, err := cardauth.LoadMCCMap(cfg.Card.MCCFile)
		if err != nil {
			return nil, err
		}
		mcc = loaded
	}

	var bindings cardauth.BindingResolver = cardauth.NewStaticBindings(cfg.Card.Bindings)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bindings = cardauth.NewCachedBindings(bindings, client)
		log.Printf("card bindings cached via redis at %s", cfg.Redis.Addr)
	}

	service := cardauth.NewService(gov, mcc, bindings, ledger, events, approvals, cardauth.NewMetrics())
	service.SetDeadline(time.Duration(cfg.Card.DeadlineMs) * time.Millisecond)
	return cardauth.NewHandler(service, []byte(secret), cfg.Card.SignatureHeader), nil
}
