// Command cardauth runs the card-authorization webhook as a standalone
// service, for deployments that isolate the latency-critical path from the
// rest of the gateway.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/audit"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/cardauth"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/config"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/crypto"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/governor"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/sentinel"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	}

	keys, err := crypto.LoadKeys(cfg.Server.Ephemeral)
	if err != nil {
		log.Fatalf("key material: %v", err)
	}

	secret := os.Getenv("CARD_WEBHOOK_SECRET")
	if secret == "" {
		if !cfg.Server.Ephemeral {
			log.Fatal("CARD_WEBHOOK_SECRET is required")
		}
		secret = "ephemeral-card-webhook-secret"
	}

	var auditStore audit.Store = audit.NewMemoryStore()
	if cfg.Storage.DSN != "" {
		db, err := storage.Open(cfg.Storage.DSN)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		defer db.Close()
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatalf("storage: %v", err)
		}
		auditStore = db
	}
	ledger := audit.NewLedger(crypto.NewSigner(keys.MACKey), auditStore)

	mcc := cardauth.DefaultMCCMap()
	if cfg.Card.MCCFile != "" {
		if mcc, err = cardauth.LoadMCCMap(cfg.Card.MCCFile); err != nil {
			log.Fatalf("mcc map: %v", err)
		}
	}

	sets := governor.DefaultRiskSets()
	if cfg.Governor.RiskFile != "" {
		if sets, err = governor.LoadRiskSets(cfg.Governor.RiskFile); err != nil {
			log.Fatalf("risk tables: %v", err)
		}
	}

	var bindings cardauth.BindingResolver = cardauth.NewStaticBindings(cfg.Card.Bindings)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bindings = cardauth.NewCachedBindings(bindings, client)
	}

	service := cardauth.NewService(governor.New(sets), mcc, bindings, ledger,
		sentinel.NewMemoryEventStore(), sentinel.NewMemoryApprovalStore(), cardauth.NewMetrics())
	service.SetDeadline(time.Duration(cfg.Card.DeadlineMs) * time.Millisecond)
	handler := cardauth.NewHandler(service, []byte(secret), cfg.Card.SignatureHeader)

	r := mux.NewRouter()
	r.Handle("/card/authorize", handler).Methods("POST")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	addr := ":" + cfg.Server.Port
	log.Printf("card authorization service listening on %s (budget %dms)", addr, cfg.Card.DeadlineMs)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
