package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"tallybook.org/internal/httpapi"
	"tallybook.org/internal/ledger"
	"tallybook.org/internal/obs"
	"tallybook.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	// .env is optional; real deployments configure through the
	// environment directly.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	policy, err := ledger.ParseBalancePolicy(os.Getenv("TALLYBOOK_BALANCE_POLICY"))
	if err != nil {
		log.Fatalf("balance policy: %v", err)
	}
	warn := func(debits, credits decimal.Decimal) {
		obs.LogJSON(map[string]any{
			"level":   "warn",
			"msg":     "unbalanced transaction posted",
			"debits":  debits.String(),
			"credits": credits.String(),
		})
	}

	var (
		svc   ledger.Service
		probe httpapi.ReadyProbe
		store *pg.Store
	)
	if dsn := os.Getenv("TALLYBOOK_PG_DSN"); dsn != "" {
		store, err = pg.Open(dsn, policy, warn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		svc = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		// Dev fallback: volatile ledger, gone on restart.
		log.Println("TALLYBOOK_PG_DSN not set, using in-memory ledger")
		svc = ledger.NewInMemory(policy, warn)
	}

	api := httpapi.New(svc, probe, version)

	addr := os.Getenv("TALLYBOOK_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting tallybook-api %s on %s (balance policy: %s)", version, srv.Addr, policy)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if store != nil {
		_ = store.Close()
	}
	log.Println("Stopped")
}
