/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the booking engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load YAML configuration (flags override)
  3. Initialize SQLite store
  4. Build the ledger, escrow account, allocator, and scheduler
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file path (default: config.yaml, optional)
  -port    HTTP server port (overrides config when set)
  -db      SQLite database path (overrides config when set)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the settlement scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/booking.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - config/config.go: Configuration structure and defaults
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - scheduler/jobs.go: Background sweep jobs
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/allocator"
	"github.com/warp/booking-engine/api"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/config"
	"github.com/warp/booking-engine/escrow"
	"github.com/warp/booking-engine/notify"
	"github.com/warp/booking-engine/pricing"
	"github.com/warp/booking-engine/scheduler"
	"github.com/warp/booking-engine/store/sqlite"
	"github.com/warp/booking-engine/wallet"
)

func main() {
	// Flags
	configPath := flag.String("config", "config.yaml", "YAML config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	// Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	clock := booking.SystemClock{}

	// Wallet ledger and escrow account
	ledger := wallet.NewLedger(store, clock)

	providerShare, err := decimal.NewFromString(cfg.Settlement.ProviderShare)
	if err != nil {
		log.Fatalf("Invalid settlement.provider_share %q: %v", cfg.Settlement.ProviderShare, err)
	}
	split, err := escrow.NewSplitPolicy(providerShare)
	if err != nil {
		log.Fatalf("Invalid settlement split: %v", err)
	}
	account := escrow.NewAccount(store, ledger, split, clock)

	// Pricing
	rates := pricing.PeakTable{
		PeakStartHour: cfg.Pricing.PeakStartHour,
		PeakEndHour:   cfg.Pricing.PeakEndHour,
		PeakRate:      booking.MustParseMoney(cfg.Pricing.PeakRate),
		OffPeakRate:   booking.MustParseMoney(cfg.Pricing.OffPeakRate),
	}
	fees := pricing.FeeTable{
		RacketFee:     booking.MustParseMoney(cfg.Pricing.RacketFee),
		ShuttleSetFee: booking.MustParseMoney(cfg.Pricing.ShuttleSetFee),
	}

	// Booking allocator and cancellation workflow
	alloc := allocator.New(store, ledger, rates, fees, notify.LogNotifier{}, clock)
	canceller := allocator.NewCanceller(store, ledger, alloc, clock, cfg.Cancellation.Cutoff())

	// Settlement scheduler
	sched := scheduler.New(clock, cfg.Scheduler.Interval(),
		&scheduler.DistributeEarlyRevenue{Store: store, Escrow: account},
		&scheduler.SettleStartedSessions{Store: store, Escrow: account},
		&scheduler.SettleCompletedSessions{Store: store, Escrow: account},
		&scheduler.CancelUnderfilledSessions{Store: store, Escrow: account},
		&scheduler.CompleteFinishedBookings{Store: store, Alloc: alloc},
		&scheduler.ExpireStalePendingBookings{Store: store, Alloc: alloc, TTL: cfg.Scheduler.PendingTTL()},
	)
	if cfg.Scheduler.Enabled {
		sched.Start()
	}

	// HTTP handler and router
	handler := &api.Handler{
		Store:     store,
		Ledger:    ledger,
		Escrow:    account,
		Alloc:     alloc,
		Canceller: canceller,
		Scheduler: sched,
		Clock:     clock,
	}
	router := api.NewRouter(handler, cfg.HTTP.CORSOrigins)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", cfg.HTTP.Port)
		log.Printf("📊 API available at http://localhost:%d/api", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	if cfg.Scheduler.Enabled {
		sched.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
