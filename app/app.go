package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soloap/soloap/activitypub"
	"github.com/soloap/soloap/db"
	"github.com/soloap/soloap/domain"
	"github.com/soloap/soloap/idgen"
	"github.com/soloap/soloap/notify"
	"github.com/soloap/soloap/store"
	"github.com/soloap/soloap/util"
	"github.com/soloap/soloap/web"
)

// App represents the main application with all its servers and
// dependencies. Kept from the teacher's app/app.go shape with the SSH/TUI
// server removed: the admin surface is now an authenticated HTTP API
// (component G), not a terminal UI.
type App struct {
	config     *util.AppConfig
	httpServer *http.Server
	bus        *notify.Bus
	workerStop context.CancelFunc
	done       chan os.Signal
}

// New creates a new App instance with the given configuration.
func New(conf *util.AppConfig) (*App, error) {
	return &App{
		config: conf,
		bus:    notify.NewBus(),
		done:   make(chan os.Signal, 1),
	}, nil
}

// Initialize opens the database, bootstraps the singleton Setting row,
// and builds the HTTP router.
func (a *App) Initialize() error {
	log.Println("Opening database...")
	if err, _ := db.Open(a.config.Conf.SqlitePath()); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	log.Println("Database ready")

	if err := a.bootstrapSetting(); err != nil {
		return fmt.Errorf("failed to bootstrap settings: %w", err)
	}

	backend, err := store.FromConfig(&a.config.Conf)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	outboxDeps := activitypub.OutboxDeps{
		DB:             activitypub.NewDBWrapper(),
		Client:         activitypub.NewDefaultHTTPClient(30 * time.Second),
		Bus:            a.bus,
		LocalPersonURI: a.config.Conf.LocalPersonURI(),
	}

	router := web.NewRouter(a.config, outboxDeps, a.bus, backend)
	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.config.Conf.Host, a.config.Conf.HttpPort),
		Handler: router,
	}

	return nil
}

// bootstrapSetting ensures the singleton Setting row exists, generating a
// fresh actor keypair on first run (§3: "generated lazily on first access").
func (a *App) bootstrapSetting() error {
	database := db.GetDB()
	err, existing := database.ReadSetting(idgen.Nil)
	if err == nil && existing != nil {
		return nil
	}
	if err != nil && err != db.ErrNotFound {
		return err
	}

	log.Println("No settings row found, generating actor keypair...")
	keys, err := util.GeneratePemKeypair()
	if err != nil {
		return fmt.Errorf("generate actor keypair: %w", err)
	}

	handle := a.config.Conf.UserHandle
	setting := &domain.Setting{
		Id:              idgen.Nil,
		UserName:        &handle,
		UserPublicKey:   keys.Public,
		UserPrivateKey:  keys.Private,
		ObjectStoreType: a.config.Conf.ObjectStoreType,
	}
	return database.CreateSetting(setting)
}

// Start starts the delivery worker and HTTP server, blocking until a
// shutdown signal is received.
func (a *App) Start() error {
	workerCtx, cancel := context.WithCancel(context.Background())
	a.workerStop = cancel

	outboxDeps := activitypub.OutboxDeps{
		DB:             activitypub.NewDBWrapper(),
		Client:         activitypub.NewDefaultHTTPClient(30 * time.Second),
		Bus:            a.bus,
		LocalPersonURI: a.config.Conf.LocalPersonURI(),
	}
	go activitypub.StartDeliveryWorker(workerCtx, outboxDeps, 4, 5*time.Second)

	signal.Notify(a.done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("Starting HTTP server on %s:%d", a.config.Conf.Host, a.config.Conf.HttpPort)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-a.done
	log.Println("Shutdown signal received")

	return a.Shutdown()
}

// Shutdown gracefully stops the HTTP server, delivery worker, and
// notification bus within a bounded timeout (§4.5 cooperative stopper).
func (a *App) Shutdown() error {
	log.Println("Initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error

	if a.httpServer != nil {
		log.Println("Stopping HTTP server...")
		if err := a.httpServer.Shutdown(ctx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			shutdownErr = err
		}
	}

	if a.workerStop != nil {
		log.Println("Stopping delivery worker...")
		a.workerStop()
	}

	a.bus.CloseAll()

	log.Println("All servers stopped")
	return shutdownErr
}
