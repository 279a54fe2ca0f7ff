package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paylane.org/internal/audit"
	"paylane.org/internal/authz"
	"paylane.org/internal/httpapi"
	"paylane.org/internal/ids"
	"paylane.org/internal/obs"
	"paylane.org/internal/store/memory"
	"paylane.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

// backends bundles the store implementations behind the engine. Both the
// Postgres store and the in-memory store satisfy every interface here.
type backends struct {
	catalog     authz.CatalogStore
	assignments authz.AssignmentStore
	grants      authz.GrantStore
	directory   authz.Directory
	auditSink   authz.AuditSink
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		db *sql.DB
		be backends
	)
	if dsn := os.Getenv("PAYLANE_PG_DSN"); dsn != "" {
		st, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = st.DB()
		be = backends{catalog: st, assignments: st, grants: st, directory: st, auditSink: st}
	} else {
		// No DSN: in-memory store seeded with the builtin catalog. Meant for
		// local development and tests, not production.
		st := memory.NewStore()
		if err := st.Seed(context.Background()); err != nil {
			log.Fatalf("seed memory store: %v", err)
		}
		be = backends{catalog: st, assignments: st, grants: st, directory: st, auditSink: st}
		log.Println("PAYLANE_PG_DSN not set, using in-memory store")
	}

	graph, err := authz.NewGraph(be.directory)
	if err != nil {
		log.Fatalf("graph: %v", err)
	}
	catalog, err := authz.NewCatalog(be.catalog, obs.Warnf)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}
	recorder := audit.NewRecorder(be.auditSink)
	engine, err := authz.NewEngine(catalog, graph, be.assignments, be.grants,
		authz.WithAuditSink(recorder),
		authz.WithDecisionObserver(obs.ObserveDecision),
	)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	admin, err := authz.NewAdminService(engine, catalog, graph, be.assignments, be.grants, recorder, ids.New)
	if err != nil {
		log.Fatalf("admin service: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, engine, admin, catalog)

	addr := os.Getenv("PAYLANE_HTTP_ADDR")
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

	log.Printf("Starting paylane-api %s on %s", version, srv.Addr)

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
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
