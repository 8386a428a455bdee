/*
main.go - Declaration engine server binary

PURPOSE:
  Wires the SQLite store into the ledger, batcher, dedup and payment
  services, mounts them behind the API router, and runs the HTTP server
  until interrupted.

COMMAND-LINE FLAGS:
  -port    HTTP listen port (default: 8080)
  -db      SQLite database path (default: declarations.db).
           ":memory:" gives a throwaway database, handy with the demo
           scenario endpoints.

SHUTDOWN:
  SIGINT/SIGTERM stops accepting connections and drains in-flight
  requests for up to 30s before the store is closed. Declarations are
  never left half-written: every mutation runs inside a transaction, so
  an interrupted request simply rolls back.

EXAMPLES:
  ./server -db="./data/declarations.db"
  ./server -db=":memory:" -port=3000

SEE ALSO:
  - api/server.go: routes
  - store/sqlite/sqlite.go: schema and migration
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

	"github.com/warp/declaration-engine/api"
	"github.com/warp/declaration-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP listen port")
	dbPath := flag.String("db", "declarations.db", "SQLite database path")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	handler := api.NewHandler(store)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Declaration engine listening on http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down, draining in-flight requests")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Forced shutdown: %v", err)
	}

	log.Println("Server stopped")
}
