package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/courtside-live/project/internal/app/query"
	"github.com/courtside-live/project/internal/app/stream"
	"github.com/courtside-live/project/internal/app/viewer"
	"github.com/courtside-live/project/internal/platform/dbpool"
	"github.com/courtside-live/project/internal/platform/env"
	"github.com/courtside-live/project/internal/platform/metrics"
	"github.com/courtside-live/project/internal/platform/natsutil"
)

const heartbeatInterval = 25 * time.Second

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	streamerAddr := env.String("SCORE_STREAMER_ADDR", env.DefaultStreamerAddr)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	matchQuery := query.NewRepository(pool)

	client, err := natsutil.ConnectJetStreamWithRetry(env.String("NATS_URL", env.DefaultNATSURL), env.Duration("NATS_CONNECT_TIMEOUT", 90*time.Second))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()
	streams := stream.NewRegistry(client.JS)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := checkStreamerReadiness(req.Context(), pool, client.Conn); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/api/v1/streams/{matchID}", func(w http.ResponseWriter, req *http.Request) {
		serveMatchStream(w, req, streams, matchQuery)
	})

	server := &http.Server{
		Addr:              streamerAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Keep WriteTimeout unset for long-lived SSE streams.
		IdleTimeout: 120 * time.Second,
	}

	fmt.Printf("Score Streamer listening on %s\n", streamerAddr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("score-streamer graceful shutdown failed: %v", err)
	}
}

// serveMatchStream seeds the viewer with the current snapshot, then relays
// every broadcast for the match until the client disconnects.
func serveMatchStream(w http.ResponseWriter, r *http.Request, streams *stream.Registry, matchQuery *query.Repository) {
	matchID := chi.URLParam(r, "matchID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	if _, err := matchQuery.GetMatch(r.Context(), matchID); err != nil {
		if errors.Is(err, query.ErrMatchNotFound) {
			http.Error(w, "match not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	eventCh, unsubscribe, err := streams.Subscribe(matchID)
	if err != nil {
		http.Error(w, "stream subscription failed", http.StatusInternalServerError)
		return
	}
	defer unsubscribe()

	metrics.ActiveViewerStreams.Inc()
	defer metrics.ActiveViewerStreams.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	sendSnapshot := func(snap any) {
		payload, err := json.Marshal(snap)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\n", viewer.ScoreUpdatedEvent)
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	// Seed after subscribing so nothing published in between is lost; the
	// client drops whichever of the two arrives with the older sequence.
	if snap, err := matchQuery.GetSnapshot(r.Context(), matchID); err == nil {
		sendSnapshot(snap)
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event := <-eventCh:
			sendSnapshot(event.Snapshot)
		}
	}
}

func checkStreamerReadiness(ctx context.Context, pool *pgxpool.Pool, conn *nats.Conn) error {
	if conn == nil {
		return errors.New("nats connection is nil")
	}
	if conn.Status() != nats.CONNECTED {
		return fmt.Errorf("nats is not connected: %s", conn.Status().String())
	}

	checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
