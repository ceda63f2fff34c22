package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tresler/httpool/api"
	"github.com/tresler/httpool/client"
	"github.com/tresler/httpool/config"
	"github.com/tresler/httpool/logger"
	"github.com/tresler/httpool/pool"
	"github.com/tresler/httpool/transport"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to TOML config file")
		listenAddr = flag.String("listen", ":8080", "Admin/dispatch listen address")
	)
	flag.Parse()

	startTime := time.Now()
	logger.Info("Starting httpoold", "startup_time", startTime.Format(time.RFC3339))

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("Failed to load config", "error", err, "path", *configPath)
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
		logger.Info("Config loaded", "path", *configPath)
	}

	connector := transport.NewTCPConnector(cfg.Pool.ConnectTimeout)
	registry, err := pool.NewRegistry(cfg, connector)
	if err != nil {
		logger.Error("Failed to create pool registry", "error", err)
		log.Fatalf("failed to create pool registry: %v", err)
	}
	cli := client.NewWithRegistry(registry)

	// Setup router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Register pprof handlers for profiling
	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	r.Handle("/debug/pprof/heap", pprof.Handler("heap"))

	api.NewHandler(registry).RegisterRoutes(r)
	r.Post("/api/dispatch", dispatchHandler(cli))

	if p := os.Getenv("PORT"); p != "" {
		*listenAddr = ":" + p
	}

	server := &http.Server{
		Addr:    *listenAddr,
		Handler: r,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", *listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed to start", "error", err, "addr", *listenAddr)
			log.Fatalf("HTTP server failed to start: %v", err)
		}
	}()
	logger.Info("httpoold initialized", "init_duration", time.Since(startTime).String())

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownStart := time.Now()
	logger.Info("Shutting down httpoold...")
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if err := cli.Close(context.Background()); err != nil {
		logger.Warn("Pool drain overran deadline", "error", err)
	}
	logger.Info("Shutdown complete", "shutdown_duration", time.Since(shutdownStart).String())
}

type dispatchRequest struct {
	Service   string            `json:"service"`
	Authority string            `json:"authority"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Header    map[string]string `json:"header,omitempty"`
	Body      string            `json:"body,omitempty"`
}

type dispatchResponse struct {
	Status int    `json:"status"`
	Body   string `json:"body,omitempty"`
}

// dispatchHandler forwards one request through the pool and relays the
// upstream result.
func dispatchHandler(cli *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var dreq dispatchRequest
		if err := json.NewDecoder(r.Body).Decode(&dreq); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if dreq.Method == "" {
			dreq.Method = "GET"
		}
		if dreq.Path == "" {
			dreq.Path = "/"
		}

		req := &transport.Request{
			Method: dreq.Method,
			Path:   dreq.Path,
			Body:   []byte(dreq.Body),
		}
		if len(dreq.Header) > 0 {
			req.Header = make(http.Header, len(dreq.Header))
			for k, v := range dreq.Header {
				req.Header.Set(k, v)
			}
		}

		resp, err := cli.Do(r.Context(), dreq.Service, dreq.Authority, req)
		if err != nil {
			writeError(w, dispatchStatus(err), err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(dispatchResponse{Status: resp.Status, Body: string(resp.Body)})
	}
}

// dispatchStatus maps a pool failure class onto an HTTP status.
func dispatchStatus(err error) int {
	switch {
	case errors.Is(err, pool.ErrCapacityExceeded),
		errors.Is(err, pool.ErrAcquireTimeout),
		errors.Is(err, pool.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, pool.ErrReadTimeout):
		return http.StatusGatewayTimeout
	case pool.IsPoolError(err):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: err.Error()})
}
