// Package main runs the wallet service: portfolio cache, account
// subscriptions, price oracle and swap pipeline behind a small JSON
// HTTP API plus health/metrics/status endpoints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"solana-wallet-service/internal/domain"
	"solana-wallet-service/internal/observability"
	"solana-wallet-service/internal/service"
)

func main() {
	// Load .env if present; existing env vars win.
	_ = godotenv.Load()

	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("SOLANA_RPC_URL"), "Solana RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("SOLANA_WS_URL"), "Solana WebSocket endpoint (derived from --rpc-endpoint when empty)")
	privateKey := flag.String("private-key", "", "Wallet private key, base58 or base64 (default: SOLANA_PRIVATE_KEY env)")
	birdeyeKey := flag.String("birdeye-api-key", os.Getenv("BIRDEYE_API_KEY"), "Birdeye API key for price lookups")
	refreshInterval := flag.Duration("refresh-interval", 0, "Portfolio background refresh interval (default 2m)")
	listenAddr := flag.String("listen-addr", ":8080", "HTTP listen address")
	watch := flag.String("watch", "", "Comma-separated addresses to start watching at boot")

	flag.Parse()

	logger := log.New(os.Stdout, "[walletd] ", log.LstdFlags|log.Lshortfile)

	metrics := observability.NewMetrics("")

	svc, err := service.New(service.Config{
		RPCEndpoint:     *rpcEndpoint,
		WSEndpoint:      *wsEndpoint,
		PrivateKey:      *privateKey,
		BirdeyeAPIKey:   *birdeyeKey,
		RefreshInterval: *refreshInterval,
	},
		service.WithLogger(logger),
		service.WithMetrics(metrics),
	)
	if err != nil {
		logger.Fatalf("Failed to create service: %v", err)
	}

	if addr := svc.WalletAddress(); addr != "" {
		logger.Printf("Wallet configured: %s", addr)
	} else {
		logger.Println("No wallet key configured, swaps disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	started := time.Now()

	// Pre-warm the watch list.
	for _, addr := range splitList(*watch) {
		if _, err := svc.GetWalletInfo(ctx, addr); err != nil {
			logger.Printf("Failed to watch %s: %v", addr, err)
		} else {
			logger.Printf("Watching %s", addr)
		}
	}

	// Uptime ticker.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.UptimeSeconds.Inc()
			}
		}
	}()

	srv := &http.Server{
		Addr:    *listenAddr,
		Handler: newMux(svc, started),
	}

	go func() {
		logger.Printf("Starting HTTP server on %s", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown on first signal, forced exit on second.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Printf("Received signal %v, shutting down...", sig)
	cancel()

	done := make(chan struct{})
	go func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		if err := svc.Close(); err != nil {
			logger.Printf("Service close error: %v", err)
		}
		close(done)
	}()

	select {
	case sig := <-sigCh:
		logger.Printf("Received second signal %v, forcing exit", sig)
		os.Exit(1)
	case <-time.After(30 * time.Second):
		logger.Println("Graceful shutdown timed out after 30s, forcing exit")
		os.Exit(1)
	case <-done:
	}

	logger.Println("Shutdown complete")
}

// splitList parses a comma-separated flag value.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// newMux wires the HTTP API.
func newMux(svc *service.Service, started time.Time) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			Status: "running",
			Uptime: time.Since(started).String(),
			Wallet: svc.WalletAddress(),
		})
	})

	mux.HandleFunc("/v1/wallet", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		address := r.URL.Query().Get("address")
		snapshot, err := svc.GetWalletInfo(r.Context(), address)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	})

	mux.HandleFunc("/v1/portfolio", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		address := r.URL.Query().Get("address")
		portfolio, err := svc.GetPortfolio(r.Context(), address)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, portfolio)
	})

	mux.HandleFunc("/v1/swap", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		var req swapRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
		outcome, err := svc.ExecuteSwap(r.Context(), domain.SwapIntent{
			InputMint:   req.InputMint,
			OutputMint:  req.OutputMint,
			Amount:      req.Amount,
			SlippageBps: req.SlippageBps,
			Priority:    domain.PriorityTier(req.Priority),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	})

	return mux
}

type statusResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Wallet string `json:"wallet,omitempty"`
}

type swapRequest struct {
	InputMint   string `json:"input_mint"`
	OutputMint  string `json:"output_mint"`
	Amount      string `json:"amount"`
	SlippageBps int    `json:"slippage_bps,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Signature string `json:"signature,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var de *domain.Error
	if errors.As(err, &de) {
		resp.Kind = string(de.Kind)
		resp.Stage = string(de.Stage)
		resp.Signature = de.Signature

		switch de.Kind {
		case domain.KindInput:
			status = http.StatusBadRequest
		case domain.KindUpstreamUnavailable, domain.KindTransientRPC:
			status = http.StatusBadGateway
		case domain.KindAmbiguousSubmission:
			// The transaction may have landed: not a failure the client
			// should blindly retry.
			status = http.StatusAccepted
		case domain.KindOnChainRejection:
			status = http.StatusUnprocessableEntity
		case domain.KindExhaustion:
			status = http.StatusForbidden
		}
	}

	writeJSON(w, status, resp)
}
