package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"swaplock/config"
	"swaplock/core/events"
	"swaplock/core/state"
	"swaplock/native/htlc"
	"swaplock/observability/logging"
	"swaplock/rpc"
	"swaplock/storage"
)

const shutdownGrace = 10 * time.Second

// slogEmitter forwards engine events to the structured logger so every swap
// transition leaves an audit line.
type slogEmitter struct {
	logger *slog.Logger
}

func (e slogEmitter) Emit(evt events.Event) {
	swapEvt, ok := evt.(*htlc.SwapEvent)
	if !ok {
		e.logger.Info("engine event", "type", evt.EventType())
		return
	}
	args := make([]any, 0, 2*len(swapEvt.Attributes))
	for key, value := range swapEvt.Attributes {
		args = append(args, key, value)
	}
	e.logger.Info(swapEvt.Type, args...)
}

func parseAuthority(value string) ([20]byte, bool, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, false, nil
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	decoded, err := hex.DecodeString(cleaned)
	if err != nil || len(decoded) != 20 {
		return out, false, errors.New("authority address must be 20 hex-encoded bytes")
	}
	copy(out[:], decoded)
	return out, true, nil
}

func main() {
	configFile := flag.String("config", "./swaplockd.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("swaplockd: load config: %v", err)
	}
	logger := logging.Setup("swaplockd", cfg.NetworkName)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("swaplockd: create data dir: %v", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "swaps"))
	if err != nil {
		log.Fatalf("swaplockd: open database: %v", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	engine := htlc.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(slogEmitter{logger: logger})
	if authority, ok, err := parseAuthority(cfg.AuthorityAddress); err != nil {
		log.Fatalf("swaplockd: %v", err)
	} else if ok {
		engine.SetAuthority(authority)
		logger.Info("authority configured", "address", cfg.AuthorityAddress)
	}

	authToken := cfg.AuthToken()
	if authToken == "" {
		logger.Warn("no RPC auth token configured; mutating methods are disabled",
			"env", cfg.RPCAuthTokenEnv)
	}
	server := rpc.NewServer(engine, manager, authToken, cfg.RatePerMinute, cfg.RateBurst)

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting JSON-RPC server", "address", cfg.RPCAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
