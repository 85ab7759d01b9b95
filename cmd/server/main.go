// Command server runs the sync-scribe document API and realtime hub.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/auth"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/config"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/hub"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/policy"
	store "github.com/vishnu-mouli-102408/sync-scribe/internal/repository"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/service"
	internalhttp "github.com/vishnu-mouli-102408/sync-scribe/internal/transport/http"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/transport/rpc"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/ws"
)

func main() {
	flag.Parse()
	defer glog.Flush()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		glog.Warningf("failed to read .env: %v", err)
	}

	// Load configuration
	cfg := config.Load()
	if v := cfg.Verbosity(); v > 0 {
		_ = flag.Set("v", strconv.Itoa(v))
	}

	glog.Infof("Starting sync-scribe server...")
	glog.Infof("HTTP Port: %d", cfg.HTTPPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		glog.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		glog.Fatalf("Failed to initialize policy engine: %v", err)
	}
	svc := service.New(db, policyEngine)

	// Initialize hub
	hubOpts := hub.Options{
		SnapshotInterval: cfg.SnapshotInterval,
		SendBuffer:       cfg.SendBufferSize,
	}
	if cfg.RedisURL != "" {
		relay, err := hub.NewRedisRelay(ctx, cfg.RedisURL, cfg.RelayChannelPrefix)
		if err != nil {
			glog.Fatalf("Failed to connect relay: %v", err)
		}
		defer relay.Close()
		hubOpts.Relay = relay
		glog.Infof("Relay enabled on %s*", cfg.RelayChannelPrefix)
	}
	topicHub := hub.New(hubOpts)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		topicHub.Run(ctx)
	}()

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if verifier == nil {
		glog.Warningf("JWT_SECRET is not set; accepting %s/%s headers as identity", auth.HeaderUserID, auth.HeaderUserEmail)
	}

	wsServer := ws.NewServer(cfg, topicHub, svc)
	httpServer := internalhttp.NewServer(svc, topicHub, wsServer.HandleWebSocket, verifier)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()
	glog.Infof("Server started on port %d (node %s)", cfg.HTTPPort, topicHub.NodeID())

	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		rpcServer, err = rpc.NewServer(topicHub)
		if err != nil {
			glog.Fatalf("Failed to create RPC server: %v", err)
		}
		go func() {
			if err := rpcServer.Start(fmt.Sprintf(":%d", cfg.RPCPort)); err != nil {
				glog.Fatalf("Failed to start RPC server: %v", err)
			}
		}()
		glog.Infof("RPC server started on port %d", cfg.RPCPort)
	}

	<-ctx.Done()
	glog.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("Failed to shutdown HTTP server gracefully: %v", err)
	}
	if rpcServer != nil {
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			glog.Errorf("Failed to shutdown RPC server gracefully: %v", err)
		}
	}
	<-hubDone

	glog.Info("Server stopped")
}
