// Command capyagent runs the CapyDeploy Agent: it advertises itself via
// mDNS, accepts a single Hub WebSocket connection at a time, and serves
// upload requests. It wires no Steam, telemetry, console-log, or
// game-log collaborator, so requests that need one are answered with a
// not_implemented error.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/capydeploy/capydeploy/internal/agentsession"
	"github.com/capydeploy/capydeploy/pkg/auth"
	"github.com/capydeploy/capydeploy/pkg/discovery"
	"github.com/capydeploy/capydeploy/pkg/transfer"
	"github.com/capydeploy/capydeploy/pkg/version"
)

func main() {
	var (
		port        int
		name        string
		installPath string
		noAuth      bool
		showVersion bool
	)

	flag.IntVar(&port, "port", 0, "HTTP server port (0 picks a free port)")
	flag.StringVar(&name, "name", "", "Agent name (default: hostname)")
	flag.StringVar(&installPath, "install-path", "", "Directory uploaded games are installed under (default: ~/Games)")
	flag.BoolVar(&noAuth, "no-auth", false, "Disable pairing and accept any Hub (testing only)")
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("CapyDeploy Agent", version.Full())
		os.Exit(0)
	}

	if name == "" {
		name = discovery.GetHostname()
	}
	platform := discovery.GetPlatform()

	if installPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve home directory: %v\n", err)
			os.Exit(1)
		}
		installPath = filepath.Join(home, "Games")
	}
	if err := os.MkdirAll(installPath, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "create install path: %v\n", err)
		os.Exit(1)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = installPath
	}
	configDir = filepath.Join(configDir, "capydeploy-agent")

	var authManager *auth.Manager
	if !noAuth {
		store, err := auth.NewFileStore(configDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open auth store: %v\n", err)
			os.Exit(1)
		}
		authManager = auth.NewManager(store)
		authManager.SetPairingCodeCallback(func(code string, expiresIn time.Duration) {
			log.Printf("pairing code: %s (expires in %s)", code, expiresIn)
		})
	}

	engine := transfer.NewEngine(installPath, transfer.DefaultChunkSize)

	acceptConnections := true
	cfg := agentsession.Config{
		AuthManager: authManager,
		Engine:      engine,
		OnConnect: func(hubID, hubName, remoteAddr string) {
			log.Printf("hub connected: %s (%s) from %s", hubName, hubID, remoteAddr)
		},
		OnDisconnect: func() {
			log.Printf("hub disconnected")
		},
	}
	cfg.Info = agentsession.Info{
		Name:              name,
		Version:           version.Version,
		Platform:          platform,
		Capabilities:      agentsession.DefaultCapabilities(cfg),
		AcceptConnections: func() bool { return acceptConnections },
	}

	session := agentsession.New(cfg)
	transport := agentsession.NewServer(session)
	transport.AcceptConnections = func() bool { return acceptConnections }

	mux := http.NewServeMux()
	mux.Handle("/ws", transport)

	httpSrv := &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		cancel()
	}()

	listenPort, err := listenAndAdvertise(ctx, httpSrv, name, platform, port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	log.Printf("CapyDeploy Agent %s listening on port %d (%s, %s)", version.Version, listenPort, name, platform)
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	log.Println("agent stopped")
}
