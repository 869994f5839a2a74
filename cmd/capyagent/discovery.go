package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/capydeploy/capydeploy/pkg/discovery"
)

// listenAndAdvertise binds httpSrv's address (resolving port 0 to an
// OS-assigned free port), serves it in the background, and advertises
// the Agent over mDNS for that port until ctx is cancelled.
func listenAndAdvertise(ctx context.Context, httpSrv *http.Server, name, platform string, port int) (int, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return 0, fmt.Errorf("listen: %w", err)
	}
	boundPort := listener.Addr().(*net.TCPAddr).Port

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	agentID := stableAgentID(name, platform)
	mdnsSrv := discovery.NewServer(discovery.ServiceInfo{
		ID:       agentID,
		Name:     name,
		Platform: platform,
		Version:  "",
		Port:     boundPort,
	})
	go func() {
		if err := mdnsSrv.RunContext(ctx); err != nil {
			log.Printf("mdns server error: %v", err)
		}
	}()

	return boundPort, nil
}

// stableAgentID derives a short identifier that survives restarts,
// matching the teacher's apps/agent/server.New hashing scheme.
func stableAgentID(name, platform string) string {
	hash := sha256.Sum256([]byte(name + "-" + platform))
	return hex.EncodeToString(hash[:])[:8]
}
