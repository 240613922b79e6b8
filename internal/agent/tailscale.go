// ABOUTME: Optional tsnet node so the relay can reach a coordination service on a tailnet
// ABOUTME: Chain HTTP, the WebSocket stream, and the status listener all go through it when enabled

package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
)

// ensureTailscale brings the tailnet node up once. It is a no-op when
// tailscale is disabled.
func (a *Agent) ensureTailscale(ctx context.Context) error {
	if !a.config.Tailscale.Enabled {
		return nil
	}
	a.tsnetOnce.Do(func() {
		a.tsnetErr = a.startTailscale(ctx)
	})
	return a.tsnetErr
}

func (a *Agent) startTailscale(ctx context.Context) error {
	tsCfg := a.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return err
	}

	srv := &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	a.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	st, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		return fmt.Errorf("starting tailscale: %w", err)
	}

	a.tsnetServer = srv
	a.logTailscaleStatus(tsCfg.Hostname, st)
	return nil
}

// dialContext dials through the tailnet node once it is up.
func (a *Agent) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if a.tsnetServer == nil {
		d := net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		return d.DialContext(ctx, network, addr)
	}
	return a.tsnetServer.Dial(ctx, network, addr)
}

func (a *Agent) logTailscaleStatus(hostname string, st *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(st.TailscaleIPs) > 0 {
		tsAddr = st.TailscaleIPs[0].String()
	} else {
		a.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if st.Self != nil {
		dnsName = st.Self.DNSName
	}
	a.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "chaos-relay", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}
