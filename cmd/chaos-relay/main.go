// ABOUTME: Entry point for chaos-relay, the agent event relay
// ABOUTME: Runs the relay and the one-shot register, propose, ally, and network commands

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/chaos-relay/internal/agent"
	"github.com/2389/chaos-relay/internal/config"
	"github.com/2389/chaos-relay/internal/decision"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _                                _
   ___| |__   __ _  ___  ___      _ __ ___| | __ _ _   _
  / __| '_ \ / _' |/ _ \/ __|____| '__/ _ \ |/ _' | | | |
 | (__| | | | (_| | (_) \__ \____| | |  __/ | (_| | |_| |
  \___|_| |_|\__,_|\___/|___/    |_|  \___|_|\__,_|\__, |
                                                   |___/
`

// getConfigPath returns the path to the relay config file.
// Priority: CHAOS_RELAY_CONFIG env var > XDG_CONFIG_HOME/chaos-relay/relay.yaml > ~/.config/chaos-relay/relay.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHAOS_RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chaos-relay", "relay.yaml")
}

// getDataPath returns the path to the chaos-relay data directory.
// Priority: XDG_DATA_HOME/chaos-relay > ~/.local/share/chaos-relay
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "chaos-relay")
}

func usage() {
	fmt.Println("Usage: chaos-relay <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Connect to the chain and relay decisions")
	fmt.Println("  init                   Write a starter config file")
	fmt.Println("  register [--force]     Register the configured agent and cache its token")
	fmt.Println("  propose [flags]        Submit a transaction proposal")
	fmt.Println("  ally [flags]           Submit an alliance proposal")
	fmt.Println("  network                Show the chain's network status")
	fmt.Println("  health                 Check the local relay's health")
	fmt.Println("  status                 Show the local relay's status")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "register":
		err = runRegister(ctx, args)
	case "propose":
		err = runPropose(ctx, args)
	case "ally":
		err = runAlly(ctx, args)
	case "network":
		err = runNetwork(ctx)
	case "health":
		err = runLocal(ctx, "/health/ready")
	case "status":
		err = runLocal(ctx, "/status")
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Agent:     ")
	cyan.Print(cfg.Agent.Name)
	gray.Printf(" (%s, stake %d)\n", cfg.Agent.Role, cfg.Agent.StakeAmount)
	green.Print("    ▶ ")
	fmt.Printf("Stream:    %s\n", cfg.Chain.WSURL)
	green.Print("    ▶ ")
	fmt.Printf("API:       %s\n", cfg.Chain.APIURL)
	green.Print("    ▶ ")
	fmt.Printf("Decisions: %s", cfg.Decision.Mode)
	if cfg.Decision.Mode == config.DecisionLLM {
		gray.Printf(" via %s", cfg.Decision.LLMURL)
	}
	fmt.Println()
	if cfg.Status.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Status:    %s\n", cfg.Status.HTTPAddr)
	}
	if cfg.Agent.ListenOnlyOnFailure {
		green.Print("    ▶ ")
		yellow.Println("Listen-only if registration fails")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting chaos-relay",
		"config", configPath,
		"agent", cfg.Agent.Name,
		"ws_url", cfg.Chain.WSURL,
	)

	a, err := agent.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}
	defer a.Close()

	return a.Run(ctx)
}

// openAgent loads config and builds an agent for a one-shot command.
func openAgent() (*agent.Agent, *config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	a, err := agent.New(cfg, setupLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format}))
	if err != nil {
		return nil, nil, fmt.Errorf("creating agent: %w", err)
	}
	return a, cfg, nil
}

func runRegister(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	force := fs.Bool("force", false, "Register even if a cached token is still valid")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, cfg, err := openAgent()
	if err != nil {
		return err
	}
	defer a.Close()

	cred, err := a.Register(ctx, *force)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Registered %s\n", cfg.Agent.Name)
	fmt.Printf("  Agent ID: %s\n", cred.AgentID)
	return nil
}

func runPropose(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("propose", flag.ContinueOnError)
	source := fs.String("source", "", "Where the drama came from")
	sourceURL := fs.String("url", "", "Link to the source")
	content := fs.String("content", "", "What happened")
	drama := fs.Int("drama", 5, "Drama level, 1-10")
	justification := fs.String("justification", "", "Why the chain needs this")
	tags := fs.String("tags", "", "Comma-separated tags")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return submit(ctx, decision.Payload{
		Family: decision.FamilyTransaction,
		Body: decision.TransactionProposal{
			Source:        *source,
			SourceURL:     *sourceURL,
			Content:       *content,
			DramaLevel:    *drama,
			Justification: *justification,
			Tags:          splitList(*tags),
		},
	})
}

func runAlly(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ally", flag.ContinueOnError)
	name := fs.String("name", "", "Alliance name")
	purpose := fs.String("purpose", "", "What the alliance is for")
	allies := fs.String("allies", "", "Comma-separated agent IDs to ally with")
	commitment := fs.Uint("commitment", 5, "Drama commitment, 0-255")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *commitment > 255 {
		return fmt.Errorf("--commitment must be at most 255")
	}

	return submit(ctx, decision.Payload{
		Family: decision.FamilyAlliance,
		Body: decision.AllianceProposal{
			Name:            *name,
			Purpose:         *purpose,
			AllyIDs:         splitList(*allies),
			DramaCommitment: uint8(*commitment),
		},
	})
}

func submit(ctx context.Context, p decision.Payload) error {
	a, _, err := openAgent()
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.Submit(ctx, p)
	if err != nil {
		return err
	}

	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("Submitted %s\n", p.Family)
	if len(resp) > 0 {
		return printJSON(os.Stdout, resp)
	}
	return nil
}

func runNetwork(ctx context.Context) error {
	a, _, err := openAgent()
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.NetworkStatus(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	return printJSON(os.Stdout, data)
}

// runLocal queries the status endpoint of a running relay.
func runLocal(ctx context.Context, path string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Status.HTTPAddr == "" {
		return errors.New("status.http_addr is not configured")
	}

	url := fmt.Sprintf("http://%s%s", localAddr(cfg.Status.HTTPAddr), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := printJSON(os.Stdout, body); err != nil {
			return err
		}
	} else {
		fmt.Println(string(body))
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// localAddr turns a wildcard listen address into one that can be dialed.
func localAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	if rest, ok := strings.CutPrefix(addr, "0.0.0.0:"); ok {
		return "localhost:" + rest
	}
	return addr
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(w io.Writer, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
