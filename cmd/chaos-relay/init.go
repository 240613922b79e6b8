// ABOUTME: Interactive init command that writes a starter relay config
// ABOUTME: Prompts for chain addresses, agent identity, and optional tailscale settings

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/2389/chaos-relay/internal/config"
)

// initAnswers are the values collected by runInit.
type initAnswers struct {
	WSURL        string
	APIURL       string
	Name         string
	Personality  string
	Style        string
	Role         string
	Stake        int64
	DecisionMode string
	LLMURL       string
	DBPath       string
	StatusAddr   string
	Tailscale    bool
	TSHostname   string
	LogLevel     string
	LogFormat    string
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("chaos-relay configuration setup")
	fmt.Println("===============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var ans initAnswers

	fmt.Println("\n--- Chain ---")
	ans.WSURL = prompt(reader, "Stream URL", "ws://localhost:3000")
	ans.APIURL = prompt(reader, "API URL", "http://localhost:3000/api")

	fmt.Println("\n--- Agent ---")
	ans.Name = prompt(reader, "Agent name", "DramaLlama")
	ans.Personality = prompt(reader, "Personality traits (comma-separated)", "sassy,dramatic")
	ans.Style = prompt(reader, "Style", "chaotic")
	ans.Role = prompt(reader, "Role (validator/proposer)", "validator")
	stake, err := strconv.ParseInt(prompt(reader, "Stake amount", strconv.Itoa(config.DefaultStakeAmount)), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid stake amount: %w", err)
	}
	ans.Stake = stake

	fmt.Println("\n--- Decisions ---")
	ans.DecisionMode = prompt(reader, "Decision mode (rules/llm)", config.DecisionRules)
	if ans.DecisionMode == config.DecisionLLM {
		ans.LLMURL = prompt(reader, "LLM URL", "http://localhost:11434")
	}

	fmt.Println("\n--- Storage & Status ---")
	ans.DBPath = prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "relay.db"))
	ans.StatusAddr = prompt(reader, "Status HTTP address (empty to disable)", "localhost:8090")

	fmt.Println("\n--- Tailscale ---")
	ans.Tailscale = isYes(prompt(reader, "Enable Tailscale?", "no"))
	if ans.Tailscale {
		ans.TSHostname = prompt(reader, "Tailscale hostname", "chaos-relay")
	}

	fmt.Println("\n--- Logging ---")
	ans.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	ans.LogFormat = prompt(reader, "Log format (text/json)", "text")

	data, err := renderConfig(ans)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfiguration written to %s\n", outputFile)
	fmt.Println("Register with: chaos-relay register")
	fmt.Println("Then run:      chaos-relay serve")
	return nil
}

// renderConfig builds the YAML document for ans.
func renderConfig(ans initAnswers) ([]byte, error) {
	cfg := config.Config{
		Chain: config.ChainConfig{WSURL: ans.WSURL, APIURL: ans.APIURL},
		Agent: config.AgentConfig{
			Name:         ans.Name,
			Personality:  splitList(ans.Personality),
			Style:        ans.Style,
			StakeAmount:  ans.Stake,
			Role:         ans.Role,
			Registration: config.RegistrationCached,
		},
		Relay: config.RelayConfig{
			ReconnectDelayRaw: config.DefaultReconnectDelay.String(),
			DrainIntervalRaw:  config.DefaultDrainInterval.String(),
		},
		Submission: config.SubmissionConfig{
			MaxAttempts:       1,
			RequestTimeoutRaw: config.DefaultRequestTimeout.String(),
		},
		Decision: config.DecisionConfig{Mode: ans.DecisionMode, LLMURL: ans.LLMURL},
		Database: config.DatabaseConfig{Path: ans.DBPath},
		Tailscale: config.TailscaleConfig{
			Enabled:  ans.Tailscale,
			Hostname: ans.TSHostname,
		},
		Status:  config.StatusConfig{HTTPAddr: ans.StatusAddr},
		Logging: config.LoggingConfig{Level: ans.LogLevel, Format: ans.LogFormat},
	}

	body, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}

	header := "# chaos-relay configuration\n# Generated by chaos-relay init\n\n"
	return append([]byte(header), body...), nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		return defaultVal
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "y" || s == "yes"
}
