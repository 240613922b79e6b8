// Package config handles configuration loading for chaos-relay.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Files ending in .toml are decoded as TOML; any other extension
// is decoded as YAML. Defaults are applied before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHAOS_RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/chaos-relay/relay.yaml
//  3. ~/.config/chaos-relay/relay.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	relay:
//	  reconnect_delay: "5s"
//	  drain_interval: "5s"
//	  dedupe_window: "0s"
//
// # Configuration Sections
//
// Coordination service:
//
//	chain:
//	  ws_url: "ws://localhost:3000"        # streaming endpoint base
//	  api_url: "http://localhost:3000/api" # request API base
//
// Agent identity (sent at registration):
//
//	agent:
//	  name: "DramaLlama"
//	  personality: ["sassy", "dramatic"]
//	  style: "chaotic"
//	  stake_amount: 1000
//	  role: "validator"           # validator, proposer
//	  registration: "cached"      # cached, always
//	  listen_only_on_failure: false
//
// Submission policy:
//
//	submission:
//	  request_timeout: "30s"
//	  max_attempts: 1             # 1 disables retry
//	  retry_backoff: "1s"
//
// Decision function:
//
//	decision:
//	  mode: "rules"               # rules, llm
//	  llm_url: "http://localhost:1234"
//	  llm_timeout: "60s"
//
// Database (credential cache and submission audit):
//
//	database:
//	  path: "~/.local/share/chaos-relay/relay.db"
//
// Tailscale (dial the chain over a tailnet):
//
//	tailscale:
//	  enabled: false
//	  hostname: "chaos-relay"
//	  auth_key: "${TS_AUTHKEY}"
//
// Status endpoint and logging:
//
//	status:
//	  http_addr: "127.0.0.1:8081"
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
