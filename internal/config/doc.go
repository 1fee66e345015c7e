// Package config handles configuration loading for mcpz.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Every field has a default, so a missing default file is not an
// error and command-line flags override whatever the file sets.
//
// # Configuration File
//
// Locations (in order):
//
//  1. The --config flag
//  2. Path from the MCPZ_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/mcpz/config.yaml (~/.config/mcpz/config.yaml)
//
// Files ending in .toml are decoded with BurntSushi/toml, anything else with yaml.v3.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	sql:
//	  connection: "${DATABASE_URL}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	server:
//	  session_ttl: "1h"
//	  sweep_interval: "60s"
//	  keepalive_interval: "30s"
//
// # Configuration Sections
//
//	server:
//	  addr: "127.0.0.1:3000"
//	  allowed_origins: ["https://app.example.com"]
//	  tls:
//	    enabled: true
//	    cert_file: ""        # both or neither; empty means self-signed
//	    key_file: ""
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: false
//	  path: "/metrics"
//
//	shell:
//	  shell: "/bin/sh"
//	  timeout: "30s"
//	  allow: ["ls*", "git*"]
//	  deny: ["rm*"]
//	  include_stderr: true
//
//	filesystem:
//	  allowed_directories: ["~/projects"]
//
//	sql:
//	  connection: "sqlite:app.db"
//	  mode: "readonly"  # readonly, fullaccess
//	  timeout: "30s"
package config
