// Package config handles configuration loading for seance-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SEANCE_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/seance/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${SEANCE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	server:
//	  shutdown_timeout: "15s"
//	  ping_interval: "15s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  shutdown_timeout: "15s"
//	  ping_interval: "15s"
//
// Engine process:
//
//	engine:
//	  command: "/usr/local/bin/seance-engine"
//	  args: ["exec", "--json"]
//	  default_work_dir: "/srv/seance/work"
//	  profile_path: "/etc/seance/profile.toml"
//	  allow_bypass: false
//
// Database and retention:
//
//	database:
//	  path: "/var/lib/seance/gateway.db"
//	  retention: "168h"
//	  purge_schedule: "0 3 * * *"
//
// Authentication:
//
//	auth:
//	  enabled: true
//	  jwt_secret: "${SEANCE_JWT_SECRET}"
//
// Session bookkeeping:
//
//	sessions:
//	  recent_ttl: "10m"
//	  recent_max: 512
//	  max_duration: "30m"  # optional wall-clock cap per turn
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "seance-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: false   # serve :443 with Tailscale certs
//	  funnel: false  # public HTTPS, implies :443
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
