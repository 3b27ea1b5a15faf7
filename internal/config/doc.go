// Package config loads the coven-inbox configuration file.
//
// # File Format
//
// YAML is the default. A path ending in .toml is decoded as TOML with the
// same keys:
//
//	database:
//	  path: "~/.local/share/coven/inbox.db"
//
//	feed:
//	  backend: "redis"            # memory (default) or redis
//	  redis_url: "redis://localhost:6379/0"
//	  channel_prefix: "coven-inbox"
//	  buffer_size: 64
//
//	auth:
//	  jwt_secret: "${COVEN_INBOX_JWT_SECRET}"
//
//	chat:
//	  aggregator_concurrency: 4   # 1..32
//	  history_timeout: "10s"
//	  resubscribe_backoff: "500ms"
//
//	logging:
//	  level: "info"               # debug, info, warn, error
//	  format: "text"              # text or json
//
// # Environment Variables
//
// ${VAR_NAME} anywhere in the file is replaced with the variable's value
// (empty if unset) before parsing.
//
// # Location
//
// DefaultPath resolves COVEN_INBOX_CONFIG, then
// $XDG_CONFIG_HOME/coven/inbox.yaml, then ~/.config/coven/inbox.yaml.
package config
