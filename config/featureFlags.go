package config

import (
	"os"
	"strings"
)

// EnvBoolDefault parses common truthy/falsy spellings, falling back to def.
func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

// PubSubPushEnabled gates the /pubsub/soc-sync push endpoint.
//
// Set via env:
// - ENABLE_SOC_PUBSUB_PUSH_ENDPOINT=false
func PubSubPushEnabled() bool {
	return EnvBoolDefault("ENABLE_SOC_PUBSUB_PUSH_ENDPOINT", true)
}

// DispatcherEnabled runs the continuation outbox dispatcher inside the API process.
func DispatcherEnabled() bool {
	return EnvBoolDefault("ENABLE_SOC_CONTINUATION_DISPATCHER", true)
}

// ReaperEnabled runs the stale-run reaper inside the API process.
func ReaperEnabled() bool {
	return EnvBoolDefault("ENABLE_SOC_STALE_REAPER", true)
}

// SkipMigrations disables AutoMigrate on startup.
func SkipMigrations() bool {
	return EnvBoolDefault("SKIP_MIGRATIONS", false)
}

// EnvIntDefault is intFromEnv for callers outside the package.
func EnvIntDefault(key string, def int) int {
	return intFromEnv(key, def)
}
