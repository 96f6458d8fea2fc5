// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for server tuning knobs.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP/WebSocket server settings.
type ServerConfig struct {
	Port        int
	MetricsPort int
	DatabaseDSN string
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:        8080,
		MetricsPort: 9090,
		DatabaseDSN: "",
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()
	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if mp := getEnvInt("METRICS_PORT", 0); mp > 0 {
		cfg.MetricsPort = mp
	}
	if dsn := getEnvString("DATABASE_DSN", ""); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	return cfg
}

// =============================================================================
// GAME LOOP CONFIGURATION
// =============================================================================

// GameConfig holds simulation tuning knobs.
type GameConfig struct {
	TickRate float64 // ticks per second
}

// DefaultGame returns the default game loop configuration.
func DefaultGame() GameConfig {
	return GameConfig{TickRate: 60.0}
}

// GameFromEnv returns game configuration with environment variable overrides.
func GameFromEnv() GameConfig {
	cfg := DefaultGame()
	if r := getEnvFloat("TICK_RATE", 0); r > 0 {
		cfg.TickRate = r
	}
	return cfg
}

// =============================================================================
// MATCHMAKER & ANTI-CHEAT TUNING
// =============================================================================

// TuningConfig holds knobs for the matchmaker and anti-cheat detector.
type TuningConfig struct {
	MatchmakerBaseTolerance  int
	AnticheatZScoreThreshold float64
}

// DefaultTuning returns the default matchmaker/anti-cheat tuning.
func DefaultTuning() TuningConfig {
	return TuningConfig{
		MatchmakerBaseTolerance:  100,
		AnticheatZScoreThreshold: 3.0,
	}
}

// TuningFromEnv returns tuning configuration with environment variable overrides.
func TuningFromEnv() TuningConfig {
	cfg := DefaultTuning()
	if t := getEnvInt("MATCHMAKER_BASE_TOLERANCE", 0); t > 0 {
		cfg.MatchmakerBaseTolerance = t
	}
	if z := getEnvFloat("ANTICHEAT_ZSCORE_THRESHOLD", 0); z > 0 {
		cfg.AnticheatZScoreThreshold = z
	}
	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server ServerConfig
	Game   GameConfig
	Tuning TuningConfig
}

// Load best-effort loads a .env file (ignored if absent), then returns the
// complete configuration with environment overrides.
func Load() AppConfig {
	_ = godotenv.Load()
	return AppConfig{
		Server: ServerFromEnv(),
		Game:   GameFromEnv(),
		Tuning: TuningFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvString(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
