package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time parses duration values
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, durations for the
// reveal timing knobs.
type Config struct {
	Env               string        // application environment (e.g. "dev", "prod")
	Port              string        // HTTP port to listen on
	DBUser            string        // database username
	DBPass            string        // database password (optional)
	DBHost            string        // database host address
	DBPort            string        // database port number
	DBName            string        // database name
	JWTSecret         string        // secret used to verify JWTs issued by the core app
	ResurfaceCooldown time.Duration // minimum gap since last_shown_at before a reveal may resurface
	PresenceWindow    time.Duration // how recently the other user must have been active to trigger resurfacing
	ChannelPrefix     string        // prefix for per-user realtime channels
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.  The reveal timing
// knobs fall back to sane defaults when unset.
func Load() Config {
	return Config{
		Env:               must("APP_ENV"),
		Port:              must("APP_PORT"),
		DBUser:            must("DB_USER"),
		DBPass:            os.Getenv("DB_PASS"), // empty allowed
		DBHost:            must("DB_HOST"),
		DBPort:            must("DB_PORT"),
		DBName:            must("DB_NAME"),
		JWTSecret:         must("JWT_SECRET"),
		ResurfaceCooldown: envDur("RESURFACE_COOLDOWN", 2*time.Hour),
		PresenceWindow:    envDur("PRESENCE_WINDOW", 5*time.Minute),
		ChannelPrefix:     envStr("REVEAL_CHANNEL_PREFIX", "reveal:user"),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
