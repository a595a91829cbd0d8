package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by ARBITER_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("ARBITER_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// DatabaseURL returns the optional Postgres URL. When empty, the service
// runs with process-local stores only.
func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// ResolutionConfidenceFloor is the minimum folded confidence for a
// contradiction resolution to commit. Defaults to 0.2.
func ResolutionConfidenceFloor() float64 {
	return floatEnv("RESOLUTION_CONFIDENCE_FLOOR", 0.2)
}

// ResolutionWindow is the sliding window within which assertions on a
// proposition are grouped. Defaults to 500ms, one decision cycle.
func ResolutionWindow() time.Duration {
	return msEnv("RESOLUTION_WINDOW_MS", 500*time.Millisecond)
}

// AdaptationStepSize is the bounded per-tick weight adjustment as a
// fraction of the current value. Defaults to 0.05.
func AdaptationStepSize() float64 {
	return floatEnv("ADAPTATION_STEP_SIZE", 0.05)
}

// AdaptationInterval is the adaptation engine's cadence. Defaults to 30s.
func AdaptationInterval() time.Duration {
	return msEnv("ADAPTATION_INTERVAL_MS", 30*time.Second)
}

// CoherenceLowWater is the degradation threshold. Defaults to 0.4.
func CoherenceLowWater() float64 {
	return floatEnv("COHERENCE_LOW_WATER", 0.4)
}

// CoherenceWindowSize is the rolling observation window. Defaults to 200.
func CoherenceWindowSize() int {
	return intEnv("COHERENCE_WINDOW_SIZE", 200)
}

// CoherenceInterval is the monitor's evaluation cadence. Defaults to 2s.
func CoherenceInterval() time.Duration {
	return msEnv("COHERENCE_INTERVAL_MS", 2*time.Second)
}

// BackendCallTimeout bounds every backend cost-model call.
// Defaults to 250ms.
func BackendCallTimeout() time.Duration {
	return msEnv("BACKEND_CALL_TIMEOUT_MS", 250*time.Millisecond)
}

// EpisodicMemoryCapacity bounds the in-process episodic store.
// Defaults to 1024 records.
func EpisodicMemoryCapacity() int {
	return intEnv("EPISODIC_MEMORY_CAPACITY", 1024)
}

// WorkingMemoryTTL is how long a working record survives without the task
// completing. Defaults to 5 minutes.
func WorkingMemoryTTL() time.Duration {
	return msEnv("WORKING_MEMORY_TTL_MS", 5*time.Minute)
}

func floatEnv(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func intEnv(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func msEnv(key string, def time.Duration) time.Duration {
	ms, err := strconv.Atoi(os.Getenv(key))
	if err != nil || ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
