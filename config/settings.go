package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	// Load env from .env
	godotenv.Load()
}

// Settings are the job and classification knobs shared by the server and the CLIs.
type Settings struct {
	// SyncWorkers bounds concurrent row upserts per table.
	SyncWorkers int
	// SyncBatchSize is the number of source rows read per page.
	SyncBatchSize int
	// JobTimeout caps a whole sync/summary/cleanup job.
	JobTimeout time.Duration
	// ConfirmedMarker is the confirmation_status that counts toward SLA metrics.
	ConfirmedMarker string
	// Location buckets summaries into calendar days.
	Location *time.Location
	// TatCacheTTL is how long TatConfig rows stay in redis.
	TatCacheTTL time.Duration
	// LockTTL is the redislock lease for one job/table; it is renewed every LockTTL/2 while the job runs.
	LockTTL time.Duration
}

func LoadSettings() Settings {
	loc, err := time.LoadLocation(strings.TrimSpace(envDefault("SLA_TIMEZONE", "Asia/Kuala_Lumpur")))
	if err != nil {
		loc = time.UTC
	}
	return Settings{
		SyncWorkers:     IntFromEnv("SYNC_WORKERS", 8),
		SyncBatchSize:   IntFromEnv("SYNC_BATCH_SIZE", 500),
		JobTimeout:      time.Duration(IntFromEnv("SYNC_JOB_TIMEOUT_SECONDS", 1800)) * time.Second,
		ConfirmedMarker: envDefault("CONFIRMED_MARKER", "Confirmed"),
		Location:        loc,
		TatCacheTTL:     time.Duration(IntFromEnv("TAT_CACHE_TTL_SECONDS", 300)) * time.Second,
		LockTTL:         time.Duration(IntFromEnv("JOB_LOCK_TTL_SECONDS", 600)) * time.Second,
	}
}

// IntFromEnv reads an integer env var, falling back to def when unset or malformed.
func IntFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// EnvBoolDefault accepts true/1/yes/y/on and false/0/no/n/off; anything else is def.
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

// SplitAndTrim splits a comma separated env value, dropping blanks.
func SplitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
