// README: Bench runner; executes HTTP/DB/Redis checks against a running baba-api and prints results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bench := NewRunner(cfg)
	results := bench.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			pass++
		case StatusFail:
			fail++
		case StatusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	MigrationDir   string
	ApplyMigration bool
	JWTSecret      string
	FleetCode      string
	FleetID        string
	Drivers        []string
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
}

func loadConfig() Config {
	var cfg Config
	var drivers string
	flag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("BABA_BENCH_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.DSN, "dsn", envOrDefault("BABA_DB__DSN", ""), "Postgres DSN (db checks skipped when empty)")
	flag.StringVar(&cfg.RedisAddr, "redis", envOrDefault("BABA_REDIS__ADDR", ""), "Redis address (cache checks skipped when empty)")
	flag.StringVar(&cfg.MigrationDir, "migrations", envOrDefault("BABA_DB__MIGRATIONS", "migrations"), "Migration directory")
	flag.BoolVar(&cfg.ApplyMigration, "apply-migration", envOrDefaultBool("BABA_BENCH_APPLY_MIGRATION", false), "Apply migrations before tests")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", envOrDefault("BABA_AUTH__JWT_SECRET", ""), "Secret used to mint test tokens")
	flag.StringVar(&cfg.FleetCode, "fleet-code", envOrDefault("BABA_BENCH_FLEET_CODE", "TPE01"), "Fleet code to book against")
	flag.StringVar(&cfg.FleetID, "fleet-id", envOrDefault("BABA_BENCH_FLEET_ID", "f1"), "Fleet id carried by driver tokens")
	flag.StringVar(&drivers, "drivers", envOrDefault("BABA_BENCH_DRIVERS", "d1,d2,d3,d4"), "Comma separated driver ids of the fleet")
	flag.BoolVar(&cfg.Strict, "strict", envOrDefaultBool("BABA_BENCH_STRICT", false), "Fail on skipped tests")
	flag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("BABA_BENCH_TIMEOUT", 60*time.Second), "Total timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", envOrDefaultInt("BABA_BENCH_CONCURRENCY", 20), "Concurrency for perf tests")
	flag.DurationVar(&cfg.Duration, "duration", envOrDefaultDuration("BABA_BENCH_DURATION", 10*time.Second), "Duration for perf tests")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	for _, d := range strings.Split(drivers, ",") {
		if d = strings.TrimSpace(d); d != "" {
			cfg.Drivers = append(cfg.Drivers, d)
		}
	}
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
		return strings.EqualFold(v, "yes")
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := cast.ToIntE(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
