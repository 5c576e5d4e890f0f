// README: Bench cases: environment, booking flow, claim race, ping throughput and store consistency.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: envPostgres},
		{Name: "Env: Redis connect", Run: envRedis},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: health", Run: health},
		{Name: "Booking: unauthenticated -> 401", Run: bookingUnauthenticated},
		{Name: "Booking: missing fields -> 400", Run: bookingMissingFields},
		{Name: "Claim: concurrent drivers, one winner", Run: claimRace},
		{Name: "Trip: claim, pick up, complete; late cancel -> 409", Run: tripFlow},
		{Name: "Perf: driver location throughput", Run: pingLoad},
		{Name: "Store: driver binding matches status", Run: bindingInvariant},
		{Name: "Cache: driver location in redis", Run: cachedLocation},
	}
}

func envPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "dsn not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func envRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusSkip, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func applyMigration(_ context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: StatusSkip, Note: "apply-migration=false"}
	}
	if r.cfg.DSN == "" {
		return Result{Status: StatusFail, Note: "dsn not configured"}
	}
	if err := infra.Migrate(r.cfg.DSN, r.cfg.MigrationDir); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "dsn not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationDir)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: StatusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("%d tables", len(tables))}
}

func health(ctx context.Context, r *Runner) Result {
	status, _, latency, err := r.call(ctx, http.MethodGet, "/health", "", nil)
	return expect(status, latency, err, http.StatusOK)
}

func bookingUnauthenticated(ctx context.Context, r *Runner) Result {
	status, _, latency, err := r.call(ctx, http.MethodPost, "/api/passenger/bookings", "", r.bookingBody())
	return expect(status, latency, err, http.StatusUnauthorized)
}

func bookingMissingFields(ctx context.Context, r *Runner) Result {
	tok, err := r.token(infra.RolePassenger, "bench-passenger", "")
	if err != nil {
		return Result{Status: StatusSkip, Note: err.Error()}
	}
	status, _, latency, err := r.call(ctx, http.MethodPost, "/api/passenger/bookings", tok, map[string]any{})
	return expect(status, latency, err, http.StatusBadRequest)
}

func claimRace(ctx context.Context, r *Runner) Result {
	if len(r.cfg.Drivers) < 2 {
		return Result{Status: StatusSkip, Note: "need at least two drivers"}
	}
	toks, err := r.onlineDrivers(ctx)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	orderID, err := r.book(ctx)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}

	var ok, lost, other atomic.Int64
	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, tok := range toks {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			<-start
			status, _, _, err := r.call(ctx, http.MethodPost, "/api/driver/tasks/"+orderID+"/claim", tok, nil)
			switch {
			case err != nil:
				other.Add(1)
			case status == http.StatusOK:
				ok.Add(1)
			case status == http.StatusConflict:
				lost.Add(1)
			default:
				other.Add(1)
			}
		}(tok)
	}
	begin := time.Now()
	close(start)
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d other=%d", ok.Load(), lost.Load(), other.Load())
	if ok.Load() == 1 && other.Load() == 0 {
		return Result{Status: StatusPass, Latency: time.Since(begin), Note: note}
	}
	return Result{Status: StatusFail, Note: note}
}

func tripFlow(ctx context.Context, r *Runner) Result {
	toks, err := r.onlineDrivers(ctx)
	if err != nil || len(toks) == 0 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("drivers: %v", err)}
	}
	driver := toks[0]
	passenger, err := r.token(infra.RolePassenger, "bench-passenger", "")
	if err != nil {
		return Result{Status: StatusSkip, Note: err.Error()}
	}
	orderID, err := r.book(ctx)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	begin := time.Now()
	steps := []struct {
		method, path, tok string
		body              any
		want              int
	}{
		{http.MethodPost, "/api/driver/tasks/" + orderID + "/claim", driver, nil, http.StatusOK},
		{http.MethodPatch, "/api/driver/tasks/" + orderID + "/status", driver, map[string]any{"status": "picked_up"}, http.StatusOK},
		{http.MethodPost, "/api/passenger/bookings/" + orderID + "/cancel", passenger, map[string]any{"reason": "bench"}, http.StatusConflict},
		{http.MethodPatch, "/api/driver/tasks/" + orderID + "/status", driver, map[string]any{"status": "completed", "actualFare": 250}, http.StatusOK},
	}
	for i, s := range steps {
		status, body, _, err := r.call(ctx, s.method, s.path, s.tok, s.body)
		if err != nil {
			return Result{Status: StatusFail, Note: fmt.Sprintf("step %d: %v", i, err)}
		}
		if status != s.want {
			return Result{Status: StatusFail, Note: fmt.Sprintf("step %d: status=%d body=%s", i, status, body)}
		}
	}
	return Result{Status: StatusPass, Latency: time.Since(begin)}
}

func pingLoad(ctx context.Context, r *Runner) Result {
	toks, err := r.onlineDrivers(ctx)
	if err != nil || len(toks) == 0 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("drivers: %v", err)}
	}
	end := time.Now().Add(r.cfg.Duration)
	var mu sync.Mutex
	var latencies []time.Duration
	var errCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok := toks[i%len(toks)]
			for n := 0; time.Now().Before(end) && ctx.Err() == nil; n++ {
				body := map[string]any{
					"latitude":  25.0330 + float64(n%100)*1e-4,
					"longitude": 121.5654,
				}
				status, _, latency, err := r.call(ctx, http.MethodPut, "/api/driver/location", tok, body)
				if err != nil || status != http.StatusOK {
					errCount.Add(1)
					continue
				}
				mu.Lock()
				latencies = append(latencies, latency)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(latencies) == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p95 := latencies[len(latencies)*95/100]
	rps := float64(len(latencies)) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Latency: p95, Note: fmt.Sprintf("rps=%.1f p95=%s errors=%d", rps, p95, errCount.Load())}
}

func bindingInvariant(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "dsn not configured"}
	}
	var broken int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE (driver_id IS NOT NULL) <> (status IN ('accepted', 'picked_up', 'completed'))`,
	).Scan(&broken)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if broken > 0 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("%d orders violate the binding rule", broken)}
	}
	return Result{Status: StatusPass}
}

func cachedLocation(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusSkip, Note: "redis not configured"}
	}
	if len(r.cfg.Drivers) == 0 {
		return Result{Status: StatusSkip, Note: "no drivers"}
	}
	n, err := r.redis.Exists(ctx, "loc:driver:"+r.cfg.Drivers[0]).Result()
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if n != 1 {
		return Result{Status: StatusFail, Note: "no cached location for " + r.cfg.Drivers[0]}
	}
	return Result{Status: StatusPass}
}

func (r *Runner) token(role infra.Role, id, fleetID string) (string, error) {
	if r.cfg.JWTSecret == "" {
		return "", fmt.Errorf("jwt-secret not configured")
	}
	return infra.IssueToken(r.cfg.JWTSecret, infra.Identity{Role: role, ID: types.ID(id), FleetID: types.ID(fleetID)}, time.Hour)
}

// onlineDrivers mints a token per configured driver and puts each one online.
func (r *Runner) onlineDrivers(ctx context.Context) ([]string, error) {
	toks := make([]string, 0, len(r.cfg.Drivers))
	for _, id := range r.cfg.Drivers {
		tok, err := r.token(infra.RoleDriver, id, r.cfg.FleetID)
		if err != nil {
			return nil, err
		}
		status, body, _, err := r.call(ctx, http.MethodPut, "/api/driver/online-status", tok, map[string]any{"status": "online"})
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("driver %s online: status=%d body=%s", id, status, body)
		}
		toks = append(toks, tok)
	}
	return toks, nil
}

func (r *Runner) bookingBody() map[string]any {
	return map[string]any{
		"fleetCode":      r.cfg.FleetCode,
		"passengerPhone": "0900-000-000",
		"pickupAddress":  "Taipei 101",
		"dropoffAddress": "Taipei Main Station",
	}
}

// book creates a pending order and returns its id.
func (r *Runner) book(ctx context.Context) (string, error) {
	tok, err := r.token(infra.RolePassenger, "bench-passenger", "")
	if err != nil {
		return "", err
	}
	status, body, _, err := r.call(ctx, http.MethodPost, "/api/passenger/bookings", tok, r.bookingBody())
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("book: status=%d body=%s", status, body)
	}
	var res struct {
		Order struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", err
	}
	if res.Order.Status != "pending" {
		return "", fmt.Errorf("order %s was auto-matched; raise dispatch.auto_match_window for the bench", res.Order.ID)
	}
	return res.Order.ID, nil
}

func (r *Runner) call(ctx context.Context, method, path, tok string, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, time.Since(start), err
}

func expect(status int, latency time.Duration, err error, want int) Result {
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if status != want {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d", status, want)}
	}
	return Result{Status: StatusPass, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
}

var createTable = regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)

// extractTables lists the tables created by the up migrations in dir.
func extractTables(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		for _, m := range createTable.FindAllStringSubmatch(string(b), -1) {
			tables = append(tables, m[1])
		}
	}
	return tables, nil
}
