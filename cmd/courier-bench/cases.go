// README: Runner cases; environment, schema, the driver delivery flow, a completion race and location load.
package main

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "os"
    "regexp"
    "strings"
    "sync"
    "time"

    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/redis/go-redis/v9"
)

const driverGeoKey = "courier:drivers:geo"

type Runner struct {
    cfg   Config
    httpc *http.Client
    db    *pgxpool.Pool
    redis *redis.Client

    // filled in as the flow advances
    orderID        string
    confirmationID string
}

type Result struct {
    Name    string
    Status  string
    Latency time.Duration
    Note    string
}

type TestCase struct {
    Name  string
    Focus string
    Run   func(ctx context.Context, r *Runner) Result
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
        fmt.Printf("%-7s %s", res.Status, tc.Name)
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
        {
            Name:  "Env: Postgres connect",
            Focus: "database reachable",
            Run: func(ctx context.Context, r *Runner) Result {
                if r.db == nil {
                    return Result{Status: "FAIL", Note: "db not configured"}
                }
                ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
                defer cancel()
                if err := r.db.Ping(ctx); err != nil {
                    return Result{Status: "FAIL", Note: err.Error()}
                }
                return Result{Status: "PASS"}
            },
        },
        {
            Name:  "Env: Redis connect",
            Focus: "redis reachable",
            Run: func(ctx context.Context, r *Runner) Result {
                if r.redis == nil {
                    return Result{Status: "FAIL", Note: "redis not configured"}
                }
                ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
                defer cancel()
                if err := r.redis.Ping(ctx).Err(); err != nil {
                    return Result{Status: "FAIL", Note: err.Error()}
                }
                return Result{Status: "PASS"}
            },
        },
        {
            Name:  "Migration: apply (optional)",
            Focus: "apply the schema file",
            Run: func(ctx context.Context, r *Runner) Result {
                if !r.cfg.ApplyMigration {
                    return Result{Status: "SKIP", Note: "apply-migration=false"}
                }
                if r.db == nil {
                    return Result{Status: "FAIL", Note: "db not configured"}
                }
                sql, err := os.ReadFile(r.cfg.MigrationPath)
                if err != nil {
                    return Result{Status: "FAIL", Note: err.Error()}
                }
                // one batch: function bodies contain semicolons
                if _, err := r.db.Exec(ctx, string(sql)); err != nil {
                    return Result{Status: "FAIL", Note: err.Error()}
                }
                return Result{Status: "PASS"}
            },
        },
        {
            Name:  "Migration: tables exist",
            Focus: "tables declared in the schema file",
            Run: func(ctx context.Context, r *Runner) Result {
                if r.db == nil {
                    return Result{Status: "FAIL", Note: "db not configured"}
                }
                tables, err := extractTables(r.cfg.MigrationPath)
                if err != nil {
                    return Result{Status: "FAIL", Note: err.Error()}
                }
                for _, t := range tables {
                    var exists bool
                    err := r.db.QueryRow(ctx,
                        "SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
                        t,
                    ).Scan(&exists)
                    if err != nil {
                        return Result{Status: "FAIL", Note: err.Error()}
                    }
                    if !exists {
                        return Result{Status: "FAIL", Note: "missing table: " + t}
                    }
                }
                return Result{Status: "PASS", Note: fmt.Sprintf("tables=%d", len(tables))}
            },
        },
        {
            Name:  "Migration: procedures exist",
            Focus: "remote procedures the service calls",
            Run: func(ctx context.Context, r *Runner) Result {
                if r.db == nil {
                    return Result{Status: "FAIL", Note: "db not configured"}
                }
                for _, fn := range []string{"count_order_items", "complete_order_delivery", "driver_cancel_order", "create_order_conversation"} {
                    var exists bool
                    if err := r.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname=$1)", fn).Scan(&exists); err != nil {
                        return Result{Status: "FAIL", Note: err.Error()}
                    }
                    if !exists {
                        return Result{Status: "FAIL", Note: "missing function: " + fn}
                    }
                }
                return Result{Status: "PASS"}
            },
        },
        httpCase("API: health", http.MethodGet, "/health", nil, "", []int{200}),
        httpCase("API: metrics", http.MethodGet, "/metrics", nil, "", []int{200}),
        httpCase("Auth: missing X-Driver-ID -> 401", http.MethodGet, "/api/driver/active-order", nil, "", []int{401}),

        {
            Name:  "Seed: accepted order for the bench driver",
            Focus: "order row, merchant, customer and items",
            Run: func(ctx context.Context, r *Runner) Result {
                if r.db == nil {
                    return Result{Status: "SKIP", Note: "db not configured"}
                }
                id, err := seedOrder(ctx, r.db, r.cfg.DriverID)
                if err != nil {
                    return Result{Status: "FAIL", Note: err.Error()}
                }
                r.orderID = id
                return Result{Status: "PASS", Note: "order=" + id}
            },
        },

        // Session
        driverCase("Session: blur (reset)", http.MethodPost, "/api/driver/session/blur", nil, []int{200}),
        driverCase("Session: active order before focus -> 409", http.MethodGet, "/api/driver/active-order", nil, []int{409}),
        {
            Name:  "Session: focus loads the seeded order",
            Focus: "focus with order id hint",
            Run: func(ctx context.Context, r *Runner) Result {
                status, body, latency, err := r.call(ctx, http.MethodPost, "/api/driver/session/focus", map[string]any{"order_id": r.orderID}, r.cfg.DriverID)
                if err != nil {
                    return Result{Status: "FAIL", Note: err.Error()}
                }
                if status != http.StatusOK {
                    return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
                }
                if body["step"] != "accepted" {
                    return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("step=%v", body["step"])}
                }
                return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("strategy=%v", body["read_strategy"])}
            },
        },

        // Steps
        driverCase("Step: picked up before heading to merchant -> 409", http.MethodPost, "/api/driver/active-order/picked-up", nil, []int{409}),
        stepCase("Step: heading to merchant", "/api/driver/active-order/heading-to-merchant", "heading_to_merchant"),
        stepCase("Step: picked up", "/api/driver/active-order/picked-up", "picked_up"),
        stepCase("Step: heading to customer", "/api/driver/active-order/heading-to-customer", "heading_to_customer"),
        driverCase("Navigation: confirm prompt (web)", http.MethodPost, "/api/driver/active-order/navigation/confirm", map[string]any{
            "platform": "web",
            "schemes":  []string{"https"},
        }, []int{200}),
        driverCase("Navigation: no prompt left -> 404", http.MethodPost, "/api/driver/active-order/navigation/dismiss", nil, []int{404}),

        // Cancel
        driverCase("Cancel: empty reason -> 400", http.MethodPost, "/api/driver/active-order/cancel", map[string]any{"reason": "  "}, []int{400}),

        // Location
        driverCase("Location: invalid coords -> 400", http.MethodPost, "/api/driver/location/fix", map[string]any{"lat": 123.0, "lng": 456.0}, []int{400}),
        driverCase("Location: fix accepted", http.MethodPost, "/api/driver/location/fix", map[string]any{"lat": 24.7136, "lng": 46.6753}, []int{202}),
        driverCase("Location: permission granted", http.MethodPost, "/api/driver/location/permission", map[string]any{"status": "granted"}, []int{200}),

        // Completion
        {
            Name:  "Completion: request hold",
            Focus: "hold-to-confirm starts",
            Run: func(ctx context.Context, r *Runner) Result {
                status, body, latency, err := r.call(ctx, http.MethodPost, "/api/driver/active-order/completion", nil, r.cfg.DriverID)
                if err != nil {
                    return Result{Status: "FAIL", Note: err.Error()}
                }
                if status != http.StatusCreated {
                    return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
                }
                id, _ := body["id"].(string)
                if id == "" {
                    return Result{Status: "FAIL", Latency: latency, Note: "no confirmation id"}
                }
                r.confirmationID = id
                return Result{Status: "PASS", Latency: latency}
            },
        },
        {
            Name:  "Concurrency: confirm same completion",
            Focus: "exactly one confirmation settles",
            Run: func(ctx context.Context, r *Runner) Result {
                if r.confirmationID == "" {
                    return Result{Status: "SKIP", Note: "no pending confirmation"}
                }
                time.Sleep(r.cfg.HoldFor + 100*time.Millisecond)
                return concurrentConfirm(ctx, r, "/api/driver/active-order/completion/"+r.confirmationID+"/confirm")
            },
        },
        {
            Name:  "Completion: no active order afterwards",
            Focus: "terminal order dropped from the session",
            Run: func(ctx context.Context, r *Runner) Result {
                status, body, latency, err := r.call(ctx, http.MethodGet, "/api/driver/active-order", nil, r.cfg.DriverID)
                if err != nil {
                    return Result{Status: "FAIL", Note: err.Error()}
                }
                if status != http.StatusOK || body["order"] != nil {
                    return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d order=%v", status, body["order"])}
                }
                return Result{Status: "PASS", Latency: latency}
            },
        },
        {
            Name:  "Consistency: delivered and settled once",
            Focus: "status and settlement rows",
            Run: func(ctx context.Context, r *Runner) Result {
                if r.db == nil || r.orderID == "" {
                    return Result{Status: "SKIP", Note: "no seeded order"}
                }
                var status string
                var settlements int
                err := r.db.QueryRow(ctx, `
                    SELECT o.status, (SELECT COUNT(*) FROM driver_settlements s WHERE s.order_id = o.id)
                    FROM orders o WHERE o.id = $1`, r.orderID).Scan(&status, &settlements)
                if err != nil {
                    return Result{Status: "FAIL", Note: err.Error()}
                }
                if status != "delivered" || settlements != 1 {
                    return Result{Status: "FAIL", Note: fmt.Sprintf("status=%s settlements=%d", status, settlements)}
                }
                return Result{Status: "PASS"}
            },
        },
        {
            Name:  "Tracking: driver in redis GEO set",
            Focus: "position sink wrote the driver",
            Run: func(ctx context.Context, r *Runner) Result {
                if r.redis == nil {
                    return Result{Status: "SKIP", Note: "redis not configured"}
                }
                pos, err := r.redis.GeoPos(ctx, driverGeoKey, r.cfg.DriverID).Result()
                if err != nil {
                    return Result{Status: "FAIL", Note: err.Error()}
                }
                if len(pos) == 0 || pos[0] == nil {
                    return Result{Status: "PENDING", Note: "no position yet; tracking writes on its own cycle"}
                }
                return Result{Status: "PASS", Note: fmt.Sprintf("lat=%.5f lng=%.5f", pos[0].Latitude, pos[0].Longitude)}
            },
        },

        manualCase("Location: denied permission shows settings link", "report status=denied while an order is active and check notices"),
        manualCase("Completion: already delivered elsewhere", "complete from a second device, then confirm on the first"),
        manualCase("Error: DB down -> 503 with view", "stop postgres and trigger a step"),

        {
            Name:  "Perf: location fix throughput",
            Focus: "device fix reports",
            Run: func(ctx context.Context, r *Runner) Result {
                return perfLoad(ctx, r, "/api/driver/location/fix", map[string]any{"lat": 24.7136, "lng": 46.6753})
            },
        },
        driverCase("Session: blur", http.MethodPost, "/api/driver/session/blur", nil, []int{200}),
    }
}

// call sends a JSON request; driverID "" omits the identity header.
func (r *Runner) call(ctx context.Context, method, path string, body any, driverID string) (int, map[string]any, time.Duration, error) {
    var reader io.Reader
    if body != nil {
        b, _ := json.Marshal(body)
        reader = strings.NewReader(string(b))
    }
    req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
    if err != nil {
        return 0, nil, 0, err
    }
    req.Header.Set("Content-Type", "application/json")
    if driverID != "" {
        req.Header.Set("X-Driver-ID", driverID)
    }
    start := time.Now()
    resp, err := r.httpc.Do(req)
    if err != nil {
        return 0, nil, 0, err
    }
    defer resp.Body.Close()
    raw, _ := io.ReadAll(resp.Body)
    latency := time.Since(start)

    var out map[string]any
    _ = json.Unmarshal(raw, &out)
    return resp.StatusCode, out, latency, nil
}

func httpCase(name, method, path string, body any, driverID string, okStatuses []int) TestCase {
    return TestCase{
        Name:  name,
        Focus: "HTTP API",
        Run: func(ctx context.Context, r *Runner) Result {
            status, _, latency, err := r.call(ctx, method, path, body, driverID)
            if err != nil {
                return Result{Status: "FAIL", Note: err.Error()}
            }
            if contains(okStatuses, status) {
                return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
            }
            if status == http.StatusNotFound || status == http.StatusNotImplemented {
                return Result{Status: "PENDING", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
            }
            return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
        },
    }
}

func driverCase(name, method, path string, body any, okStatuses []int) TestCase {
    return TestCase{
        Name:  name,
        Focus: "driver API",
        Run: func(ctx context.Context, r *Runner) Result {
            return httpCase(name, method, path, body, r.cfg.DriverID, okStatuses).Run(ctx, r)
        },
    }
}

func stepCase(name, path, wantStep string) TestCase {
    return TestCase{
        Name:  name,
        Focus: "step transition",
        Run: func(ctx context.Context, r *Runner) Result {
            status, body, latency, err := r.call(ctx, http.MethodPost, path, nil, r.cfg.DriverID)
            if err != nil {
                return Result{Status: "FAIL", Note: err.Error()}
            }
            if status != http.StatusOK || body["step"] != wantStep {
                return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d step=%v", status, body["step"])}
            }
            return Result{Status: "PASS", Latency: latency}
        },
    }
}

func manualCase(name, note string) TestCase {
    return TestCase{
        Name:  name,
        Focus: "Manual",
        Run: func(ctx context.Context, r *Runner) Result {
            return Result{Status: "SKIP", Note: note}
        },
    }
}

func concurrentConfirm(ctx context.Context, r *Runner, path string) Result {
    wg := sync.WaitGroup{}
    succ := 0
    mu := sync.Mutex{}

    for i := 0; i < r.cfg.Concurrency; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            status, _, _, err := r.call(ctx, http.MethodPost, path, nil, r.cfg.DriverID)
            if err != nil {
                return
            }
            mu.Lock()
            if status == http.StatusOK {
                succ++
            }
            mu.Unlock()
        }()
    }
    wg.Wait()

    if succ == 1 {
        return Result{Status: "PASS", Note: fmt.Sprintf("success=%d", succ)}
    }
    return Result{Status: "FAIL", Note: fmt.Sprintf("success=%d", succ)}
}

func perfLoad(ctx context.Context, r *Runner, path string, payload any) Result {
    end := time.Now().Add(r.cfg.Duration)
    var count int64
    var errCount int64
    var mu sync.Mutex
    wg := sync.WaitGroup{}

    for i := 0; i < r.cfg.Concurrency; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            for time.Now().Before(end) {
                status, _, _, err := r.call(ctx, http.MethodPost, path, payload, r.cfg.DriverID)
                mu.Lock()
                if err != nil || status >= 500 {
                    errCount++
                } else {
                    count++
                }
                mu.Unlock()
                if ctx.Err() != nil {
                    return
                }
            }
        }()
    }
    wg.Wait()

    if count == 0 {
        return Result{Status: "FAIL", Note: "no requests completed"}
    }
    rps := float64(count) / r.cfg.Duration.Seconds()
    return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func seedOrder(ctx context.Context, db *pgxpool.Pool, driverID string) (string, error) {
    var customerID, merchantID, orderID string
    if err := db.QueryRow(ctx, `INSERT INTO profiles (full_name, phone) VALUES ('Bench Customer', '+966500000001') RETURNING id::text`).Scan(&customerID); err != nil {
        return "", fmt.Errorf("seed profile: %w", err)
    }
    if err := db.QueryRow(ctx, `
        INSERT INTO merchants (name, address, latitude, longitude)
        VALUES ('Bench Kitchen', 'King Fahd Rd', 24.711000, 46.674000)
        RETURNING id::text`).Scan(&merchantID); err != nil {
        return "", fmt.Errorf("seed merchant: %w", err)
    }
    if err := db.QueryRow(ctx, `
        INSERT INTO orders (order_number, driver_id, customer_id, merchant_id, status,
                            delivery_address, delivery_latitude, delivery_longitude, total, delivery_fee)
        VALUES ('BENCH-' || to_char(NOW(), 'HH24MISS'), $1, $2, $3, 'accepted', 'Olaya St 12', 24.690000, 46.680000, 58, 9)
        RETURNING id::text`, driverID, customerID, merchantID).Scan(&orderID); err != nil {
        return "", fmt.Errorf("seed order: %w", err)
    }
    if _, err := db.Exec(ctx, `INSERT INTO order_items (order_id, name, quantity) VALUES ($1, 'Shawarma plate', 2)`, orderID); err != nil {
        return "", fmt.Errorf("seed items: %w", err)
    }
    return orderID, nil
}

func contains(list []int, v int) bool {
    for _, i := range list {
        if i == v {
            return true
        }
    }
    return false
}

func extractTables(path string) ([]string, error) {
    b, err := os.ReadFile(path)
    if err != nil {
        return nil, err
    }
    re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
    matches := re.FindAllStringSubmatch(string(b), -1)
    tables := make([]string, 0, len(matches))
    for _, m := range matches {
        tables = append(tables, m[1])
    }
    return tables, nil
}
