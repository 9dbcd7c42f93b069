package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        uint64
	Client      *http.Client
}

type Result struct {
	TotalRequests int
	Failures      int
	ByStatusClass map[string]int
	RateLimited   int
}

type request struct {
	method string
	path   string
	body   string
}

var profiles = map[string][]request{
	"health": {
		{method: http.MethodGet, path: "/health/live"},
		{method: http.MethodGet, path: "/health/ready"},
	},
	"auth": {
		{method: http.MethodPost, path: "/api/v1/auth/login", body: `{"email":"loadgen@example.com","password":"not-the-password"}`},
		{method: http.MethodGet, path: "/api/v1/me"},
	},
	"oauth": {
		{method: http.MethodGet, path: "/api/v1/auth/web/login/google"},
		{method: http.MethodGet, path: "/api/v1/auth/mobile/signup/discord"},
	},
}

func normalizeProfile(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "mixed"
	}
	return p
}

func requestsFor(profile string) ([]request, error) {
	if profile == "mixed" {
		var all []request
		for _, name := range []string{"health", "auth", "oauth"} {
			all = append(all, profiles[name]...)
		}
		return all, nil
	}
	reqs, ok := profiles[profile]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
	return reqs, nil
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

// Run paces requests at cfg.RPS across cfg.Concurrency workers for cfg.Duration. 4xx responses are
// expected for the auth profiles and only transport errors and 5xx count as failures.
func Run(ctx context.Context, cfg Config) (Result, error) {
	reqs, err := requestsFor(normalizeProfile(cfg.Profile))
	if err != nil {
		return Result{}, err
	}
	if cfg.RPS <= 0 || cfg.Concurrency <= 0 || cfg.Duration <= 0 {
		return Result{}, fmt.Errorf("rps, concurrency and duration must be positive")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout:       10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	pace, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	jobs := make(chan request)
	res := Result{ByStatusClass: map[string]int{}}
	var mu sync.Mutex
	record := func(status int, failed bool) {
		mu.Lock()
		defer mu.Unlock()
		res.TotalRequests++
		if failed {
			res.Failures++
			return
		}
		res.ByStatusClass[classifyStatusClass(status)]++
		if status == http.StatusTooManyRequests {
			res.RateLimited++
		}
		if status >= 500 {
			res.Failures++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for range cfg.Concurrency {
		g.Go(func() error {
			for job := range jobs {
				status, err := send(gctx, client, base, job)
				record(status, err != nil)
			}
			return nil
		})
	}

	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()
produce:
	for {
		select {
		case <-pace.Done():
			break produce
		case <-ticker.C:
			select {
			case jobs <- reqs[rng.IntN(len(reqs))]:
			case <-pace.Done():
				break produce
			}
		}
	}
	close(jobs)
	_ = g.Wait()
	return res, nil
}

func send(ctx context.Context, client *http.Client, base string, job request) (int, error) {
	var body io.Reader
	if job.body != "" {
		body = bytes.NewBufferString(job.body)
	}
	req, err := http.NewRequestWithContext(ctx, job.method, base+job.path, body)
	if err != nil {
		return 0, err
	}
	if job.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
