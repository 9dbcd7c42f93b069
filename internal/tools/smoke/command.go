package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/identity-core/internal/tools/common"
	"github.com/sandeepkv93/identity-core/internal/tools/loadgen"
	"github.com/sandeepkv93/identity-core/internal/tools/ui"
)

type options struct {
	baseURL      string
	envFile      string
	ci           bool
	burst        int
	profile      string
	duration     time.Duration
	rps          int
	concurrency  int
	seed         uint64
	probeTimeout time.Duration
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "identityctl", Short: "Operator checks against a running identity core"}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional env file providing IDENTITYCTL_BASE_URL")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.PersistentFlags().DurationVar(&opts.probeTimeout, "timeout", 10*time.Second, "per-request timeout")
	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if err := common.LoadEnvFile(opts.envFile); err != nil {
			return err
		}
		if v := os.Getenv("IDENTITYCTL_BASE_URL"); v != "" && !cmd.Flags().Changed("base-url") {
			opts.baseURL = v
		}
		return nil
	}
	cmd.AddCommand(newCheckCommand(opts), newLoadCommand(opts))
	return cmd
}

func newCheckCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify health, auth rejection and login rate limiting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			details, err := run(opts, "identityctl check", func(ctx context.Context) ([]string, error) {
				return Check(ctx, newClient(opts.probeTimeout), opts.baseURL, opts.burst)
			})
			return finish(opts, "identityctl check", details, err)
		},
	}
	cmd.Flags().IntVar(&opts.burst, "burst", 0, "login attempts to send while waiting for a 429; 0 skips the rate limit probe")
	return cmd
}

func newLoadCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate paced traffic against the API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			details, err := run(opts, "identityctl loadgen", func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, loadgen.Config{
					BaseURL:     opts.baseURL,
					Profile:     opts.profile,
					Duration:    opts.duration,
					RPS:         opts.rps,
					Concurrency: opts.concurrency,
					Seed:        opts.seed,
				})
				if err != nil {
					return nil, err
				}
				details := []string{
					fmt.Sprintf("total=%d failures=%d rate_limited=%d", res.TotalRequests, res.Failures, res.RateLimited),
					fmt.Sprintf("2xx=%d 3xx=%d 4xx=%d 5xx=%d", res.ByStatusClass["2xx"], res.ByStatusClass["3xx"], res.ByStatusClass["4xx"], res.ByStatusClass["5xx"]),
				}
				if res.Failures > 0 {
					return details, fmt.Errorf("%d requests failed", res.Failures)
				}
				return details, nil
			})
			return finish(opts, "identityctl loadgen", details, err)
		},
	}
	cmd.Flags().StringVar(&opts.profile, "profile", "mixed", "traffic profile: health, auth, oauth or mixed")
	cmd.Flags().DurationVar(&opts.duration, "duration", 10*time.Second, "how long to send traffic")
	cmd.Flags().IntVar(&opts.rps, "rps", 20, "requests per second")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 4, "concurrent workers")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 42, "request mix seed")
	return cmd
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

func finish(opts *options, title string, details []string, err error) error {
	if opts.ci {
		common.PrintCIResult(err == nil, title, details, err)
	}
	if err != nil {
		os.Exit(4)
	}
	return nil
}

func newClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
}

type probe struct {
	name       string
	method     string
	path       string
	body       string
	wantStatus int
	wantCode   string
}

var probes = []probe{
	{name: "live", method: http.MethodGet, path: "/health/live", wantStatus: http.StatusOK},
	{name: "ready", method: http.MethodGet, path: "/health/ready", wantStatus: http.StatusOK},
	{name: "me without session", method: http.MethodGet, path: "/api/v1/me", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
	{
		name:       "login with bad credentials",
		method:     http.MethodPost,
		path:       "/api/v1/auth/login",
		body:       `{"email":"identityctl-probe@example.invalid","password":"definitely-wrong"}`,
		wantStatus: http.StatusUnauthorized,
		wantCode:   "INVALID_CREDENTIALS",
	},
}

// Check runs the fixed probes, then optionally hammers login until the limiter answers 429.
func Check(ctx context.Context, client *http.Client, baseURL string, burst int) ([]string, error) {
	base := strings.TrimRight(baseURL, "/")
	var details []string
	for _, p := range probes {
		resp, err := do(ctx, client, base, p.method, p.path, p.body)
		if err != nil {
			return details, fmt.Errorf("%s: %w", p.name, err)
		}
		if resp.status != p.wantStatus {
			return details, fmt.Errorf("%s: expected %d, got %d", p.name, p.wantStatus, resp.status)
		}
		if p.wantCode != "" && resp.code != p.wantCode {
			return details, fmt.Errorf("%s: expected error code %s, got %q", p.name, p.wantCode, resp.code)
		}
		details = append(details, p.name+": ok")
	}
	if burst <= 0 {
		return details, nil
	}
	login := probes[len(probes)-1]
	for i := 1; i <= burst; i++ {
		resp, err := do(ctx, client, base, login.method, login.path, login.body)
		if err != nil {
			return details, fmt.Errorf("rate limit probe: %w", err)
		}
		if resp.status == http.StatusTooManyRequests {
			if resp.retryAfter == "" {
				return details, fmt.Errorf("rate limit probe: 429 without Retry-After")
			}
			return append(details, fmt.Sprintf("rate limited after %d attempts, retry after %ss", i, resp.retryAfter)), nil
		}
	}
	return details, fmt.Errorf("rate limit probe: no 429 after %d attempts", burst)
}

type probeResponse struct {
	status     int
	code       string
	retryAfter string
}

func do(ctx context.Context, client *http.Client, base, method, path, body string) (probeResponse, error) {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return probeResponse{}, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return probeResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	var payload struct {
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return probeResponse{}, err
	}
	out := probeResponse{status: resp.StatusCode, retryAfter: resp.Header.Get("Retry-After")}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != nil {
		out.code = payload.Error.Code
	}
	return out, nil
}
