package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/liamcoop/creditapproval/internal/logger"
)

var (
	name    = "credit-smoke"
	version = "v0.0.1-default"
)

var (
	urlFlag = &cli.StringFlag{
		Name:    "url",
		Usage:   "Base URL of a running credit approval API",
		Value:   "http://localhost:8000",
		EnvVars: []string{"CREDIT_API_URL"},
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Per-request timeout",
		Value: 10 * time.Second,
	}
	logLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "TRACE, DEBUG, INFO, WARN or ERROR",
		Value:   "INFO",
		EnvVars: []string{"LOG_LEVEL"},
	}
)

// check is one request against the API and the response it must produce
type check struct {
	name   string
	method string
	path   string
	body   string
	status int
	verify func(body map[string]any) error
}

var checks = []check{
	{
		name:   "health",
		method: http.MethodGet,
		path:   "/api/v1/health",
		status: http.StatusOK,
		verify: func(b map[string]any) error {
			if b["status"] != "healthy" {
				return fmt.Errorf("status is %v, want healthy", b["status"])
			}
			return nil
		},
	},
	{
		name:   "predict good profile",
		method: http.MethodPost,
		path:   "/api/v1/predict",
		body:   `{"age": 35, "income": 50000, "credit_score": 750, "loan_amount": 20000, "employment_years": 8, "existing_debts": 5000}`,
		status: http.StatusOK,
		verify: hasPredictionFields,
	},
	{
		name:   "predict risky profile",
		method: http.MethodPost,
		path:   "/api/v1/predict",
		body:   `{"age": 25, "income": 25000, "credit_score": 550, "loan_amount": 30000, "employment_years": 1, "existing_debts": 15000}`,
		status: http.StatusOK,
		verify: hasPredictionFields,
	},
	{
		name:   "predict premium profile",
		method: http.MethodPost,
		path:   "/api/v1/predict",
		body:   `{"age": 45, "income": 100000, "credit_score": 820, "loan_amount": 50000, "employment_years": 20, "existing_debts": 0}`,
		status: http.StatusOK,
		verify: func(b map[string]any) error {
			if b["approved"] != true || b["risk_level"] != "low" {
				return fmt.Errorf("got approved=%v risk_level=%v, want true/low", b["approved"], b["risk_level"])
			}
			return nil
		},
	},
	{
		name:   "reject negative age",
		method: http.MethodPost,
		path:   "/api/v1/predict",
		body:   `{"age": -5, "income": 50000, "credit_score": 750, "loan_amount": 20000, "employment_years": 8, "existing_debts": 5000}`,
		status: http.StatusUnprocessableEntity,
	},
	{
		name:   "reject missing fields",
		method: http.MethodPost,
		path:   "/api/v1/predict",
		body:   `{"age": 35}`,
		status: http.StatusUnprocessableEntity,
	},
}

func hasPredictionFields(b map[string]any) error {
	for _, k := range []string{"approved", "approval_probability", "risk_level"} {
		if _, ok := b[k]; !ok {
			return fmt.Errorf("response has no %s", k)
		}
	}
	return nil
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger.Fatal("smoke test failed", "error", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:     name,
		Version:  version,
		Compiled: time.Now(),
		Usage:    "Run end-to-end checks against a running credit approval API",
		Flags:    []cli.Flag{urlFlag, timeoutFlag, logLevelFlag},
		Action: func(c *cli.Context) error {
			log, err := logger.Setup(c.Context, logger.Options{Level: c.String(logLevelFlag.Name)})
			if err != nil {
				log.Warn("invalid log level", "error", err)
			}
			client := &http.Client{Timeout: c.Duration(timeoutFlag.Name)}
			return run(c.Context, client, c.String(urlFlag.Name), log)
		},
	}
}

// run executes every check in order and stops at the first failure
func run(ctx context.Context, client *http.Client, baseURL string, log *slog.Logger) error {
	baseURL = strings.TrimRight(baseURL, "/")
	for _, ch := range checks {
		if err := ch.run(ctx, client, baseURL); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
		log.Info("check passed", "check", ch.name)
	}
	log.Info("all checks passed", "checks", len(checks), "url", baseURL)
	return nil
}

func (ch check) run(ctx context.Context, client *http.Client, baseURL string) error {
	var body io.Reader
	if ch.body != "" {
		body = bytes.NewBufferString(ch.body)
	}
	req, err := http.NewRequestWithContext(ctx, ch.method, baseURL+ch.path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != ch.status {
		return fmt.Errorf("status %d, want %d: %s", resp.StatusCode, ch.status, strings.TrimSpace(string(raw)))
	}
	if ch.verify == nil {
		return nil
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("invalid JSON response: %w", err)
	}
	return ch.verify(decoded)
}
