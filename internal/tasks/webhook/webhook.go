package webhook

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/wip/internal/engine"
	"github.com/shaiso/wip/internal/scope"
)

// TaskType — имя типа task.
const TaskType = "webhook"

const tableSource = `
start {
  * call
}

call:response action=request link=http {
  ok    finish
  retry call wait=10 max=5
  fail  failure
  !     failure
}

failure {
  * finish
}
`

// Table — таблица состояний с настройками по умолчанию.
var Table = engine.MustCompile(tableSource)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 64 * 1024
)

var (
	keyStatusCode = scope.NewKey[int]("status_code")
	keyStatus     = scope.NewKey[string]("status")
	keyBody       = scope.NewKey[any]("body")
	keyError      = scope.NewKey[string]("error")
)

// Config — конфигурация Webhook.
type Config struct {
	// Client — HTTP клиент. По умолчанию собирается по inputs запроса.
	Client *http.Client

	// RetryWait и MaxRetries — повторы при временных ошибках.
	// По умолчанию 10s и 5.
	RetryWait  time.Duration
	MaxRetries int
}

// Webhook реализует actions и evaluators типа webhook.
type Webhook struct {
	client *http.Client
	def    *engine.Definition
}

// New создаёт Webhook и его Definition.
func New(cfg Config) (*Webhook, error) {
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}

	table, err := Table.WithRule("call", "retry", func(r *engine.Rule) {
		r.Wait = cfg.RetryWait
		r.Max = cfg.MaxRetries
	})
	if err != nil {
		return nil, err
	}

	w := &Webhook{client: cfg.Client}
	w.def, err = engine.NewDefinition(TaskType, table,
		engine.WithAction("request", w.request),
		engine.WithEvaluator("response", w.response),
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Definition возвращает Definition для engine.Registry.
func (w *Webhook) Definition() *engine.Definition {
	return w.def
}

// request выполняет запрос. Сетевая ошибка сохраняется в scope,
// а не возвращается: её классифицирует evaluator.
func (w *Webhook) request(ctx context.Context, sc *engine.StepContext) error {
	cfg, err := parseInputs(sc.Inputs)
	if err != nil {
		sc.SetExit(2, err.Error())
		return err
	}

	for _, k := range []string{keyStatusCode.Name, keyStatus.Name, keyBody.Name, keyError.Name} {
		sc.Scope.Delete(k)
	}

	req, err := buildRequest(ctx, cfg)
	if err != nil {
		sc.SetExit(2, err.Error())
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := w.buildClient(cfg).Do(req)
	if err != nil {
		scope.Set(sc.Scope, keyError, err.Error())
		sc.Logger.Warn("webhook request failed", "url", cfg.URL, "error", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := parseBody(resp)
	if err != nil {
		scope.Set(sc.Scope, keyError, err.Error())
		return nil
	}
	scope.Set(sc.Scope, keyStatusCode, resp.StatusCode)
	scope.Set(sc.Scope, keyStatus, resp.Status)
	scope.Set(sc.Scope, keyBody, body)
	sc.Logger.Info("webhook response", "url", cfg.URL, "status_code", resp.StatusCode)
	return nil
}

// response классифицирует сохранённый ответ.
func (w *Webhook) response(_ context.Context, sc *engine.StepContext) (string, error) {
	if msg := scope.MustGet(sc.Scope, keyError); msg != "" {
		sc.SetExit(1, "request failed: "+msg)
		return "retry", nil
	}

	code := scope.MustGet(sc.Scope, keyStatusCode)
	herr := &HTTPError{StatusCode: code, Status: scope.MustGet(sc.Scope, keyStatus)}
	switch {
	case code >= 200 && code < 300:
		sc.SetExit(0, fmt.Sprintf("HTTP %d", code))
		return "ok", nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		sc.SetExit(1, herr.Error())
		return "retry", nil
	default:
		sc.SetExit(1, herr.Error())
		return "fail", nil
	}
}

// requestConfig — разобранные inputs.
type requestConfig struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        any
	ValidateSSL bool
	Timeout     time.Duration
}

func parseInputs(in map[string]any) (*requestConfig, error) {
	cfg := &requestConfig{
		Method:      strings.ToUpper(inputString(in, "method")),
		URL:         inputString(in, "url"),
		Headers:     map[string]string{},
		Body:        in["body"],
		ValidateSSL: true,
		Timeout:     defaultTimeout,
	}
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
		if cfg.Body != nil {
			cfg.Method = http.MethodPost
		}
	}
	if h, ok := in["headers"].(map[string]any); ok {
		for k, v := range h {
			if s, ok := v.(string); ok {
				cfg.Headers[k] = s
			}
		}
	}
	if b, ok := in["validate_ssl"].(bool); ok {
		cfg.ValidateSSL = b
	}
	switch n := in["timeout_sec"].(type) {
	case float64:
		if n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	case int:
		if n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	return cfg, nil
}

func inputString(in map[string]any, key string) string {
	s, _ := in[key].(string)
	return s
}

func (w *Webhook) buildClient(cfg *requestConfig) *http.Client {
	if w.client != nil {
		return w.client
	}
	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.ValidateSSL},
		},
	}
}

func buildRequest(ctx context.Context, cfg *requestConfig) (*http.Request, error) {
	var body io.Reader
	if cfg.Body != nil {
		data, err := serializeBody(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		body = bytes.NewReader(data)
		if _, ok := cfg.Headers["Content-Type"]; !ok {
			cfg.Headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func serializeBody(body any) ([]byte, error) {
	if s, ok := body.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(body)
}

// parseBody читает ответ; JSON разбирается, остальное хранится строкой.
func parseBody(resp *http.Response) (any, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
	}
	return string(data), nil
}
