package fetcher

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "wednesday/1.0"
	maxPayloadEcho   = 512
)

// Options parameterise one HTTP JSON provider.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	APIKey    string
}

type jsonSource struct {
	provider  string
	baseURL   string
	userAgent string
	headers   map[string]string
	client    *http.Client
	logger    zerolog.Logger
}

func newJSONSource(provider, fallbackURL string, opts Options, logger zerolog.Logger) *jsonSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = fallbackURL
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	return &jsonSource{
		provider:  provider,
		baseURL:   baseURL,
		userAgent: ua,
		headers:   map[string]string{},
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", provider+"_fetcher").Logger(),
	}
}

// getObject performs a GET and returns the decoded top-level JSON object.
// Transport failures are returned untouched so the retry layer treats them
// as transient.
func (s *jsonSource) getObject(ctx context.Context, path string, query url.Values) (map[string]any, string, error) {
	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create %s request: %w", s.provider, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%s request: %w", s.provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read %s response: %w", s.provider, err)
	}
	raw := echo(body)

	var decoded any
	if err := sonic.Unmarshal(body, &decoded); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, raw, &StatusError{Provider: s.provider, Status: resp.StatusCode, Body: raw}
		}
		return nil, raw, &FieldError{Provider: s.provider, Field: "$", Reason: "is not valid JSON", Payload: raw}
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		if resp.StatusCode != http.StatusOK {
			return nil, raw, &StatusError{Provider: s.provider, Status: resp.StatusCode, Body: raw}
		}
		return nil, raw, &FieldError{Provider: s.provider, Field: "$", Reason: "is not a JSON object", Payload: raw}
	}

	if upstream := detectUpstreamError(s.provider, resp.StatusCode, obj); upstream != nil {
		s.logger.Warn().Int("status", resp.StatusCode).Int64("code", upstream.Code).Str("message", upstream.Message).Msg("upstream returned error payload")
		return nil, raw, upstream
	}
	if resp.StatusCode != http.StatusOK {
		return nil, raw, &StatusError{Provider: s.provider, Status: resp.StatusCode, Body: raw}
	}
	return obj, raw, nil
}

// detectUpstreamError recognises the two error shapes used by the providers:
// {"code": -1121, "msg": "..."} and {"status": {"error_code": 1001, "error_message": "..."}}.
func detectUpstreamError(provider string, status int, obj map[string]any) *UpstreamError {
	if msg, ok := obj["msg"].(string); ok {
		if code, ok := obj["code"].(float64); ok {
			return &UpstreamError{Provider: provider, Status: status, Code: int64(code), Message: msg}
		}
	}
	if st, ok := obj["status"].(map[string]any); ok {
		code, _ := st["error_code"].(float64)
		msg, _ := st["error_message"].(string)
		if code != 0 || msg != "" {
			return &UpstreamError{Provider: provider, Status: status, Code: int64(code), Message: msg}
		}
	}
	if msg, ok := obj["error"].(string); ok && msg != "" {
		return &UpstreamError{Provider: provider, Status: status, Message: msg}
	}
	return nil
}

// numberAt walks nested objects and returns a finite number. String-encoded
// decimals are accepted.
func numberAt(provider, raw string, obj map[string]any, path ...string) (float64, error) {
	field := strings.Join(path, ".")
	var cur any = obj
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0, &FieldError{Provider: provider, Field: field, Reason: "has a non-object parent", Payload: raw}
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return 0, &FieldError{Provider: provider, Field: field, Reason: "is missing", Payload: raw}
		}
	}

	var value float64
	switch v := cur.(type) {
	case float64:
		value = v
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return 0, &FieldError{Provider: provider, Field: field, Reason: "is not a number", Payload: raw}
		}
		value = d.InexactFloat64()
	default:
		return 0, &FieldError{Provider: provider, Field: field, Reason: fmt.Sprintf("has type %T", cur), Payload: raw}
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, &FieldError{Provider: provider, Field: field, Reason: "is not finite", Payload: raw}
	}
	return value, nil
}

func echo(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxPayloadEcho {
		return s[:maxPayloadEcho] + "..."
	}
	return s
}
