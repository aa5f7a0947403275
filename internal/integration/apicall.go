package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// maxResponseBody is the maximum HTTP response body kept by api_call and
// graphql (10MB).
const maxResponseBody = 10 << 20

// APICall performs one HTTP request and records the response.
type APICall struct {
	client *http.Client
	vars   VariableSource
	log    *slog.Logger
}

// NewAPICall creates the api_call integration.
func NewAPICall(d Deps) *APICall {
	d = d.withFallbacks()
	return &APICall{client: d.HTTPClient, vars: d.Variables, log: d.Logger}
}

func (a *APICall) Description() string {
	return "HTTP request against base_url + endpoint; records status, headers and body"
}

type apiCallInputs struct {
	BaseURL  string            `json:"base_url" validate:"required,url"`
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	Headers  map[string]string `json:"headers"`
	Params   map[string]any    `json:"params"`
	Body     any               `json:"body"`
	Timeout  float64           `json:"timeout" validate:"gte=0"`
}

func (a *APICall) parse(ctx context.Context, inputs model.Object) (apiCallInputs, error) {
	var in apiCallInputs
	merged, err := withDefaults(ctx, a.vars, TypeAPICall, inputs)
	if err != nil {
		return in, err
	}
	if m, ok := merged["method"].(string); ok {
		merged["method"] = strings.ToUpper(m)
	}
	if err := decodeInputs(merged, &in); err != nil {
		return in, err
	}
	if in.Method == "" {
		in.Method = http.MethodGet
	}
	return in, nil
}

// ValidateInputs merges defaults and checks the request description.
func (a *APICall) ValidateInputs(ctx context.Context, inputs model.Object) error {
	_, err := a.parse(ctx, inputs)
	return err
}

// Execute sends the request. Any HTTP status is a successful execution; only
// transport failures are errors.
func (a *APICall) Execute(ctx context.Context, inputs model.Object) (*Result, error) {
	in, err := a.parse(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if in.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(in.Timeout*float64(time.Second)))
		defer cancel()
	}

	target, err := joinURL(in.BaseURL, in.Endpoint, in.Params)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := ""
	switch b := in.Body.(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
		contentType = "text/plain; charset=utf-8"
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, in.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", in.Method, target, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	elapsed := time.Since(start)

	respBody, isJSON := parseBody(raw)
	headers := flattenHeaders(resp.Header)
	a.log.Debug("api call finished", "method", in.Method, "url", target, "status", resp.StatusCode, "duration", elapsed)

	outputs := model.Object{
		"status_code":      resp.StatusCode,
		"headers":          headers,
		"body":             respBody,
		"duration_seconds": elapsed.Seconds(),
		"is_json_response": isJSON,
		"url":              target,
		"method":           in.Method,
	}

	request, err := jsonArtifact(map[string]any{
		"method":  in.Method,
		"url":     target,
		"headers": in.Headers,
		"body":    in.Body,
	}, model.Object{"kind": "request"})
	if err != nil {
		return nil, err
	}
	response, err := jsonArtifact(map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        respBody,
	}, model.Object{"kind": "response"})
	if err != nil {
		return nil, err
	}
	return &Result{Outputs: outputs, Artifacts: []ArtifactData{request, response}}, nil
}

// joinURL appends endpoint to base with exactly one slash between them and
// adds params to the query string.
func joinURL(base, endpoint string, params map[string]any) (string, error) {
	full := base
	if endpoint != "" {
		full = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/")
	}
	u, err := url.Parse(full)
	if err != nil {
		return "", model.InvalidInput("url %q: %v", full, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// parseBody decodes a JSON body when possible and otherwise returns it as
// text.
func parseBody(raw []byte) (any, bool) {
	if len(bytes.TrimSpace(raw)) == 0 || !json.Valid(raw) {
		return string(raw), false
	}
	v, err := model.DecodeValue(raw)
	if err != nil {
		return string(raw), false
	}
	return v, true
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
