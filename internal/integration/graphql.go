package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// GraphQL posts a query to a GraphQL endpoint.
type GraphQL struct {
	client *http.Client
	vars   VariableSource
	log    *slog.Logger
}

// NewGraphQL creates the graphql integration.
func NewGraphQL(d Deps) *GraphQL {
	d = d.withFallbacks()
	return &GraphQL{client: d.HTTPClient, vars: d.Variables, log: d.Logger}
}

func (g *GraphQL) Description() string {
	return "GraphQL query or mutation; records data and errors"
}

type graphQLInputs struct {
	Endpoint      string            `json:"endpoint" validate:"required,url"`
	Query         string            `json:"query" validate:"required"`
	Variables     map[string]any    `json:"variables"`
	OperationName string            `json:"operation_name"`
	Headers       map[string]string `json:"headers"`
}

type graphQLError struct {
	Message string `json:"message"`
}

func (g *GraphQL) parse(ctx context.Context, inputs model.Object) (graphQLInputs, error) {
	var in graphQLInputs
	merged, err := withDefaults(ctx, g.vars, TypeGraphQL, inputs)
	if err != nil {
		return in, err
	}
	return in, decodeInputs(merged, &in)
}

// ValidateInputs merges defaults and checks endpoint and query.
func (g *GraphQL) ValidateInputs(ctx context.Context, inputs model.Object) error {
	_, err := g.parse(ctx, inputs)
	return err
}

// Execute sends the query. GraphQL-level errors are reported in the outputs;
// transport failures and non-JSON responses are execution errors.
func (g *GraphQL) Execute(ctx context.Context, inputs model.Object) (*Result, error) {
	in, err := g.parse(ctx, inputs)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"query": in.Query}
	if len(in.Variables) > 0 {
		payload["variables"] = in.Variables
	}
	if in.OperationName != "" {
		payload["operationName"] = in.OperationName
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, in.Endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", in.Endpoint, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("HTTP %d: response is not JSON: %w", resp.StatusCode, err)
	}

	var data any
	if len(envelope.Data) > 0 {
		if data, err = model.DecodeValue(envelope.Data); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	errs := []any{}
	var messages []string
	if len(envelope.Errors) > 0 && string(envelope.Errors) != "null" {
		var list []any
		if v, err := model.DecodeValue(envelope.Errors); err == nil {
			list, _ = v.([]any)
		}
		errs = append(errs, list...)
		var typed []graphQLError
		if err := json.Unmarshal(envelope.Errors, &typed); err == nil {
			for _, e := range typed {
				messages = append(messages, e.Message)
			}
		}
	}
	g.log.Debug("graphql finished", "endpoint", in.Endpoint, "status", resp.StatusCode, "errors", len(errs))

	outputs := model.Object{
		"data":          data,
		"errors":        errs,
		"has_errors":    len(errs) > 0,
		"error_message": strings.Join(messages, "; "),
		"status_code":   resp.StatusCode,
	}
	art, err := jsonArtifact(map[string]any{"data": data, "errors": errs}, model.Object{"kind": "response"})
	if err != nil {
		return nil, err
	}
	return &Result{Outputs: outputs, Artifacts: []ArtifactData{art}}, nil
}
