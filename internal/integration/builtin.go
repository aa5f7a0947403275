package integration

import (
	"log/slog"
	"net/http"
	"time"
)

// Built-in entry types.
const (
	TypeCustom        = "custom"
	TypeAPICall       = "api_call"
	TypeGraphQL       = "graphql"
	TypeDatabaseQuery = "database_query"
	TypeComfyUI       = "comfyui"
	TypeWebExtract    = "web_extract"
)

// Deps are the collaborators shared by the built-in integrations.
type Deps struct {
	// HTTPClient is used by every HTTP-based integration. Defaults to a
	// client with a 60 second timeout.
	HTTPClient *http.Client
	// Variables supplies stored defaults. Nil disables default merging.
	Variables VariableSource
	Logger    *slog.Logger
}

func (d Deps) withFallbacks() Deps {
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// Builtins returns the compiled-in integrations keyed by entry type.
func Builtins(d Deps) map[string]Integration {
	d = d.withFallbacks()
	return map[string]Integration{
		TypeCustom:        &Custom{},
		TypeAPICall:       NewAPICall(d),
		TypeGraphQL:       NewGraphQL(d),
		TypeDatabaseQuery: NewDatabaseQuery(d),
		TypeComfyUI:       NewComfyUI(d),
		TypeWebExtract:    NewWebExtract(d),
	}
}

// NewDefaultRegistry returns a Registry holding every built-in integration.
func NewDefaultRegistry(d Deps) *Registry {
	r := NewRegistry()
	for t, impl := range Builtins(d) {
		r.MustRegister(t, impl)
	}
	return r
}
