// Package integration defines the executable capabilities bound to entry
// types, the registry that dispatches to them, and the built-in set.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// Integration executes an entry's inputs. An error means nothing in the
// Result is used; implementations never return partial outputs with an
// error.
type Integration interface {
	Execute(ctx context.Context, inputs model.Object) (*Result, error)
}

// InputValidator is implemented by integrations that can check inputs ahead
// of execution. The engine never calls it; API and CLI callers do.
type InputValidator interface {
	ValidateInputs(ctx context.Context, inputs model.Object) error
}

// Describer is implemented by integrations that document themselves in
// listings.
type Describer interface {
	Description() string
}

// Result is what a successful execution returns.
type Result struct {
	Outputs   model.Object
	Artifacts []ArtifactData
}

// ArtifactData is a raw artifact produced by an execution, ingested by the
// engine through the content store.
type ArtifactData struct {
	Type     string
	Data     []byte
	Metadata model.Object
}

// Func adapts a function to the Integration interface.
type Func func(ctx context.Context, inputs model.Object) (*Result, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, inputs model.Object) (*Result, error) {
	return f(ctx, inputs)
}

// VariableSource lists stored default variables for an integration type.
type VariableSource interface {
	ListVariables(ctx context.Context, integrationType string) ([]model.IntegrationVariable, error)
}

// MergeDefaults layers inputs over the stored defaults. Object-valued
// defaults are merged one level deep with the matching input; any other
// input value replaces its default.
func MergeDefaults(defaults []model.IntegrationVariable, inputs model.Object) model.Object {
	base := make(model.Object, len(defaults))
	for _, v := range defaults {
		base[v.Name] = v.Value
	}
	return model.MergeOneLevel(base, inputs)
}

// withDefaults loads the defaults for integrationType from vars and merges
// inputs over them. A nil source leaves inputs unchanged.
func withDefaults(ctx context.Context, vars VariableSource, integrationType string, inputs model.Object) (model.Object, error) {
	if vars == nil {
		return inputs.Clone(), nil
	}
	defaults, err := vars.ListVariables(ctx, integrationType)
	if err != nil {
		return nil, fmt.Errorf("load %s defaults: %w", integrationType, err)
	}
	return MergeDefaults(defaults, inputs), nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeInputs copies inputs into dst through JSON and validates the result
// against its struct tags.
func decodeInputs(inputs model.Object, dst any) error {
	raw, err := json.Marshal(inputs)
	if err != nil {
		return model.InvalidInput("encode inputs: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return model.InvalidInput("inputs: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return model.InvalidInput("inputs: %v", err)
	}
	return nil
}

func jsonArtifact(v any, meta model.Object) (ArtifactData, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ArtifactData{}, err
	}
	return ArtifactData{Type: "application/json", Data: b, Metadata: meta}, nil
}
