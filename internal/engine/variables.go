package engine

import (
	"context"

	"github.com/yangwenmai/labnotebook/internal/integration"
	"github.com/yangwenmai/labnotebook/internal/model"
)

// SetVariable creates or replaces a default variable for a registered
// integration.
func (e *Engine) SetVariable(ctx context.Context, v model.IntegrationVariable) (*model.IntegrationVariable, error) {
	if !e.registry.Has(v.IntegrationType) {
		return nil, &model.UnknownIntegrationError{Type: v.IntegrationType}
	}
	if v.Name == "" {
		return nil, model.InvalidInput("variable name is required")
	}
	if err := e.repo.SetVariable(ctx, v); err != nil {
		return nil, err
	}
	saved, err := e.repo.GetVariable(ctx, v.IntegrationType, v.Name)
	if err != nil {
		return nil, err
	}
	masked := saved.Masked()
	return &masked, nil
}

// ListVariables returns the variables of one integration type, or of all
// types when integrationType is empty. Secret values are masked.
func (e *Engine) ListVariables(ctx context.Context, integrationType string) ([]model.IntegrationVariable, error) {
	vars, err := e.repo.ListVariables(ctx, integrationType)
	if err != nil {
		return nil, err
	}
	out := make([]model.IntegrationVariable, len(vars))
	for i, v := range vars {
		out[i] = v.Masked()
	}
	return out, nil
}

// GetVariable returns one variable with a secret value masked.
func (e *Engine) GetVariable(ctx context.Context, integrationType, name string) (*model.IntegrationVariable, error) {
	v, err := e.repo.GetVariable(ctx, integrationType, name)
	if err != nil {
		return nil, err
	}
	masked := v.Masked()
	return &masked, nil
}

func (e *Engine) DeleteVariable(ctx context.Context, integrationType, name string) error {
	ok, err := e.repo.DeleteVariable(ctx, integrationType, name)
	if err != nil {
		return err
	}
	if !ok {
		return model.NotFound("variable", integrationType+"/"+name)
	}
	return nil
}

// IntegrationTypes returns the registered entry types in sorted order.
func (e *Engine) IntegrationTypes() []string {
	return e.registry.List()
}

// Integrations describes the registered integrations.
func (e *Engine) Integrations() []integration.Info {
	return e.registry.Describe()
}

// ValidateInputs runs the pre-check of the integration registered for
// entryType. Integrations without a pre-check accept any inputs.
func (e *Engine) ValidateInputs(ctx context.Context, entryType string, inputs model.Object) error {
	impl, err := e.registry.Resolve(entryType)
	if err != nil {
		return err
	}
	if v, ok := impl.(integration.InputValidator); ok {
		return v.ValidateInputs(ctx, inputs)
	}
	return nil
}
