package integration

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/yangwenmai/labnotebook/internal/model"
)

// Custom records manual observations. It echoes inputs.outputs as the
// entry's outputs and turns inputs.artifacts into stored artifacts. A
// non-empty inputs.fail string makes the execution fail with that message.
type Custom struct{}

func (c *Custom) Description() string {
	return "Manual entry: outputs and artifacts are supplied in the inputs"
}

type customArtifact struct {
	Type     string       `json:"type" validate:"required"`
	Data     string       `json:"data"`
	Encoding string       `json:"encoding" validate:"omitempty,oneof=text base64"`
	Metadata model.Object `json:"metadata"`
}

type customInputs struct {
	Outputs   model.Object     `json:"outputs"`
	Artifacts []customArtifact `json:"artifacts" validate:"dive"`
	Fail      string           `json:"fail"`
}

// ValidateInputs checks the shape of outputs and artifacts.
func (c *Custom) ValidateInputs(_ context.Context, inputs model.Object) error {
	var in customInputs
	return decodeInputs(inputs, &in)
}

// Execute returns the supplied outputs and artifacts.
func (c *Custom) Execute(_ context.Context, inputs model.Object) (*Result, error) {
	var in customInputs
	if err := decodeInputs(inputs, &in); err != nil {
		return nil, err
	}
	if in.Fail != "" {
		return nil, errors.New(in.Fail)
	}

	res := &Result{Outputs: in.Outputs}
	if res.Outputs == nil {
		res.Outputs = model.Object{}
	}
	for i, a := range in.Artifacts {
		data := []byte(a.Data)
		if a.Encoding == "base64" {
			b, err := base64.StdEncoding.DecodeString(a.Data)
			if err != nil {
				return nil, fmt.Errorf("artifact %d: %w", i, err)
			}
			data = b
		}
		res.Artifacts = append(res.Artifacts, ArtifactData{Type: a.Type, Data: data, Metadata: a.Metadata})
	}
	return res, nil
}
