package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/labnotebook/internal/model"
	"github.com/yangwenmai/labnotebook/internal/workspace"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(notebookList{{ID: "nb-1", Title: "One"}})
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   []model.Notebook `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "nb-1", resp.Data[0].ID)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("not_found", "entry not found", map[string]string{"id": "entry-x"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)
	assert.Equal(t, "entry not found", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("nb-123"))
	assert.Equal(t, "nb-123\n", buf.String())

	buf.Reset()
	require.NoError(t, formatter.Success(notebookList{}))
	assert.Equal(t, "No notebooks.\n", buf.String())
}

func TestOutputFormatter_TextErrorGoesToErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut, Verbose: true}

	require.NoError(t, formatter.Error("failed", "boom", "more"))
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Error [failed]: boom")
	assert.Contains(t, errOut.String(), "Details: more")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}
	formatter.VerboseLog("hidden %d", 1)
	assert.Empty(t, buf.String())

	formatter.Verbose = true
	formatter.VerboseLog("shown %d", 2)
	assert.Equal(t, "shown 2\n", buf.String())
}

func TestExitError(t *testing.T) {
	inner := errors.New("disk full")
	err := WrapExitError(ExitStorage, "store blob", inner)
	assert.Equal(t, "store blob: disk full", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, ExitStorage, GetExitCode(fmt.Errorf("outer: %w", err)))
	assert.Equal(t, ExitFailure, GetExitCode(inner))
	assert.Equal(t, "plain", NewExitError(ExitUsage, "plain").Error())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", model.NotFound("entry", "entry-x"), ExitNotFound},
		{"invalid input", model.InvalidInput("title is required"), ExitUsage},
		{"bad reference", &model.ReferenceError{Field: "parent_id", ID: "entry-x"}, ExitUsage},
		{"unknown integration", &model.UnknownIntegrationError{Type: "nope"}, ExitUsage},
		{"not initialized", workspace.ErrNotInitialized, ExitUsage},
		{"storage", &model.StorageError{Op: "write", Err: errors.New("eio")}, ExitStorage},
		{"integration", &model.IntegrationError{EntryType: "custom", Err: errors.New("boom")}, ExitFailure},
		{"integration wrapping invalid input", &model.IntegrationError{EntryType: "custom", Err: model.InvalidInput("bad")}, ExitFailure},
		{"other", errors.New("surprise"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			assert.Equal(t, tt.want, GetExitCode(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, classify("op", nil))
	pre := NewExitError(ExitUsage, "already classified")
	assert.Same(t, pre, classify("op", pre))
}
