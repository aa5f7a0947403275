package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestNewEntry(t *testing.T) {
	e := NewEntry("entry-1", "page-1", "custom", "First", Object{"x": 1}, nil, []string{"b", " a ", "b", ""})

	assert.Equal(t, StatusCreated, e.Status)
	assert.Equal(t, []string{"a", "b"}, e.Tags)
	assert.Empty(t, e.Outputs)
	assert.Empty(t, e.Metrics)
	assert.Nil(t, e.Execution)
	assert.Equal(t, "", e.Metadata["notes"])
	assert.Equal(t, false, e.Metadata["archived"])
	assert.Nil(t, e.Metadata["rating"])
	assert.NotEmpty(t, e.CreatedAt)
	assert.Equal(t, e.CreatedAt, e.UpdatedAt)
}

func TestMergeOneLevel(t *testing.T) {
	tests := []struct {
		name      string
		base      Object
		overrides Object
		want      string
	}{
		{
			name:      "scalar added",
			base:      Object{"prompt": "x", "seed": 42},
			overrides: Object{"cfg": 10.5},
			want:      `{"cfg":10.5,"prompt":"x","seed":42}`,
		},
		{
			name:      "object merged key by key",
			base:      Object{"headers": map[string]any{"X-Old": "v2"}},
			overrides: Object{"headers": map[string]any{"X-New": "v"}},
			want:      `{"headers":{"X-New":"v","X-Old":"v2"}}`,
		},
		{
			name:      "scalar replaces object",
			base:      Object{"headers": map[string]any{"X-Old": "v2"}},
			overrides: Object{"headers": "none"},
			want:      `{"headers":"none"}`,
		},
		{
			name:      "nested objects replaced below first level",
			base:      Object{"a": map[string]any{"b": map[string]any{"c": 1, "d": 2}}},
			overrides: Object{"a": map[string]any{"b": map[string]any{"c": 3}}},
			want:      `{"a":{"b":{"c":3}}}`,
		},
		{
			name:      "nil base",
			base:      nil,
			overrides: Object{"x": 2},
			want:      `{"x":2}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, mustJSON(t, MergeOneLevel(tt.base, tt.overrides)))
		})
	}
}

func TestMergeOneLevel_DoesNotMutateBase(t *testing.T) {
	base := Object{"headers": map[string]any{"X-Old": "v2"}}
	_ = MergeOneLevel(base, Object{"headers": map[string]any{"X-New": "v"}})

	assert.JSONEq(t, `{"headers":{"X-Old":"v2"}}`, mustJSON(t, base), "base mutated")
}

func TestDecodeObject_PreservesNumbers(t *testing.T) {
	o, err := DecodeObject([]byte(`{"big": 12345678901234567890, "f": 1.50}`))
	require.NoError(t, err)
	assert.Equal(t, "12345678901234567890", fmt.Sprint(o["big"]))
	assert.Equal(t, "1.50", fmt.Sprint(o["f"]))

	empty, err := DecodeObject([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = DecodeObject([]byte(`[1]`))
	assert.Error(t, err)
}

func TestEntryPatch_Apply(t *testing.T) {
	e := NewEntry("entry-1", "page-1", "custom", "old", nil, nil, nil)
	title := "new"
	tags := []string{"z", "a"}
	EntryPatch{Title: &title, Tags: &tags}.Apply(&e)

	assert.Equal(t, "new", e.Title)
	assert.Equal(t, []string{"a", "z"}, e.Tags)
	assert.Equal(t, StatusCreated, e.Status, "status unchanged")
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		kind error
	}{
		{NotFound("entry", "x"), ErrNotFound},
		{&UnknownIntegrationError{Type: "nope"}, ErrUnknownIntegration},
		{&IntegrationError{EntryType: "api_call", Err: errors.New("boom")}, ErrIntegration},
		{&StorageError{Op: "write", Err: errors.New("disk full")}, ErrStorage},
		{&ReferenceError{Field: "parent_id", ID: "x"}, ErrInvalidReference},
		{InvalidInput("depth %d", 11), ErrInvalidInput},
		{fmt.Errorf("wrapped: %w", NotFound("page", "p")), ErrNotFound},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, tt.err, tt.kind)
	}
	assert.NotErrorIs(t, NotFound("entry", "x"), ErrStorage)
}

func TestArtifactID(t *testing.T) {
	ref := "sha256:" + strings.Repeat("a", 64)
	id := ArtifactID(ref)
	assert.True(t, strings.HasPrefix(id, "art-"), id)
	assert.Len(t, id, len("art-")+12)
	assert.Equal(t, id, ArtifactID(ref), "deterministic")
}

func TestIntegrationVariable_Masked(t *testing.T) {
	v := IntegrationVariable{Name: "token", Value: "s3cret", IsSecret: true}
	assert.Equal(t, SecretMask, v.Masked().Value)
	assert.Equal(t, "s3cret", v.Value, "receiver unchanged")
}
