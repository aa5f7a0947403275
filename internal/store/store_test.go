package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/labnotebook/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "open db")
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	require.NoError(t, err, "new store")
	return s
}

// seedPage creates a notebook and a page and returns the page id.
func seedPage(t *testing.T, s *Store) string {
	t.Helper()
	ctx := context.Background()
	nb := model.NewNotebook("nb-1", "N", "")
	require.NoError(t, s.CreateNotebook(ctx, nb))
	p := model.NewPage("page-1", nb.ID, "P", "")
	require.NoError(t, s.CreatePage(ctx, p))
	return p.ID
}

func makeEntry(id, pageID string, parent *string) model.Entry {
	return model.NewEntry(id, pageID, "custom", "Title "+id, model.Object{"x": 1}, parent, nil)
}

func createEntries(t *testing.T, s *Store, pageID string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.CreateEntry(context.Background(), makeEntry(id, pageID, nil)))
	}
}

func strPtr(s string) *string { return &s }

func toJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func testArtifact(entryID string) model.Artifact {
	thumb := "thumbnails/ab/cd/abcd.thumb.jpg"
	return model.Artifact{
		ID: "art-1", EntryID: entryID, Type: "image/png", Hash: "sha256:abcd", Size: 10,
		Path: "blobs/ab/cd/abcd", ThumbnailPath: &thumb, Metadata: model.Object{"by": entryID},
		CreatedAt: model.Now(),
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	_, err := New(s.DB())
	require.NoError(t, err, "second New")

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, v)
}

func TestNotebookAndPageCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)

	nb, err := s.GetNotebook(ctx, "nb-1")
	require.NoError(t, err)
	nb.Title = "Renamed"
	require.NoError(t, s.UpdateNotebook(ctx, *nb))
	got, err := s.GetNotebook(ctx, "nb-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	p, err := s.GetPage(ctx, pageID)
	require.NoError(t, err)
	assert.Equal(t, "", p.Narrative["hypothesis"])
	pages, err := s.ListPages(ctx, "nb-1")
	require.NoError(t, err)
	assert.Len(t, pages, 1)

	assert.ErrorIs(t, s.UpdatePage(ctx, model.Page{ID: "missing"}), model.ErrNotFound)

	// Deleting the notebook cascades to pages and entries.
	require.NoError(t, s.CreateEntry(ctx, makeEntry("entry-1", pageID, nil)))
	ok, err := s.DeleteNotebook(ctx, "nb-1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = s.GetPage(ctx, pageID)
	assert.ErrorIs(t, err, model.ErrNotFound, "page survived notebook delete")
	_, err = s.GetEntry(ctx, "entry-1")
	assert.ErrorIs(t, err, model.ErrNotFound, "entry survived notebook delete")
}

func TestCreateAndGetEntry_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)

	inputs, err := model.DecodeObject([]byte(`{"prompt":"x","seed":42,"cfg":7.50,"nested":{"list":[1,"two",null,true]}}`))
	require.NoError(t, err)
	e := model.NewEntry("entry-1", pageID, "custom", "First", inputs, nil, []string{"b", "a"})
	require.NoError(t, s.CreateEntry(ctx, e))

	got, err := s.GetEntry(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, toJSON(t, inputs), toJSON(t, got.Inputs))
	assert.Contains(t, toJSON(t, got.Inputs), `"cfg":7.50`, "number formatting lost")
	assert.Equal(t, model.StatusCreated, got.Status)
	assert.Nil(t, got.Execution)
	assert.Nil(t, got.ParentID)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
	assert.Equal(t, false, got.Metadata["archived"])
}

func TestGetEntry_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetEntry(context.Background(), "nonexistent")
	var nf *model.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "entry", nf.Kind)
}

func TestCreateEntry_WithParentAddsDerivesEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)

	require.NoError(t, s.CreateEntry(ctx, makeEntry("entry-a", pageID, nil)))
	require.NoError(t, s.CreateEntry(ctx, makeEntry("entry-b", pageID, strPtr("entry-a"))))

	edges, err := s.EdgesByChild(ctx, []string{"entry-b"})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "entry-a", edges[0].ParentID)
	assert.Equal(t, model.RelDerivesFrom, edges[0].RelationshipType)
}

func TestCreateEntry_MissingParentRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)

	require.Error(t, s.CreateEntry(ctx, makeEntry("entry-b", pageID, strPtr("ghost"))), "expected foreign key error")
	_, err := s.GetEntry(ctx, "entry-b")
	assert.ErrorIs(t, err, model.ErrNotFound, "entry persisted despite failed edge")
}

func TestAddEdge_SinglePerPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)
	createEntries(t, s, pageID, "entry-a", "entry-b")

	edge := model.LineageEdge{ParentID: "entry-a", ChildID: "entry-b", RelationshipType: model.RelVariationOf}
	ok, err := s.AddEdge(ctx, edge)
	require.NoError(t, err)
	assert.True(t, ok)

	edge.RelationshipType = model.RelDerivesFrom
	ok, err = s.AddEdge(ctx, edge)
	require.NoError(t, err)
	assert.False(t, ok, "second edge for the same pair is a no-op")

	edges, err := s.EdgesByParent(ctx, []string{"entry-a"})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, model.RelVariationOf, edges[0].RelationshipType)

	_, err = s.AddEdge(ctx, model.LineageEdge{ParentID: "entry-a", ChildID: "entry-b", RelationshipType: "bogus"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestUpdateEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)
	require.NoError(t, s.CreateEntry(ctx, makeEntry("entry-a", pageID, nil)))
	e := makeEntry("entry-b", pageID, nil)
	require.NoError(t, s.CreateEntry(ctx, e))

	e.ParentID = strPtr("entry-a")
	e.Status = model.StatusFailed
	e.Execution = &model.Execution{StartedAt: model.Now(), Status: model.ExecutionError, Error: "boom"}
	e.Tags = []string{"x"}
	e.Outputs = model.Object{"ok": false}
	require.NoError(t, s.UpdateEntry(ctx, e))

	got, err := s.GetEntry(ctx, "entry-b")
	require.NoError(t, err)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, "entry-a", *got.ParentID)
	require.NotNil(t, got.Execution)
	assert.Equal(t, "boom", got.Execution.Error)
	assert.Equal(t, []string{"x"}, got.Tags)

	// Updating parent_id alone adds no lineage edge.
	edges, err := s.EdgesByChild(ctx, []string{"entry-b"})
	require.NoError(t, err)
	assert.Empty(t, edges)

	assert.ErrorIs(t, s.UpdateEntry(ctx, model.Entry{ID: "ghost"}), model.ErrNotFound)
}

func TestRecordExecution_KeepsUserFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)
	e := makeEntry("entry-1", pageID, nil)
	require.NoError(t, s.CreateEntry(ctx, e))

	// Another writer renames and tags the entry after e was read.
	edited := e
	edited.Title = "renamed"
	edited.Tags = []string{"keep"}
	edited.Metadata = model.Object{"notes": "n"}
	require.NoError(t, s.UpdateEntry(ctx, edited))

	e.Status = model.StatusCompleted
	e.Outputs = model.Object{"score": 1}
	e.Metrics = model.Object{"ms": 3}
	e.Execution = &model.Execution{StartedAt: model.Now(), CompletedAt: model.Now(), Status: model.ExecutionSuccess}
	e.UpdatedAt = model.Now()
	require.NoError(t, s.RecordExecution(ctx, e))

	got, err := s.GetEntry(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, []string{"keep"}, got.Tags)
	assert.Equal(t, "n", got.Metadata["notes"])
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"score":1}`, toJSON(t, got.Outputs))
	assert.JSONEq(t, `{"ms":3}`, toJSON(t, got.Metrics))
	require.NotNil(t, got.Execution)
	assert.Equal(t, model.ExecutionSuccess, got.Execution.Status)

	assert.ErrorIs(t, s.RecordExecution(ctx, model.Entry{ID: "ghost"}), model.ErrNotFound)
}

func TestDeleteEntry_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)
	require.NoError(t, s.CreateEntry(ctx, makeEntry("entry-a", pageID, nil)))
	require.NoError(t, s.CreateEntry(ctx, makeEntry("entry-b", pageID, strPtr("entry-a"))))
	_, err := s.InsertArtifact(ctx, model.Artifact{
		ID: "art-1", EntryID: "entry-a", Type: "text/plain", Hash: "sha256:aa", Size: 2,
		Path: "blobs/aa", CreatedAt: model.Now(),
	})
	require.NoError(t, err)

	ok, err := s.DeleteEntry(ctx, "entry-a")
	require.NoError(t, err)
	assert.True(t, ok)

	child, err := s.GetEntry(ctx, "entry-b")
	require.NoError(t, err, "child lost")
	assert.Nil(t, child.ParentID)
	edges, err := s.EdgesByChild(ctx, []string{"entry-b"})
	require.NoError(t, err)
	assert.Empty(t, edges)
	_, err = s.GetArtifact(ctx, "art-1")
	assert.ErrorIs(t, err, model.ErrNotFound, "artifact of the only linked entry survived")
	referenced, err := s.HashReferenced(ctx, "sha256:aa")
	require.NoError(t, err)
	assert.False(t, referenced)

	ok, err = s.DeleteEntry(ctx, "entry-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSearchEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)

	e1 := model.NewEntry("entry-1", pageID, "custom", "alpha run", nil, nil, []string{"img", "fast"})
	e2 := model.NewEntry("entry-2", pageID, "api_call", "beta call", nil, nil, []string{"img"})
	e3 := model.NewEntry("entry-3", pageID, "custom", "gamma", nil, nil, nil)
	e3.Status = model.StatusCompleted
	for _, e := range []model.Entry{e1, e2, e3} {
		require.NoError(t, s.CreateEntry(ctx, e))
	}

	tests := []struct {
		name   string
		filter model.EntryFilter
		want   []string
	}{
		{"all", model.EntryFilter{}, []string{"entry-3", "entry-2", "entry-1"}},
		{"by type", model.EntryFilter{EntryType: "custom"}, []string{"entry-3", "entry-1"}},
		{"by status", model.EntryFilter{Status: model.StatusCompleted}, []string{"entry-3"}},
		{"one tag", model.EntryFilter{Tags: []string{"img"}}, []string{"entry-2", "entry-1"}},
		{"all tags", model.EntryFilter{Tags: []string{"img", "fast"}}, []string{"entry-1"}},
		{"title", model.EntryFilter{Query: "bet"}, []string{"entry-2"}},
		{"notebook", model.EntryFilter{NotebookID: "nb-1", Limit: 1}, []string{"entry-3"}},
		{"other notebook", model.EntryFilter{NotebookID: "nb-x"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.SearchEntries(ctx, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestGetEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)
	require.NoError(t, s.CreateEntry(ctx, makeEntry("entry-1", pageID, nil)))

	got, err := s.GetEntries(ctx, []string{"entry-1", "ghost"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Title entry-1", got["entry-1"].Title)
}

func TestInsertArtifact_SharedHashLinksEveryEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)
	createEntries(t, s, pageID, "entry-1", "entry-2")

	got, err := s.InsertArtifact(ctx, testArtifact("entry-1"))
	require.NoError(t, err)
	assert.Equal(t, model.ArchiveNone, got.ArchiveStrategy)
	assert.Equal(t, "entry-1", got.EntryID)

	second := testArtifact("entry-2")
	second.ID = "art-other"
	got, err = s.InsertArtifact(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "art-1", got.ID, "the record for the hash is reused")
	assert.Equal(t, "entry-2", got.EntryID)
	assert.Equal(t, "entry-2", got.Metadata["by"])

	// Inserting the same pair again neither fails nor duplicates the link.
	_, err = s.InsertArtifact(ctx, second)
	require.NoError(t, err)

	for _, id := range []string{"entry-1", "entry-2"} {
		list, err := s.ListArtifacts(ctx, id)
		require.NoError(t, err)
		require.Len(t, list, 1, id)
		assert.Equal(t, "art-1", list[0].ID)
		assert.Equal(t, id, list[0].EntryID)
		assert.Equal(t, id, list[0].Metadata["by"])
	}

	stored, err := s.GetArtifact(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, "entry-1", stored.EntryID, "first writer owns the record")
	require.NotNil(t, stored.ThumbnailPath)
	assert.Equal(t, "thumbnails/ab/cd/abcd.thumb.jpg", *stored.ThumbnailPath)
	byHash, err := s.GetArtifactByHash(ctx, "sha256:abcd")
	require.NoError(t, err)
	assert.Equal(t, "art-1", byHash.ID)

	referenced, err := s.HashReferenced(ctx, "sha256:abcd")
	require.NoError(t, err)
	assert.True(t, referenced)
}

func TestDeleteEntry_HandsSharedArtifactToSurvivor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)
	createEntries(t, s, pageID, "entry-1", "entry-2")
	_, err := s.InsertArtifact(ctx, testArtifact("entry-1"))
	require.NoError(t, err)
	_, err = s.InsertArtifact(ctx, testArtifact("entry-2"))
	require.NoError(t, err)

	ok, err := s.DeleteEntry(ctx, "entry-1")
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := s.GetArtifact(ctx, "art-1")
	require.NoError(t, err, "shared artifact removed with its first owner")
	assert.Equal(t, "entry-2", stored.EntryID)
	list, err := s.ListArtifacts(ctx, "entry-2")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	referenced, err := s.HashReferenced(ctx, "sha256:abcd")
	require.NoError(t, err)
	assert.True(t, referenced)

	_, err = s.DeleteEntry(ctx, "entry-2")
	require.NoError(t, err)
	_, err = s.GetArtifact(ctx, "art-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	referenced, err = s.HashReferenced(ctx, "sha256:abcd")
	require.NoError(t, err)
	assert.False(t, referenced)
}

func TestDeletePage_KeepsArtifactLinkedFromOtherPage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)
	other := model.NewPage("page-2", "nb-1", "Other", "")
	require.NoError(t, s.CreatePage(ctx, other))
	createEntries(t, s, pageID, "entry-1", "entry-2")
	createEntries(t, s, other.ID, "entry-3")
	for _, id := range []string{"entry-1", "entry-2", "entry-3"} {
		_, err := s.InsertArtifact(ctx, testArtifact(id))
		require.NoError(t, err)
	}

	ok, err := s.DeletePage(ctx, pageID)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := s.GetArtifact(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, "entry-3", stored.EntryID)
	list, err := s.ListArtifacts(ctx, "entry-3")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestVariables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetVariable(ctx, model.IntegrationVariable{
		IntegrationType: "api_call", Name: "headers", Value: map[string]any{"X-Key": "k"},
	}))
	require.NoError(t, s.SetVariable(ctx, model.IntegrationVariable{
		IntegrationType: "api_call", Name: "token", Value: "t1", IsSecret: true,
	}))
	require.NoError(t, s.SetVariable(ctx, model.IntegrationVariable{
		IntegrationType: "api_call", Name: "token", Value: "t2", IsSecret: true,
	}))

	// A raw non-JSON value written by another tool falls back to a string.
	_, err := s.DB().Exec(`INSERT INTO integration_variables (integration_type, name, value, created_at, updated_at) VALUES ('graphql', 'endpoint', 'http://x', '', '')`)
	require.NoError(t, err)

	vars, err := s.ListVariables(ctx, "api_call")
	require.NoError(t, err)
	require.Len(t, vars, 2)
	assert.Equal(t, "token", vars[1].Name)
	assert.Equal(t, "t2", vars[1].Value)
	assert.True(t, vars[1].IsSecret)
	assert.Equal(t, `{"X-Key":"k"}`, toJSON(t, vars[0].Value))

	raw, err := s.GetVariable(ctx, "graphql", "endpoint")
	require.NoError(t, err)
	assert.Equal(t, "http://x", raw.Value)

	all, err := s.ListVariables(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ok, err := s.DeleteVariable(ctx, "api_call", "token")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = s.GetVariable(ctx, "api_call", "token")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestExecutionQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)
	for _, id := range []string{"entry-1", "entry-2"} {
		require.NoError(t, s.CreateEntry(ctx, makeEntry(id, pageID, nil)))
		_, err := s.EnqueueExecution(ctx, id)
		require.NoError(t, err)
	}

	q1, err := s.ClaimNextExecution(ctx)
	require.NoError(t, err)
	require.NotNil(t, q1)
	assert.Equal(t, "entry-1", q1.EntryID)
	assert.Equal(t, QueueClaimed, q1.State)

	q2, err := s.ClaimNextExecution(ctx)
	require.NoError(t, err)
	require.NotNil(t, q2)
	assert.Equal(t, "entry-2", q2.EntryID)

	empty, err := s.ClaimNextExecution(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty, "claim on empty queue")

	require.NoError(t, s.FinishExecution(ctx, q1.ID, nil))
	n, err := s.RequeueClaimed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	again, err := s.ClaimNextExecution(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "entry-2", again.EntryID)

	done, err := s.GetExecution(ctx, q1.ID)
	require.NoError(t, err)
	assert.Equal(t, QueueDone, done.State)
	assert.NotNil(t, done.FinishedAt)
}

func TestFailStaleRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pageID := seedPage(t, s)
	e := makeEntry("entry-1", pageID, nil)
	e.Status = model.StatusRunning
	e.Execution = &model.Execution{StartedAt: model.Now(), Status: model.ExecutionRunning}
	require.NoError(t, s.CreateEntry(ctx, e))
	require.NoError(t, s.CreateEntry(ctx, makeEntry("entry-2", pageID, nil)))

	n, err := s.FailStaleRunning(ctx, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetEntry(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.NotNil(t, got.Execution)
	assert.Equal(t, "interrupted", got.Execution.Error)
	assert.Equal(t, model.ExecutionError, got.Execution.Status)
	assert.NotEmpty(t, got.Execution.StartedAt)
	assert.NotEmpty(t, got.Execution.CompletedAt)
}
