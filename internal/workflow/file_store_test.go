package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveAndLoadWorkflow(t *testing.T) {
	root := t.TempDir()
	store, err := OpenFileStore(root)
	require.NoError(t, err)

	w := &Workflow{
		ID: "wf1",
		Tasks: map[string]*TaskNode{
			"A": {ID: "A", Status: TaskDone},
			"B": {ID: "B", DependsOn: []string{"A"}, Status: TaskReady},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveWorkflow(w))

	require.FileExists(t, filepath.Join(root, "wf1.json"))

	loaded, err := store.LoadWorkflow("wf1")
	require.NoError(t, err)
	require.Equal(t, TaskDone, loaded.Tasks["A"].Status)
	require.Equal(t, TaskReady, loaded.Tasks["B"].Status)
}

func TestFileStoreSaveReplacesPreviousSnapshot(t *testing.T) {
	root := t.TempDir()
	store, err := OpenFileStore(root)
	require.NoError(t, err)

	w := &Workflow{ID: "wf1", Tasks: map[string]*TaskNode{"A": {ID: "A", Status: TaskReady}}}
	require.NoError(t, store.SaveWorkflow(w))

	w.Tasks["A"].Status = TaskDone
	require.NoError(t, store.SaveWorkflow(w))

	data, err := os.ReadFile(filepath.Join(root, "wf1.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"done"`)
	require.NotContains(t, string(data), `"tmp"`)

	loaded, err := store.LoadWorkflow("wf1")
	require.NoError(t, err)
	require.Equal(t, TaskDone, loaded.Tasks["A"].Status)
}

func TestFileStoreLoadMissingWorkflow(t *testing.T) {
	store, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.LoadWorkflow("missing")
	require.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestFileStoreCheckpointsOrderedByCreation(t *testing.T) {
	root := t.TempDir()
	store, err := OpenFileStore(root)
	require.NoError(t, err)

	cp1 := &Checkpoint{ID: "cp1", WorkflowID: "wf1", Label: "first", CreatedAt: time.Now().UTC()}
	cp2 := &Checkpoint{ID: "cp2", WorkflowID: "wf1", Label: "second", CreatedAt: time.Now().UTC().Add(time.Second)}
	require.NoError(t, store.SaveCheckpoint(cp1))
	require.NoError(t, store.SaveCheckpoint(cp2))

	require.FileExists(t, filepath.Join(root, "wf1.checkpoints.jsonl"))

	cps, err := store.ListCheckpoints("wf1")
	require.NoError(t, err)
	require.Len(t, cps, 2)
	require.Equal(t, "first", cps[0].Label)
	require.Equal(t, "second", cps[1].Label)
}

func TestFileStoreListCheckpointsMissingLogReturnsEmpty(t *testing.T) {
	store, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)

	cps, err := store.ListCheckpoints("never-seen")
	require.NoError(t, err)
	require.Empty(t, cps)
}
