package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/collabsync/internal/models"
)

func conflictInfo(local, remote models.Content, details ...models.ConflictDetail) *models.ConflictInfo {
	return &models.ConflictInfo{
		Local:     &models.SaveState{ContentID: "doc-1", Content: local, Version: 2},
		Remote:    &models.SaveState{ContentID: "doc-1", Content: remote, Version: 2},
		Conflicts: details,
	}
}

func TestResolve_Overwrite(t *testing.T) {
	r := NewResolver()
	info := conflictInfo(
		models.Content{"title": "local"},
		models.Content{"title": "remote"},
		models.ConflictDetail{Path: "title", LocalValue: "local", RemoteValue: "remote", Kind: models.ConflictMetadata},
	)

	res := r.Resolve(info, models.ResolutionOverwrite)
	require.NotNil(t, res.Content)
	assert.Nil(t, res.Manual)
	assert.Equal(t, "remote", res.Content["title"])

	// Вход не мутируется
	assert.Equal(t, "local", info.Local.Content["title"])
}

func TestResolve_Manual(t *testing.T) {
	r := NewResolver()
	info := conflictInfo(models.Content{}, models.Content{})

	res := r.Resolve(info, models.ResolutionManual)
	assert.Nil(t, res.Content)
	assert.Same(t, info, res.Manual)
}

func TestResolve_UnknownModeTreatedAsManual(t *testing.T) {
	r := NewResolver()
	info := conflictInfo(models.Content{}, models.Content{})

	res := r.Resolve(info, models.ResolutionMode("definitely-not-a-mode"))
	assert.Same(t, info, res.Manual)
}

func TestResolve_Merge_MetadataRemoteWins(t *testing.T) {
	// Локально {title: "X"} v1, удаленно {title: "Y"} v1 от общей базы:
	// merge выбирает remote для нетекстовых метаданных
	r := NewResolver()
	info := conflictInfo(
		models.Content{"title": "X", "content": "body"},
		models.Content{"title": "Y", "content": "body"},
		models.ConflictDetail{Path: "title", LocalValue: "X", RemoteValue: "Y", Kind: models.ConflictMetadata},
	)

	res := r.Resolve(info, models.ResolutionMerge)
	require.NotNil(t, res.Content)
	assert.Equal(t, "Y", res.Content["title"])
	assert.Equal(t, "body", res.Content["content"])
	assert.Zero(t, res.Markers)
}

func TestResolve_Merge_TextualConflictMarkers(t *testing.T) {
	r := NewResolver()
	info := conflictInfo(
		models.Content{"content": "line1\nline2"},
		models.Content{"content": "line1\nline3"},
		models.ConflictDetail{
			Path:        "content",
			LocalValue:  "line1\nline2",
			RemoteValue: "line1\nline3",
			Kind:        models.ConflictContent,
		},
	)

	res := r.Resolve(info, models.ResolutionMerge)
	require.NotNil(t, res.Content)
	assert.Equal(t,
		"line1\n<<<<<<< LOCAL\nline2\n=======\nline3\n>>>>>>> REMOTE",
		res.Content["content"])
	assert.Equal(t, 1, res.Markers)
}

func TestResolve_Merge_NonStringContentRemoteWins(t *testing.T) {
	r := NewResolver()
	info := conflictInfo(
		models.Content{"content": float64(1)},
		models.Content{"content": float64(2)},
		models.ConflictDetail{Path: "content", LocalValue: float64(1), RemoteValue: float64(2), Kind: models.ConflictContent},
	)

	res := r.Resolve(info, models.ResolutionMerge)
	assert.Equal(t, float64(2), res.Content["content"])
}

func TestResolve_Merge_StructureShallowMerge(t *testing.T) {
	r := NewResolver()
	local := map[string]any{"a": 1, "b": 2}
	remote := map[string]any{"b": 3, "c": 4}
	info := conflictInfo(
		models.Content{"attrs": local},
		models.Content{"attrs": remote},
		models.ConflictDetail{Path: "attrs", LocalValue: local, RemoteValue: remote, Kind: models.ConflictStructure},
	)

	res := r.Resolve(info, models.ResolutionMerge)
	merged, ok := res.Content["attrs"].(map[string]any)
	require.True(t, ok)

	// Поля remote перекрывают, остальное сохраняется
	assert.Equal(t, 1, merged["a"])
	assert.Equal(t, 3, merged["b"])
	assert.Equal(t, 4, merged["c"])
}

func TestResolve_Merge_RemoteNilDeletesField(t *testing.T) {
	r := NewResolver()
	info := conflictInfo(
		models.Content{"tag": "draft"},
		models.Content{},
		models.ConflictDetail{Path: "tag", LocalValue: "draft", RemoteValue: nil, Kind: models.ConflictMetadata},
	)

	res := r.Resolve(info, models.ResolutionMerge)
	_, exists := res.Content["tag"]
	assert.False(t, exists)
}

func TestMergeLines_Idempotent(t *testing.T) {
	text := "line1\nline2\nline3"

	merged, markers := MergeLines(text, text)
	assert.Equal(t, text, merged)
	assert.Zero(t, markers)
}

func TestMergeLines_OneSidedAdditionKept(t *testing.T) {
	merged, markers := MergeLines("line1\nline2", "line1\nline2\nline3")
	assert.Equal(t, "line1\nline2\nline3", merged)
	assert.Zero(t, markers)

	merged, markers = MergeLines("line1\nline2\nline3", "line1\nline2")
	assert.Equal(t, "line1\nline2\nline3", merged)
	assert.Zero(t, markers)
}

func TestMergeLines_MultipleConflicts(t *testing.T) {
	_, markers := MergeLines("a\nsame\nb", "x\nsame\ny")
	assert.Equal(t, 2, markers)
}
