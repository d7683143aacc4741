package store

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/davidleitw/forumcollect/internal/forum"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func testPost(id, title string) forum.ForumPost {
	return forum.ForumPost{
		Id:        id,
		Title:     title,
		CreatedAt: time.Date(2024, 11, 11, 4, 0, 0, 0, time.UTC),
		Board:     "ausjdocs",
	}
}

func TestWritePostsReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "posts.json")

	_, err := WritePosts(path, []forum.ForumPost{testPost("a", "old"), testPost("b", "old")}, Replace)
	require.NoError(t, err)

	written, err := WritePosts(path, []forum.ForumPost{testPost("c", "new")}, Replace)
	require.NoError(t, err)
	require.Equal(t, 1, written)

	posts, err := ReadPosts(path)
	require.NoError(t, err)
	require.Equal(t, []forum.ForumPost{testPost("c", "new")}, posts)
}

func TestWritePostsMergesById(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")

	written, err := WritePosts(path, []forum.ForumPost{testPost("a", "old"), testPost("b", "old")}, Merge)
	require.NoError(t, err)
	require.Equal(t, 2, written)

	written, err = WritePosts(path, []forum.ForumPost{testPost("b", "new"), testPost("c", "new")}, Merge)
	require.NoError(t, err)
	require.Equal(t, 3, written)

	posts, err := ReadPosts(path)
	require.NoError(t, err)
	want := []forum.ForumPost{testPost("a", "old"), testPost("b", "new"), testPost("c", "new")}
	if diff := cmp.Diff(want, posts); diff != "" {
		t.Fatalf("merged posts mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteDeduplicatesWithinRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")

	written, err := WritePosts(path, []forum.ForumPost{testPost("a", "first"), testPost("a", "second")}, Replace)
	require.NoError(t, err)
	require.Equal(t, 1, written)
}

func TestWriteEmptyIsArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comments.json")

	_, err := WriteComments(path, nil, Replace)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "[]\n", string(content))
}

func TestWriteCommentsKeepsNullParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comments.json")
	parent := "c1"
	comments := []forum.ForumComment{
		{Id: "c1", PostId: "p1", Body: "top", Depth: 0},
		{Id: "c2", PostId: "p1", ParentCommentId: &parent, Body: "reply", Depth: 1},
	}

	_, err := WriteComments(path, comments, Replace)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), `"parent_comment_id": null`)

	read, err := readRecords[forum.ForumComment](path)
	require.NoError(t, err)
	require.Nil(t, read[0].ParentCommentId)
	require.Equal(t, "c1", *read[1].ParentCommentId)
}

func TestMergeFailsOnCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := WritePosts(path, []forum.ForumPost{testPost("a", "x")}, Merge)
	require.Error(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "{not json", string(content))
}

func TestWritePostsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.csv")
	post := testPost("a", "Pharmacist, \"ward\"")
	post.Body = "line one\nline two"

	require.NoError(t, WritePostsCSV(path, []forum.ForumPost{post}))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		postCsvHeader,
		{"a", "Pharmacist, \"ward\"", "line one\nline two", "2024-11-11T04:00:00Z", "ausjdocs"},
	}, rows)
}

func TestWriteCommentsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comments.csv")
	parent := "c1"
	comments := []forum.ForumComment{
		{Id: "c2", PostId: "p1", ParentCommentId: &parent, Body: "reply", Depth: 1},
	}
	require.NoError(t, WriteCommentsCSV(path, comments))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []string{"c2", "p1", "c1", "reply", "0001-01-01T00:00:00Z", "1"}, rows[1])
}
