package store

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"

	"github.com/davidleitw/forumcollect/internal/forum"
	"github.com/sirupsen/logrus"
)

var postCsvHeader = []string{"id", "title", "body", "created_at", "board"}

var commentCsvHeader = []string{"id", "post_id", "parent_comment_id", "body", "created_at", "depth"}

// WritePostsCSV writes a spreadsheet friendly copy of the posts file.
func WritePostsCSV(path string, posts []forum.ForumPost) error {
	rows := make([][]string, 0, len(posts))
	for _, post := range posts {
		rows = append(rows, []string{
			post.Id,
			post.Title,
			post.Body,
			post.CreatedAt.Format(time.RFC3339),
			post.Board,
		})
	}
	return writeCsv(path, postCsvHeader, rows)
}

func WriteCommentsCSV(path string, comments []forum.ForumComment) error {
	rows := make([][]string, 0, len(comments))
	for _, comment := range comments {
		parent := ""
		if comment.ParentCommentId != nil {
			parent = *comment.ParentCommentId
		}
		rows = append(rows, []string{
			comment.Id,
			comment.PostId,
			parent,
			comment.Body,
			comment.CreatedAt.Format(time.RFC3339),
			strconv.Itoa(comment.Depth),
		})
	}
	return writeCsv(path, commentCsvHeader, rows)
}

func writeCsv(path string, header []string, rows [][]string) error {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		logrus.WithError(err).Error("csv.WriteAll failed")
		return err
	}

	if err := writeFileAtomic(path, buffer.Bytes()); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"path": path, "rows": len(rows)}).Info("CSV written")
	return nil
}
