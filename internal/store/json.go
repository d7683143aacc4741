package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/davidleitw/forumcollect/internal/forum"
	"github.com/sirupsen/logrus"
)

type Mode int

const (
	// Replace overwrites the output file with this run's records.
	Replace Mode = iota
	// Merge keeps records of earlier runs, fresh records win on equal id.
	Merge
)

func (mode Mode) String() string {
	if mode == Merge {
		return "merge"
	}
	return "replace"
}

func WritePosts(path string, posts []forum.ForumPost, mode Mode) (int, error) {
	return writeRecords(path, posts, mode)
}

func WriteComments(path string, comments []forum.ForumComment, mode Mode) (int, error) {
	return writeRecords(path, comments, mode)
}

func ReadPosts(path string) ([]forum.ForumPost, error) {
	return readRecords[forum.ForumPost](path)
}

func readRecords[T forum.Record](path string) ([]T, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	records := make([]T, 0)
	if err := json.Unmarshal(content, &records); err != nil {
		logrus.WithError(err).WithField("path", path).Error("Failed to unmarshal JSON")
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

// mergeRecords keeps the order of existing records, replacing them in place
// when fresh has the same id, and appends the remaining fresh records.
func mergeRecords[T forum.Record](existing, fresh []T) []T {
	index := make(map[string]int, len(existing)+len(fresh))
	merged := make([]T, 0, len(existing)+len(fresh))
	for _, records := range [][]T{existing, fresh} {
		for _, record := range records {
			if at, ok := index[record.RecordId()]; ok {
				merged[at] = record
				continue
			}
			index[record.RecordId()] = len(merged)
			merged = append(merged, record)
		}
	}
	return merged
}

func writeRecords[T forum.Record](path string, records []T, mode Mode) (int, error) {
	if mode == Merge {
		existing, err := readRecords[T](path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return 0, err
		default:
			logrus.WithFields(logrus.Fields{"path": path, "existing": len(existing)}).Info("Merging with existing output")
		}
		records = mergeRecords(existing, records)
	} else {
		records = mergeRecords(nil, records)
	}

	content, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		logrus.WithError(err).Error("json.MarshalIndent error")
		return 0, err
	}
	if err := writeFileAtomic(path, append(content, '\n')); err != nil {
		return 0, err
	}

	logrus.WithFields(logrus.Fields{
		"path":    path,
		"records": len(records),
		"mode":    mode,
	}).Info("Output written")
	return len(records), nil
}

// writeFileAtomic writes to a temporary sibling and renames it over path,
// so readers never see a half written file.
func writeFileAtomic(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logrus.WithError(err).Error("os.MkdirAll failed")
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		logrus.WithError(err).Error("os.CreateTemp failed")
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
