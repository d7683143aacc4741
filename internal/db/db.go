package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/davidleitw/forumcollect/internal/forum"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const (
	DefaultForumDbPath = "data/forum.db"
)

type ForumDB interface {
	Open() error

	Close() error

	SaveRun(run *RunRecord) error

	SavePosts(runId string, posts []forum.ForumPost) error

	SaveComments(runId string, comments []forum.ForumComment) error

	PostIds(board string) ([]string, error)

	Runs() ([]*RunRecord, error)
}

type ForumDb struct {
	path   string
	driver *sql.DB
}

func NewForumDb(path string) ForumDB {
	if path == "" {
		path = DefaultForumDbPath
	}
	return &ForumDb{path: path}
}

var _ ForumDB = (*ForumDb)(nil)

var (
	tableCreateStatements = []string{
		`CREATE TABLE IF NOT EXISTS run_record (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			board TEXT NOT NULL,
			keywords TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			items INTEGER NOT NULL,
			failed_posts INTEGER NOT NULL,
			error TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS post_record (
			id TEXT PRIMARY KEY,
			board TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			run_id TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES run_record(id)
		);`,
		`CREATE TABLE IF NOT EXISTS comment_record (
			id TEXT PRIMARY KEY,
			post_id TEXT NOT NULL,
			parent_comment_id TEXT,
			body TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			depth INTEGER NOT NULL,
			run_id TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES run_record(id)
		);`,
		`CREATE INDEX IF NOT EXISTS post_record_board ON post_record(board);`,
		`CREATE INDEX IF NOT EXISTS comment_record_post ON comment_record(post_id);`,
	}
)

func ensureDirectoryExists(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logrus.Infof("Directory %s not exist, create it", dir)
		if err = os.MkdirAll(dir, 0755); err != nil {
			logrus.WithError(err).Error("os.MkdirAll")
			return err
		}
		logrus.Infof("Success create directory %s for %s", dir, filepath.Base(path))
	}
	return nil
}

func (db *ForumDb) Open() error {
	if err := ensureDirectoryExists(db.path); err != nil {
		logrus.WithError(err).Error("ensureDirectoryExists failed")
		return err
	}

	dbPath, err := filepath.Abs(db.path)
	if err != nil {
		logrus.WithError(err).Error("filepath.Abs failed")
		return err
	}

	driver, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		logrus.WithError(err).Error("sql.Open failed")
		return err
	}
	if err := driver.Ping(); err != nil {
		driver.Close()
		logrus.WithError(err).Error("driver.Ping failed")
		return err
	}
	db.driver = driver
	logrus.WithField("ForumDbPath", dbPath).Info("sql.Open success")

	for _, statement := range tableCreateStatements {
		if _, err := db.driver.Exec(statement); err != nil {
			logrus.WithError(err).Error("db.driver.Exec failed")
			return err
		}
	}
	return nil
}

func (db *ForumDb) Close() error {
	if db.driver == nil {
		return nil
	}
	return db.driver.Close()
}

func (db *ForumDb) checkOpen() error {
	if db.driver == nil {
		return fmt.Errorf("forum db %s is not open", db.path)
	}
	return nil
}

func (db *ForumDb) SaveRun(run *RunRecord) error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	// upsert instead of REPLACE, records already point at this run
	query := `INSERT INTO run_record
		(id, kind, board, keywords, started_at, finished_at, items, failed_posts, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			items = excluded.items,
			failed_posts = excluded.failed_posts,
			error = excluded.error;`
	_, err := db.driver.Exec(query,
		run.Id, string(run.Kind), run.Board, run.Keywords,
		run.StartedAt.Unix(), run.FinishedAt.Unix(),
		run.Items, run.FailedPosts, run.Error,
	)
	if err != nil {
		logrus.WithError(err).Error("insert run_record failed")
		return err
	}
	return nil
}

// inTx runs fn inside one transaction, rolling back when fn fails.
func (db *ForumDb) inTx(fn func(tx *sql.Tx) error) error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	tx, err := db.driver.Begin()
	if err != nil {
		logrus.WithError(err).Error("db.driver.Begin failed")
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (db *ForumDb) SavePosts(runId string, posts []forum.ForumPost) error {
	return db.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO post_record
			(id, board, title, body, created_at, run_id) VALUES (?, ?, ?, ?, ?, ?);`)
		if err != nil {
			logrus.WithError(err).Error("tx.Prepare failed")
			return err
		}
		defer stmt.Close()

		for _, post := range posts {
			if _, err := stmt.Exec(post.Id, post.Board, post.Title, post.Body, post.CreatedAt.Unix(), runId); err != nil {
				logrus.WithError(err).WithField("post", post.Id).Error("insert post_record failed")
				return err
			}
		}
		return nil
	})
}

func (db *ForumDb) SaveComments(runId string, comments []forum.ForumComment) error {
	return db.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO comment_record
			(id, post_id, parent_comment_id, body, created_at, depth, run_id) VALUES (?, ?, ?, ?, ?, ?, ?);`)
		if err != nil {
			logrus.WithError(err).Error("tx.Prepare failed")
			return err
		}
		defer stmt.Close()

		for _, comment := range comments {
			var parent sql.NullString
			if comment.ParentCommentId != nil {
				parent = sql.NullString{String: *comment.ParentCommentId, Valid: true}
			}
			_, err := stmt.Exec(comment.Id, comment.PostId, parent, comment.Body, comment.CreatedAt.Unix(), comment.Depth, runId)
			if err != nil {
				logrus.WithError(err).WithField("comment", comment.Id).Error("insert comment_record failed")
				return err
			}
		}
		return nil
	})
}

// PostIds lists archived post ids of a board, newest first.
func (db *ForumDb) PostIds(board string) ([]string, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT id FROM post_record WHERE board = ? ORDER BY created_at DESC, id;`
	rows, err := db.driver.Query(query, board)
	if err != nil {
		logrus.WithError(err).Error("db.driver.Query failed")
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			logrus.WithError(err).Error("rows.Scan failed")
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *ForumDb) Runs() ([]*RunRecord, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT id, kind, board, keywords, started_at, finished_at, items, failed_posts, error
		FROM run_record ORDER BY started_at, id;`
	rows, err := db.driver.Query(query)
	if err != nil {
		logrus.WithError(err).Error("db.driver.Query failed")
		return nil, err
	}
	defer rows.Close()

	runs := make([]*RunRecord, 0)
	for rows.Next() {
		run := &RunRecord{}
		var kind string
		var startedAt, finishedAt int64
		if err := rows.Scan(&run.Id, &kind, &run.Board, &run.Keywords, &startedAt, &finishedAt,
			&run.Items, &run.FailedPosts, &run.Error); err != nil {
			logrus.WithError(err).Error("rows.Scan failed")
			return nil, err
		}
		run.Kind = RunKind(kind)
		run.StartedAt = time.Unix(startedAt, 0).UTC()
		run.FinishedAt = time.Unix(finishedAt, 0).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
