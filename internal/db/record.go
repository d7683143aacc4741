package db

import "time"

type RunKind string

const (
	RunKindPosts    RunKind = "posts"
	RunKindComments RunKind = "comments"
)

// RunRecord is one collector execution as stored in run_record.
type RunRecord struct {
	Id    string  `json:"id"`
	Kind  RunKind `json:"kind"`
	Board string  `json:"board"`

	Keywords   string    `json:"keywords"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Items       int    `json:"items"`
	FailedPosts int    `json:"failed_posts"`
	Error       string `json:"error"`
}
