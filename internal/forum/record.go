package forum

import "time"

// Record is anything written to an output file, keyed by its identifier.
type Record interface {
	RecordId() string
}

// ForumPost never carries author information.
type ForumPost struct {
	Id        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Board     string    `json:"board"`
}

func (post ForumPost) RecordId() string {
	return post.Id
}

// Text is the string the keyword filter runs against.
func (post ForumPost) Text() string {
	if post.Body == "" {
		return post.Title
	}
	return post.Title + "\n" + post.Body
}

type ForumComment struct {
	Id              string    `json:"id"`
	PostId          string    `json:"post_id"`
	ParentCommentId *string   `json:"parent_comment_id"`
	Body            string    `json:"body"`
	CreatedAt       time.Time `json:"created_at"`
	Depth           int       `json:"depth"`
}

func (comment ForumComment) RecordId() string {
	return comment.Id
}

func unixToTime(createdUtc float64) time.Time {
	sec := int64(createdUtc)
	nsec := int64((createdUtc - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
