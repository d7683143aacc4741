package forum

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	KindListing = "Listing"
	KindComment = "t1"
	KindPost    = "t3"
	KindMore    = "more"
)

// Listing is the paginated envelope the source API wraps every collection in.
type Listing struct {
	Kind string      `json:"kind"`
	Data ListingData `json:"data"`
}

type ListingData struct {
	After    string  `json:"after"`
	Children []Thing `json:"children"`
}

type Thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type PostData struct {
	Id           string  `json:"id"`
	Title        string  `json:"title"`
	Selftext     string  `json:"selftext"`
	SelftextHtml string  `json:"selftext_html"`
	Author       string  `json:"author"`
	Subreddit    string  `json:"subreddit"`
	Permalink    string  `json:"permalink"`
	CreatedUtc   float64 `json:"created_utc"`
}

type CommentData struct {
	Id         string  `json:"id"`
	Body       string  `json:"body"`
	BodyHtml   string  `json:"body_html"`
	Author     string  `json:"author"`
	ParentId   string  `json:"parent_id"`
	LinkId     string  `json:"link_id"`
	CreatedUtc float64 `json:"created_utc"`
	Replies    Replies `json:"replies"`
}

// Replies is either an empty string or a nested listing on the wire.
type Replies struct {
	Listing *Listing
}

func (replies *Replies) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`""`)) {
		replies.Listing = nil
		return nil
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("unexpected replies value %s", trimmed)
	}

	listing := &Listing{}
	if err := json.Unmarshal(trimmed, listing); err != nil {
		return err
	}
	replies.Listing = listing
	return nil
}

// CommentNode is one comment with its direct replies.
type CommentNode struct {
	Data    CommentData
	Replies []*CommentNode
}

func (listing *Listing) validate() error {
	if listing.Kind != KindListing {
		return fmt.Errorf("expected kind %q, got %q", KindListing, listing.Kind)
	}
	return nil
}

// Posts decodes every post child of the listing, ignoring other kinds.
func (listing *Listing) Posts() ([]PostData, error) {
	if err := listing.validate(); err != nil {
		return nil, err
	}

	posts := make([]PostData, 0, len(listing.Data.Children))
	for index, child := range listing.Data.Children {
		if child.Kind != KindPost {
			continue
		}
		var post PostData
		if err := json.Unmarshal(child.Data, &post); err != nil {
			return nil, fmt.Errorf("child %d: %w", index, err)
		}
		if post.Id == "" {
			return nil, fmt.Errorf("child %d: post without id", index)
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// CommentTree decodes the nested comment children. The second return value
// counts "more" placeholders that were not expanded.
func (listing *Listing) CommentTree() ([]*CommentNode, int, error) {
	if err := listing.validate(); err != nil {
		return nil, 0, err
	}

	nodes := make([]*CommentNode, 0, len(listing.Data.Children))
	more := 0
	for index, child := range listing.Data.Children {
		switch child.Kind {
		case KindMore:
			more++
			continue
		case KindComment:
		default:
			continue
		}

		node := &CommentNode{}
		if err := json.Unmarshal(child.Data, &node.Data); err != nil {
			return nil, 0, fmt.Errorf("child %d: %w", index, err)
		}
		if node.Data.Id == "" {
			return nil, 0, fmt.Errorf("child %d: comment without id", index)
		}

		if node.Data.Replies.Listing != nil {
			replies, replyMore, err := node.Data.Replies.Listing.CommentTree()
			if err != nil {
				return nil, 0, fmt.Errorf("replies of %s: %w", node.Data.Id, err)
			}
			node.Replies = replies
			more += replyMore
		}
		nodes = append(nodes, node)
	}
	return nodes, more, nil
}

// ToPost drops every author field. The subreddit reported by the source
// takes precedence over the requested board name.
func (data PostData) ToPost(board string) ForumPost {
	if data.Subreddit != "" {
		board = data.Subreddit
	}
	return ForumPost{
		Id:        data.Id,
		Title:     data.Title,
		Body:      BodyText(data.Selftext, data.SelftextHtml),
		CreatedAt: unixToTime(data.CreatedUtc),
		Board:     board,
	}
}

func (data CommentData) ToComment(postId string, parentCommentId *string, depth int) ForumComment {
	return ForumComment{
		Id:              data.Id,
		PostId:          postId,
		ParentCommentId: parentCommentId,
		Body:            BodyText(data.Body, data.BodyHtml),
		CreatedAt:       unixToTime(data.CreatedUtc),
		Depth:           depth,
	}
}
