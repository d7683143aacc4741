package collector

import (
	"context"
	"fmt"

	"github.com/davidleitw/forumcollect/internal/craw"
	"github.com/davidleitw/forumcollect/internal/rule"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Stage string

const (
	StageListing   Stage = "listing"
	StageSearch    Stage = "search"
	StageDiscovery Stage = "discovery"
	StageComments  Stage = "comments"
)

// RunError is the terminal failure of a run. It carries enough progress
// information to restart the run by hand.
type RunError struct {
	Stage  Stage
	Query  string
	PostId string

	// Page is the page that failed, LastCursor the cursor of the last page
	// that succeeded.
	Page       int
	LastCursor string
	Collected  int

	Err error
}

func (e *RunError) Error() string {
	detail := ""
	if e.Query != "" {
		detail += fmt.Sprintf(" query=%q", e.Query)
	}
	if e.PostId != "" {
		detail += fmt.Sprintf(" post=%s", e.PostId)
	}
	return fmt.Sprintf("%s stage failed at page %d (last cursor %q, %d items collected)%s: %v",
		e.Stage, e.Page, e.LastCursor, e.Collected, detail, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

type Collector interface {
	RunId() string

	CollectPosts(ctx context.Context, rule *rule.CollectRule) (*PostResult, error)

	CollectComments(ctx context.Context, rule *rule.CollectRule) (*CommentResult, error)
}

type collector struct {
	runId   string
	crawler craw.Crawler
}

var _ Collector = (*collector)(nil)

func NewCollector(crawler craw.Crawler) Collector {
	return &collector{
		runId:   uuid.NewString(),
		crawler: crawler,
	}
}

func (c *collector) RunId() string {
	return c.runId
}

type pageFetcher func(ctx context.Context, page int, cursor string) (next string, err error)

type progress struct {
	Pages      int
	LastCursor string
	FailedPage int
}

// paginate walks pages from an empty cursor until the source returns no
// cursor or the rule's page limit is reached.
func paginate(ctx context.Context, collectRule *rule.CollectRule, fetch pageFetcher) (progress, error) {
	state := progress{}
	seenCursors := make(map[string]struct{})
	cursor := ""

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			state.FailedPage = page
			return state, err
		}

		next, err := fetch(ctx, page, cursor)
		if err != nil {
			state.FailedPage = page
			return state, err
		}
		state.Pages = page
		state.LastCursor = cursor

		if next == "" {
			return state, nil
		}
		if _, ok := seenCursors[next]; ok {
			logrus.WithField("cursor", next).Warn("Source repeated a cursor, stop paging")
			return state, nil
		}
		if collectRule.PageLimitReached(page) {
			logrus.WithField("maxPages", collectRule.MaxPages).Info("Page limit reached")
			return state, nil
		}
		seenCursors[next] = struct{}{}
		cursor = next
	}
}
