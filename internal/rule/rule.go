package rule

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	DefaultBoardName = "ausjdocs"
	Unbounded        = 0
)

var DefaultSkipAuthors = []string{"[deleted]", "AutoModerator"}

type RuleOption func(*CollectRule)

func Board(board string) RuleOption {
	return func(o *CollectRule) {
		o.Board = strings.TrimPrefix(strings.TrimSpace(board), "r/")
	}
}

func DefaultBoard() RuleOption {
	return Board(DefaultBoardName)
}

// Queries switches post collection to the board search endpoint, one pass
// per query.
func Queries(queries ...string) RuleOption {
	return func(o *CollectRule) {
		for _, query := range queries {
			if query = strings.TrimSpace(query); query != "" {
				o.Queries = append(o.Queries, query)
			}
		}
	}
}

func PostIds(ids ...string) RuleOption {
	return func(o *CollectRule) {
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				o.PostIds = append(o.PostIds, id)
			}
		}
	}
}

func Keywords(filter KeywordFilter) RuleOption {
	return func(o *CollectRule) {
		o.Filter = filter
		o.filterSet = true
	}
}

func MaxPages(pages int) RuleOption {
	return func(o *CollectRule) {
		o.MaxPages = pages
	}
}

func SkipAuthors(authors ...string) RuleOption {
	return func(o *CollectRule) {
		o.SkipAuthors = append([]string{}, authors...)
	}
}

// CollectRule describes a single collection run.
type CollectRule struct {
	Board    string
	Queries  []string
	PostIds  []string
	Filter   KeywordFilter
	MaxPages int

	SkipAuthors []string

	filterSet bool
}

func NewCollectRule(opts ...RuleOption) (*CollectRule, error) {
	rule := &CollectRule{}
	for _, opt := range opts {
		opt(rule)
	}

	if rule.SkipAuthors == nil {
		SkipAuthors(DefaultSkipAuthors...)(rule)
	}

	if !rule.filterSet {
		logrus.Errorf("Keyword filter is not set")
		return nil, ErrEmptyKeywords
	}

	if rule.MaxPages < 0 {
		logrus.Errorf("MaxPages %d is negative", rule.MaxPages)
		return nil, fmt.Errorf("max pages must not be negative, got %d", rule.MaxPages)
	}

	if rule.Board == "" && len(rule.PostIds) == 0 {
		logrus.Errorf("Board or PostIds is not set")
		return nil, fmt.Errorf("either a board or post ids are required")
	}
	return rule, nil
}

// PageLimitReached reports whether fetched pages hit MaxPages.
func (rule *CollectRule) PageLimitReached(fetched int) bool {
	return rule.MaxPages != Unbounded && fetched >= rule.MaxPages
}

func (rule *CollectRule) IsSkippedAuthor(author string) bool {
	for _, skipped := range rule.SkipAuthors {
		if author == skipped {
			return true
		}
	}
	return false
}
