package rule

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

var ErrEmptyKeywords = errors.New("keyword filter needs at least one non-empty keyword or explicit match-all")

// KeywordFilter retains text containing any keyword, ignoring case.
type KeywordFilter struct {
	keywords []string
	matchAll bool
}

func NewKeywordFilter(keywords ...string) (KeywordFilter, error) {
	filter := KeywordFilter{keywords: make([]string, 0, len(keywords))}
	seen := make(map[string]struct{}, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if _, ok := seen[keyword]; ok {
			continue
		}
		seen[keyword] = struct{}{}
		filter.keywords = append(filter.keywords, keyword)
	}

	if len(filter.keywords) == 0 {
		return KeywordFilter{}, ErrEmptyKeywords
	}
	return filter, nil
}

// FilterFromFlags builds the filter from command line values. Match-all has
// to be asked for, an empty keyword list alone is an error.
func FilterFromFlags(keywords []string, matchAll bool) (KeywordFilter, error) {
	if matchAll {
		if len(keywords) > 0 {
			logrus.WithField("keywords", keywords).Warn("match-all set, keywords are ignored")
		}
		return MatchAllFilter(), nil
	}
	return NewKeywordFilter(keywords...)
}

// MatchAllFilter retains every item, including ones with empty text.
func MatchAllFilter() KeywordFilter {
	return KeywordFilter{matchAll: true}
}

func (filter KeywordFilter) IsMatchAll() bool {
	return filter.matchAll
}

func (filter KeywordFilter) Keywords() []string {
	return append([]string(nil), filter.keywords...)
}

func (filter KeywordFilter) Match(text string) bool {
	if filter.matchAll {
		return true
	}
	if text == "" {
		return false
	}

	lower := strings.ToLower(text)
	for _, keyword := range filter.keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// MatchedKeywords lists every keyword found in text.
func (filter KeywordFilter) MatchedKeywords(text string) []string {
	lower := strings.ToLower(text)
	matched := make([]string, 0)
	for _, keyword := range filter.keywords {
		if strings.Contains(lower, keyword) {
			matched = append(matched, keyword)
		}
	}
	return matched
}

func (filter KeywordFilter) String() string {
	if filter.matchAll {
		return "*"
	}
	return strings.Join(filter.keywords, ",")
}
