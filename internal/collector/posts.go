package collector

import (
	"context"
	"fmt"

	"github.com/davidleitw/forumcollect/internal/craw"
	"github.com/davidleitw/forumcollect/internal/forum"
	"github.com/davidleitw/forumcollect/internal/rule"
	"github.com/sirupsen/logrus"
)

type PostResult struct {
	RunId string
	Board string
	Pages int
	Posts []forum.ForumPost
}

func (c *collector) CollectPosts(ctx context.Context, rule *rule.CollectRule) (*PostResult, error) {
	result := &PostResult{
		RunId: c.runId,
		Posts: make([]forum.ForumPost, 0),
	}
	if rule == nil || rule.Board == "" {
		logrus.Error("Board is not set")
		return result, fmt.Errorf("post collection needs a board")
	}
	result.Board = rule.Board

	// an empty query means the plain board listing
	queries := rule.Queries
	if len(queries) == 0 {
		queries = []string{""}
	}

	seen := make(map[string]struct{})
	for _, query := range queries {
		stage := StageListing
		if query != "" {
			stage = StageSearch
		}
		log := logrus.WithFields(logrus.Fields{
			"run":   c.runId,
			"board": rule.Board,
			"stage": stage,
			"query": query,
		})

		state, err := paginate(ctx, rule, func(ctx context.Context, page int, cursor string) (string, error) {
			listing, err := c.fetchListing(ctx, rule.Board, query, cursor)
			if err != nil {
				log.WithError(err).WithFields(logrus.Fields{"page": page, "cursor": cursor}).Error("Fetch listing page failed")
				return "", err
			}

			matched := 0
			for _, data := range listing.Posts {
				post := data.ToPost(rule.Board)
				if _, ok := seen[post.Id]; ok {
					continue
				}
				if !rule.Filter.Match(post.Text()) {
					continue
				}
				seen[post.Id] = struct{}{}
				result.Posts = append(result.Posts, post)
				matched++
				if !rule.Filter.IsMatchAll() {
					log.WithFields(logrus.Fields{
						"post":     post.Id,
						"keywords": rule.Filter.MatchedKeywords(post.Text()),
					}).Debug("Post matched")
				}
			}

			log.WithFields(logrus.Fields{
				"page":    page,
				"items":   len(listing.Posts),
				"matched": matched,
				"total":   len(result.Posts),
			}).Info("Listing page collected")
			return listing.After, nil
		})
		result.Pages += state.Pages

		if err != nil {
			return result, &RunError{
				Stage:      stage,
				Query:      query,
				Page:       state.FailedPage,
				LastCursor: state.LastCursor,
				Collected:  len(result.Posts),
				Err:        err,
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"run":   c.runId,
		"board": rule.Board,
		"pages": result.Pages,
		"posts": len(result.Posts),
	}).Info("Post collection finished")
	return result, nil
}

func (c *collector) fetchListing(ctx context.Context, board, query, cursor string) (*craw.ListingPage, error) {
	if query == "" {
		return c.crawler.FetchListing(ctx, board, cursor)
	}
	return c.crawler.SearchListing(ctx, board, query, cursor)
}
