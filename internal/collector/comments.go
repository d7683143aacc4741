package collector

import (
	"context"
	"fmt"

	"github.com/davidleitw/forumcollect/internal/craw"
	"github.com/davidleitw/forumcollect/internal/forum"
	"github.com/davidleitw/forumcollect/internal/rule"
	"github.com/sirupsen/logrus"
)

type PostFailure struct {
	PostId string
	Err    error
}

type CommentResult struct {
	RunId string

	PostsRequested int
	PostsVisited   int
	Pages          int
	// MoreSkipped counts collapsed reply placeholders that were not expanded.
	MoreSkipped int

	Comments []forum.ForumComment
	Failures []PostFailure
}

func (result *CommentResult) FailedPosts() int {
	return len(result.Failures)
}

func (c *collector) CollectComments(ctx context.Context, rule *rule.CollectRule) (*CommentResult, error) {
	result := &CommentResult{
		RunId:    c.runId,
		Comments: make([]forum.ForumComment, 0),
		Failures: make([]PostFailure, 0),
	}
	if rule == nil {
		return result, fmt.Errorf("comment collection needs a rule")
	}

	targets, err := c.commentTargets(ctx, rule)
	if err != nil {
		return result, err
	}
	result.PostsRequested = len(targets)

	seen := make(map[string]struct{})
	for index, target := range targets {
		log := logrus.WithFields(logrus.Fields{
			"run":   c.runId,
			"post":  target.PostId,
			"index": index + 1,
			"of":    len(targets),
		})

		comments, state, more, err := c.collectPostComments(ctx, rule, target)
		result.Pages += state.Pages
		if err != nil {
			if craw.IsFatalForRun(err) || ctx.Err() != nil {
				log.WithError(err).Error("Comment collection aborted")
				return result, &RunError{
					Stage:      StageComments,
					PostId:     target.PostId,
					Page:       state.FailedPage,
					LastCursor: state.LastCursor,
					Collected:  len(result.Comments),
					Err:        err,
				}
			}

			log.WithError(err).WithField("page", state.FailedPage).Warn("Comment fetch failed, skip post")
			result.Failures = append(result.Failures, PostFailure{PostId: target.PostId, Err: err})
			continue
		}

		added := 0
		for _, comment := range comments {
			if _, ok := seen[comment.Id]; ok {
				continue
			}
			seen[comment.Id] = struct{}{}
			result.Comments = append(result.Comments, comment)
			added++
		}
		result.PostsVisited++
		result.MoreSkipped += more
		log.WithFields(logrus.Fields{
			"pages":   state.Pages,
			"matched": added,
			"more":    more,
		}).Info("Post comments collected")
	}

	logrus.WithFields(logrus.Fields{
		"run":      c.runId,
		"posts":    result.PostsVisited,
		"failed":   result.FailedPosts(),
		"comments": len(result.Comments),
	}).Info("Comment collection finished")
	return result, nil
}

// commentTargets resolves explicit post ids, or lists the board when none
// were given.
func (c *collector) commentTargets(ctx context.Context, rule *rule.CollectRule) ([]craw.TargetInfo, error) {
	targets := make([]craw.TargetInfo, 0, len(rule.PostIds))
	seen := make(map[string]struct{})
	add := func(target craw.TargetInfo) {
		if _, ok := seen[target.PostId]; ok {
			return
		}
		seen[target.PostId] = struct{}{}
		if target.Board == "" {
			target.Board = rule.Board
		}
		targets = append(targets, target)
	}

	if len(rule.PostIds) > 0 {
		for _, raw := range rule.PostIds {
			target, err := craw.GetTargetInfo(raw)
			if err != nil {
				logrus.WithError(err).WithField("post", raw).Error("craw.GetTargetInfo failed")
				return nil, fmt.Errorf("invalid post id %q: %w", raw, err)
			}
			add(*target)
		}
		return targets, nil
	}

	state, err := paginate(ctx, rule, func(ctx context.Context, page int, cursor string) (string, error) {
		listing, err := c.crawler.FetchListing(ctx, rule.Board, cursor)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"page": page, "cursor": cursor}).Error("Fetch listing page failed")
			return "", err
		}
		for _, post := range listing.Posts {
			add(craw.TargetInfo{Board: rule.Board, PostId: post.Id})
		}
		return listing.After, nil
	})
	if err != nil {
		return nil, &RunError{
			Stage:      StageDiscovery,
			Page:       state.FailedPage,
			LastCursor: state.LastCursor,
			Err:        err,
		}
	}

	logrus.WithFields(logrus.Fields{
		"board": rule.Board,
		"pages": state.Pages,
		"posts": len(targets),
	}).Info("Posts discovered from board listing")
	return targets, nil
}

// collectPostComments returns the matching comments of one post. Nothing is
// returned for a post whose fetch failed part way.
func (c *collector) collectPostComments(ctx context.Context, rule *rule.CollectRule, target craw.TargetInfo) ([]forum.ForumComment, progress, int, error) {
	comments := make([]forum.ForumComment, 0)
	more := 0

	state, err := paginate(ctx, rule, func(ctx context.Context, page int, cursor string) (string, error) {
		tree, err := c.crawler.FetchCommentTree(ctx, target, cursor)
		if err != nil {
			return "", err
		}
		if tree.Post != nil && tree.Post.Id != target.PostId {
			return "", fmt.Errorf("%w: asked for post %s, got %s", craw.ErrMalformedResponse, target.PostId, tree.Post.Id)
		}
		more += tree.More

		flattenComments(target.PostId, tree.Comments, nil, 0, func(author string, comment forum.ForumComment) {
			if rule.IsSkippedAuthor(author) {
				return
			}
			if !rule.Filter.Match(comment.Body) {
				return
			}
			if !rule.Filter.IsMatchAll() {
				logrus.WithFields(logrus.Fields{
					"comment":  comment.Id,
					"keywords": rule.Filter.MatchedKeywords(comment.Body),
				}).Debug("Comment matched")
			}
			comments = append(comments, comment)
		})
		return tree.After, nil
	})
	if err != nil {
		return nil, state, more, err
	}
	return comments, state, more, nil
}

// flattenComments visits the tree depth first. Every comment keeps a
// backlink to its parent comment, nil for top level comments.
func flattenComments(postId string, nodes []*forum.CommentNode, parent *string, depth int, visit func(author string, comment forum.ForumComment)) {
	for _, node := range nodes {
		visit(node.Data.Author, node.Data.ToComment(postId, parent, depth))

		if len(node.Replies) > 0 {
			id := node.Data.Id
			flattenComments(postId, node.Replies, &id, depth+1, visit)
		}
	}
}
