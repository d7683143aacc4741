package craw

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/davidleitw/forumcollect/internal/forum"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseUrl is the authenticated API host; bearer tokens are not
	// accepted on www.reddit.com or old.reddit.com.
	DefaultBaseUrl   = "https://oauth.reddit.com"
	DefaultUserAgent = "forumcollect/0.1 (keyword research collector)"

	DefaultTimeout         = 30 * time.Second
	DefaultRequestInterval = 2 * time.Second
	DefaultRetryDelay      = 5 * time.Second
	DefaultMaxRetryWait    = 60 * time.Second
	DefaultRetryBudget     = 3
	DefaultPageSize        = 100
)

// Options configures the crawler. Token is required. A zero RequestInterval
// or RetryDelay means no wait; other zero values fall back to the defaults.
type Options struct {
	BaseUrl   string
	Token     string
	UserAgent string

	Timeout         time.Duration
	RequestInterval time.Duration
	RetryDelay      time.Duration
	MaxRetryWait    time.Duration

	// RetryBudget is the total number of attempts per request.
	RetryBudget int
	PageSize    int
}

func (options Options) withDefaults() Options {
	if options.BaseUrl == "" {
		options.BaseUrl = DefaultBaseUrl
	}
	if options.UserAgent == "" {
		options.UserAgent = DefaultUserAgent
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.RequestInterval < 0 {
		options.RequestInterval = 0
	}
	if options.RetryDelay < 0 {
		options.RetryDelay = 0
	}
	if options.MaxRetryWait <= 0 {
		options.MaxRetryWait = DefaultMaxRetryWait
	}
	if options.RetryBudget <= 0 {
		options.RetryBudget = DefaultRetryBudget
	}
	if options.PageSize <= 0 || options.PageSize > DefaultPageSize {
		options.PageSize = DefaultPageSize
	}
	return options
}

type ListingPage struct {
	Posts []forum.PostData
	After string
}

type CommentPage struct {
	Post     *forum.PostData
	Comments []*forum.CommentNode
	More     int
	After    string
}

type Crawler interface {
	FetchListing(ctx context.Context, board, cursor string) (*ListingPage, error)

	SearchListing(ctx context.Context, board, query, cursor string) (*ListingPage, error)

	FetchCommentTree(ctx context.Context, target TargetInfo, cursor string) (*CommentPage, error)
}

type crawler struct {
	options Options

	client  *resty.Client
	limiter *rate.Limiter
}

var _ Crawler = (*crawler)(nil)

func NewCrawler(options Options) (Crawler, error) {
	options = options.withDefaults()
	if options.Token == "" {
		logrus.Error("Token is empty, the source API needs a bearer token")
		return nil, fmt.Errorf("%w: empty token", ErrAuthentication)
	}
	if _, err := url.ParseRequestURI(options.BaseUrl); err != nil {
		logrus.WithError(err).Errorf("url.ParseRequestURI %s failed", options.BaseUrl)
		return nil, err
	}

	limit := rate.Inf
	if options.RequestInterval > 0 {
		limit = rate.Every(options.RequestInterval)
	}

	crawler := &crawler{
		options: options,
		client:  resty.New(),
		limiter: rate.NewLimiter(limit, 1),
	}

	crawler.client.
		SetBaseURL(strings.TrimRight(options.BaseUrl, "/")).
		SetAuthToken(options.Token).
		SetHeader("User-Agent", options.UserAgent).
		SetHeader("Accept", "application/json").
		SetTimeout(options.Timeout)

	// one request at a time, spaced by RequestInterval
	crawler.client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return crawler.limiter.Wait(req.Context())
	})
	return crawler, nil
}

func (crawler *crawler) pageParams(cursor string) url.Values {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(crawler.options.PageSize))
	params.Set("raw_json", "1")
	if cursor != "" {
		params.Set("after", cursor)
	}
	return params
}

func (crawler *crawler) FetchListing(ctx context.Context, board, cursor string) (*ListingPage, error) {
	return crawler.fetchListingPage(ctx, listingPath(board), crawler.pageParams(cursor))
}

func (crawler *crawler) SearchListing(ctx context.Context, board, query, cursor string) (*ListingPage, error) {
	params := crawler.pageParams(cursor)
	params.Set("q", query)
	params.Set("restrict_sr", "on")
	params.Set("sort", "new")
	params.Set("t", "all")
	return crawler.fetchListingPage(ctx, searchPath(board), params)
}

func (crawler *crawler) fetchListingPage(ctx context.Context, path string, params url.Values) (*ListingPage, error) {
	listing := &forum.Listing{}
	if err := crawler.getJson(ctx, path, params, listing); err != nil {
		return nil, err
	}

	posts, err := listing.Posts()
	if err != nil {
		logrus.WithError(err).WithField("path", path).Error("listing.Posts failed")
		return nil, fmt.Errorf("%w: GET %s: %v", ErrMalformedResponse, path, err)
	}
	return &ListingPage{Posts: posts, After: listing.Data.After}, nil
}

func (crawler *crawler) FetchCommentTree(ctx context.Context, target TargetInfo, cursor string) (*CommentPage, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}

	path := target.GetCommentsPath()
	listings := make([]forum.Listing, 0, 2)
	if err := crawler.getJson(ctx, path, crawler.pageParams(cursor), &listings); err != nil {
		return nil, err
	}

	page := &CommentPage{}
	if len(listings) == 0 {
		return nil, fmt.Errorf("%w: GET %s: empty response", ErrMalformedResponse, path)
	}

	posts, err := listings[0].Posts()
	if err != nil {
		logrus.WithError(err).WithField("path", path).Error("post listing decode failed")
		return nil, fmt.Errorf("%w: GET %s: %v", ErrMalformedResponse, path, err)
	}
	if len(posts) > 0 {
		page.Post = &posts[0]
	}

	// a post without comments comes back with only the post listing
	if len(listings) < 2 {
		return page, nil
	}

	comments, more, err := listings[1].CommentTree()
	if err != nil {
		logrus.WithError(err).WithField("path", path).Error("comment tree decode failed")
		return nil, fmt.Errorf("%w: GET %s: %v", ErrMalformedResponse, path, err)
	}
	page.Comments = comments
	page.More = more
	page.After = listings[1].Data.After
	return page, nil
}

func (crawler *crawler) getJson(ctx context.Context, path string, params url.Values, out interface{}) error {
	budget := crawler.options.RetryBudget

	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		wait, err := crawler.getJsonOnce(ctx, path, params, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == budget {
			break
		}

		logrus.WithError(err).WithFields(logrus.Fields{
			"path":    path,
			"attempt": attempt,
			"budget":  budget,
			"wait":    wait,
		}).Warn("request failed, waiting before retry")

		if err := sleepContext(ctx, wait); err != nil {
			return err
		}
	}

	if IsRetryable(lastErr) {
		return fmt.Errorf("%w (gave up after %d attempts)", lastErr, budget)
	}
	return lastErr
}

// getJsonOnce performs one request. The returned duration is how long to
// wait before a retry when the error is retryable.
func (crawler *crawler) getJsonOnce(ctx context.Context, path string, params url.Values, out interface{}) (time.Duration, error) {
	res, err := crawler.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get(path)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		logrus.WithError(err).Errorf("GET %s failed", path)
		return crawler.options.RetryDelay, fmt.Errorf("%w: GET %s: %v", ErrTransientNetwork, path, err)
	}

	status := res.StatusCode()
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return 0, fmt.Errorf("%w: GET %s: status %d", ErrAuthentication, path, status)
	case status == http.StatusTooManyRequests:
		return crawler.rateLimitWait(res.Header()), fmt.Errorf("%w: GET %s: status %d", ErrRateLimitExceeded, path, status)
	case status >= http.StatusInternalServerError:
		return crawler.options.RetryDelay, fmt.Errorf("%w: GET %s: status %d", ErrTransientNetwork, path, status)
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		return 0, fmt.Errorf("%w: GET %s: unexpected status %d", ErrMalformedResponse, path, status)
	}

	if err := json.Unmarshal(res.Body(), out); err != nil {
		logrus.WithError(err).WithField("path", path).Error("Failed to unmarshal JSON")
		return 0, fmt.Errorf("%w: GET %s: %v", ErrMalformedResponse, path, err)
	}
	return 0, nil
}

// rateLimitWait honours Retry-After or X-Ratelimit-Reset, capped at
// MaxRetryWait, and falls back to RetryDelay.
func (crawler *crawler) rateLimitWait(header http.Header) time.Duration {
	wait := crawler.options.RetryDelay
	for _, key := range []string{"Retry-After", "X-Ratelimit-Reset"} {
		value := strings.TrimSpace(header.Get(key))
		if value == "" {
			continue
		}
		if seconds, err := strconv.ParseFloat(value, 64); err == nil && seconds >= 0 {
			wait = time.Duration(seconds * float64(time.Second))
			break
		}
		if at, err := http.ParseTime(value); err == nil {
			wait = time.Until(at)
			break
		}
	}

	if wait < 0 {
		wait = 0
	}
	if wait > crawler.options.MaxRetryWait {
		wait = crawler.options.MaxRetryWait
	}
	return wait
}

func sleepContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
