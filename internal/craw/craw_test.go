package craw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingBody = `{
	"kind": "Listing",
	"data": {
		"after": "t3_second",
		"children": [
			{"kind": "t3", "data": {"id": "first", "title": "Pharmacist rounds", "selftext": "ward work", "author": "someone", "subreddit": "ausjdocs", "created_utc": 1700000000}},
			{"kind": "t5", "data": {"id": "ignored"}}
		]
	}
}`

func newTestCrawler(t *testing.T, handler http.HandlerFunc, budget int) Crawler {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	crawler, err := NewCrawler(Options{
		BaseUrl:     server.URL,
		Token:       "secret-token",
		Timeout:     2 * time.Second,
		RetryDelay:  time.Millisecond,
		RetryBudget: budget,
	})
	require.NoError(t, err)
	return crawler
}

func TestNewCrawlerRequiresToken(t *testing.T) {
	_, err := NewCrawler(Options{})
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestFetchListing(t *testing.T) {
	crawler := newTestCrawler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/r/ausjdocs/new.json", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "t3_cursor", r.URL.Query().Get("after"))
		fmt.Fprint(w, listingBody)
	}, 1)

	page, err := crawler.FetchListing(context.Background(), "ausjdocs", "t3_cursor")
	require.NoError(t, err)
	require.Equal(t, "t3_second", page.After)
	require.Len(t, page.Posts, 1)
	require.Equal(t, "first", page.Posts[0].Id)
	require.Equal(t, "Pharmacist rounds", page.Posts[0].Title)
}

func TestSearchListing(t *testing.T) {
	crawler := newTestCrawler(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		assert.Equal(t, "/r/ausjdocs/search.json", r.URL.Path)
		assert.Equal(t, "pharmacist", query.Get("q"))
		assert.Equal(t, "on", query.Get("restrict_sr"))
		assert.Equal(t, "new", query.Get("sort"))
		assert.Equal(t, "all", query.Get("t"))
		assert.Empty(t, query.Get("after"))
		fmt.Fprint(w, listingBody)
	}, 1)

	page, err := crawler.SearchListing(context.Background(), "ausjdocs", "pharmacist", "")
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
}

func TestRateLimitRetriedWithinBudget(t *testing.T) {
	var calls int32
	crawler := newTestCrawler(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, listingBody)
	}, 3)

	page, err := crawler.FetchListing(context.Background(), "ausjdocs", "")
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestRateLimitBudgetExhausted(t *testing.T) {
	var calls int32
	crawler := newTestCrawler(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, 3)

	_, err := crawler.FetchListing(context.Background(), "ausjdocs", "")
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestAuthenticationNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		var calls int32
		crawler := newTestCrawler(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(status)
		}, 3)

		_, err := crawler.FetchListing(context.Background(), "ausjdocs", "")
		require.ErrorIs(t, err, ErrAuthentication)
		require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	var calls int32
	crawler := newTestCrawler(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}, 2)

	_, err := crawler.FetchListing(context.Background(), "ausjdocs", "")
	require.ErrorIs(t, err, ErrTransientNetwork)
	require.True(t, IsRetryable(err))
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestConnectionFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	crawler, err := NewCrawler(Options{
		BaseUrl:     server.URL,
		Token:       "secret-token",
		Timeout:     time.Second,
		RetryBudget: 2,
	})
	require.NoError(t, err)

	_, err = crawler.FetchListing(context.Background(), "ausjdocs", "")
	require.ErrorIs(t, err, ErrTransientNetwork)
}

func TestMalformedResponseNotRetried(t *testing.T) {
	bodies := []string{
		`<html>not json</html>`,
		`{"kind": "t3", "data": {}}`,
		`{"kind": "Listing", "data": {"children": [{"kind": "t3", "data": {"title": "no id"}}]}}`,
	}
	for _, body := range bodies {
		var calls int32
		crawler := newTestCrawler(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			fmt.Fprint(w, body)
		}, 3)

		_, err := crawler.FetchListing(context.Background(), "ausjdocs", "")
		require.ErrorIs(t, err, ErrMalformedResponse, body)
		require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	}
}

func TestFetchCommentTree(t *testing.T) {
	body := `[
		{"kind": "Listing", "data": {"children": [{"kind": "t3", "data": {"id": "abc", "title": "post"}}]}},
		{"kind": "Listing", "data": {"after": null, "children": [
			{"kind": "t1", "data": {"id": "c1", "body": "top", "author": "a", "created_utc": 1700000000.5, "replies": {
				"kind": "Listing", "data": {"children": [
					{"kind": "t1", "data": {"id": "c2", "body": "reply", "replies": ""}},
					{"kind": "more", "data": {"count": 4}}
				]}
			}}},
			{"kind": "t1", "data": {"id": "c3", "body": "second", "replies": ""}}
		]}}
	]`
	crawler := newTestCrawler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/r/ausjdocs/comments/abc.json", r.URL.Path)
		fmt.Fprint(w, body)
	}, 1)

	page, err := crawler.FetchCommentTree(context.Background(), TargetInfo{Board: "ausjdocs", PostId: "abc"}, "")
	require.NoError(t, err)
	require.NotNil(t, page.Post)
	require.Equal(t, "abc", page.Post.Id)
	require.Empty(t, page.After)
	require.Equal(t, 1, page.More)
	require.Len(t, page.Comments, 2)
	require.Equal(t, "c1", page.Comments[0].Data.Id)
	require.Len(t, page.Comments[0].Replies, 1)
	require.Equal(t, "c2", page.Comments[0].Replies[0].Data.Id)
	require.Empty(t, page.Comments[1].Replies)
}

func TestFetchCommentTreeWithoutComments(t *testing.T) {
	crawler := newTestCrawler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/comments/abc.json", r.URL.Path)
		fmt.Fprint(w, `[{"kind": "Listing", "data": {"children": []}}]`)
	}, 1)

	page, err := crawler.FetchCommentTree(context.Background(), TargetInfo{PostId: "abc"}, "")
	require.NoError(t, err)
	require.Nil(t, page.Post)
	require.Empty(t, page.Comments)
}

func TestFetchCommentTreeMalformed(t *testing.T) {
	crawler := newTestCrawler(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"kind": "Listing", "data": {"children": []}}`)
	}, 3)

	_, err := crawler.FetchCommentTree(context.Background(), TargetInfo{PostId: "abc"}, "")
	require.ErrorIs(t, err, ErrMalformedResponse)
	require.False(t, IsFatalForRun(err))
}

func TestRetryWaitStopsOnCancel(t *testing.T) {
	crawler := newTestCrawler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := crawler.FetchListing(ctx, "ausjdocs", "")
	require.True(t, errors.Is(err, context.DeadlineExceeded), err)
}

func TestRateLimitWait(t *testing.T) {
	c := &crawler{options: Options{RetryDelay: 3 * time.Second, MaxRetryWait: 10 * time.Second}}

	header := http.Header{}
	require.Equal(t, 3*time.Second, c.rateLimitWait(header))

	header.Set("Retry-After", "7")
	require.Equal(t, 7*time.Second, c.rateLimitWait(header))

	header.Set("Retry-After", "600")
	require.Equal(t, 10*time.Second, c.rateLimitWait(header))

	header = http.Header{}
	header.Set("X-Ratelimit-Reset", "1.5")
	require.Equal(t, 1500*time.Millisecond, c.rateLimitWait(header))
}

func TestGetTargetInfo(t *testing.T) {
	cases := []struct {
		raw    string
		board  string
		postId string
	}{
		{raw: "1owkkre", postId: "1owkkre"},
		{raw: "t3_1owkkre", postId: "1owkkre"},
		{raw: "https://old.reddit.com/r/ausjdocs/comments/1owkkre/hospital_pharmacist/", board: "ausjdocs", postId: "1owkkre"},
		{raw: "/r/ausjdocs/comments/1fvwiyt", board: "ausjdocs", postId: "1fvwiyt"},
	}
	for _, c := range cases {
		target, err := GetTargetInfo(c.raw)
		require.NoError(t, err, c.raw)
		require.Equal(t, c.board, target.Board, c.raw)
		require.Equal(t, c.postId, target.PostId, c.raw)
	}

	_, err := GetTargetInfo("https://old.reddit.com/r/ausjdocs/")
	require.Error(t, err)
	_, err = GetTargetInfo("  ")
	require.Error(t, err)
}
