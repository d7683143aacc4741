package craw

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

const postFullnamePrefix = "t3_"

// TargetInfo identifies one post, optionally with the board it lives on.
type TargetInfo struct {
	Board  string
	PostId string
}

func (targetInfo *TargetInfo) validate() error {
	if targetInfo == nil {
		return fmt.Errorf("targetInfo is nil")
	}

	if targetInfo.PostId == "" {
		return fmt.Errorf("targetInfo is invalid")
	}

	return nil
}

func listingPath(board string) string {
	return fmt.Sprintf("/r/%s/new.json", url.PathEscape(board))
}

func searchPath(board string) string {
	return fmt.Sprintf("/r/%s/search.json", url.PathEscape(board))
}

func (targetInfo TargetInfo) GetCommentsPath() string {
	if targetInfo.Board == "" {
		return fmt.Sprintf("/comments/%s.json", url.PathEscape(targetInfo.PostId))
	}
	return fmt.Sprintf("/r/%s/comments/%s.json", url.PathEscape(targetInfo.Board), url.PathEscape(targetInfo.PostId))
}

// GetTargetInfo accepts a bare post id, a "t3_" fullname or a post permalink
// such as https://old.reddit.com/r/ausjdocs/comments/1owkkre/some_title/.
func GetTargetInfo(raw string) (*TargetInfo, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "/") {
		targetInfo := &TargetInfo{PostId: strings.TrimPrefix(raw, postFullnamePrefix)}
		if err := targetInfo.validate(); err != nil {
			return nil, err
		}
		return targetInfo, nil
	}
	return GetTargetInfoFromUrl(raw)
}

func GetTargetInfoFromUrl(rawURL string) (*TargetInfo, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		logrus.WithError(err).Error("url.Parse failed")
		return nil, err
	}

	targetInfo := &TargetInfo{}
	parts := strings.Split(strings.Trim(parsedURL.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		switch parts[i] {
		case "r":
			targetInfo.Board = parts[i+1]
		case "comments":
			targetInfo.PostId = parts[i+1]
		}
	}

	if err := targetInfo.validate(); err != nil {
		logrus.WithField("url", rawURL).Error("post id not found in url")
		return nil, fmt.Errorf("no post id in %q: %w", rawURL, err)
	}
	return targetInfo, nil
}
