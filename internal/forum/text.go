package forum

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// BodyText prefers the plain text body and falls back to the text content
// of the rendered html body.
func BodyText(text, renderedHtml string) string {
	if text != "" || renderedHtml == "" {
		return text
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(renderedHtml))
	if err != nil {
		logrus.WithError(err).Warn("goquery.NewDocumentFromReader failed")
		return ""
	}

	paragraphs := make([]string, 0)
	doc.Find("p, pre, li:not(:has(p))").Each(func(i int, s *goquery.Selection) {
		if line := strings.TrimSpace(s.Text()); line != "" {
			paragraphs = append(paragraphs, line)
		}
	})
	if len(paragraphs) == 0 {
		return strings.TrimSpace(doc.Text())
	}
	return strings.Join(paragraphs, "\n\n")
}
