package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

const scienceSelector = "div.bmname div a#pageLink"

// Science scrapes Science and Technology Daily. Page numbers are used as
// printed, without zero padding, both in titles and PDF paths.
type Science struct{ base }

// NewScience builds the Science and Technology Daily source.
func NewScience(cfg Config) *Science {
	return &Science{base: newBase(cfg, "science", "科技日报", "https://digitalpaper.stdaily.com")}
}

// Discover implements newspaper.LinkSource.
func (s *Science) Discover(ctx context.Context, date time.Time) ([]newspaper.Task, error) {
	dir := date.Format("2006-01/02")
	stamp := date.Format("20060102")
	indexURL := fmt.Sprintf("%s/http_www.kjrb.com/kjrb/html/%s/node_2.htm", s.root, dir)
	doc, err := s.document(ctx, indexURL)
	if err != nil {
		return nil, err
	}
	pages := doc.Find(scienceSelector)
	if pages.Length() == 0 {
		return s.noPages(indexURL, scienceSelector), nil
	}

	tasks := make([]newspaper.Task, 0, pages.Length())
	pages.Each(func(_ int, page *goquery.Selection) {
		text := strings.TrimSpace(page.Text())
		if !strings.Contains(text, "：") {
			return
		}
		num, ok := pageNumber(text)
		if !ok {
			s.skipPage(text, "no page number")
			return
		}
		title, _ := segment(text, "：")
		pdfURL := fmt.Sprintf("%s/http_www.kjrb.com/kjrb/images/%s/%s/KJRB%s%s.pdf", s.root, dir, num, stamp, num)
		tasks = append(tasks, s.task(date, num, title, pdfURL))
	})
	return tasks, nil
}
