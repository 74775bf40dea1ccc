package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

const legalSelector = "td a.atitle"

// Legal scrapes Legal Daily. PDF URLs are derived from the page number alone.
type Legal struct{ base }

// NewLegal builds the Legal Daily source.
func NewLegal(cfg Config) *Legal {
	return &Legal{base: newBase(cfg, "legal", "法治日报", "http://epaper.legaldaily.com.cn")}
}

// Discover implements newspaper.LinkSource.
func (s *Legal) Discover(ctx context.Context, date time.Time) ([]newspaper.Task, error) {
	stamp := date.Format("20060102")
	indexURL := fmt.Sprintf("%s/fzrb/content/%s/Page01TB.htm", s.root, stamp)
	doc, err := s.document(ctx, indexURL)
	if err != nil {
		return nil, err
	}
	pages := doc.Find(legalSelector)
	if pages.Length() == 0 {
		return s.noPages(indexURL, legalSelector), nil
	}

	tasks := make([]newspaper.Task, 0, pages.Length())
	pages.Each(func(_ int, page *goquery.Selection) {
		text := strings.TrimSpace(page.Text())
		num, title, ok := strings.Cut(text, ":")
		if !ok {
			return
		}
		num = zfill(strings.TrimSpace(num), 2)
		pdfURL := fmt.Sprintf("%s/fzrb/PDF/%s/%s.pdf", s.root, stamp, num)
		tasks = append(tasks, s.task(date, num, strings.TrimSpace(title), pdfURL))
	})
	return tasks, nil
}
