package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

const (
	workerSelector   = "ul#pageUrl li"
	workerFrontTitle = "头版"
)

// Worker scrapes Workers' Daily. The index only lists page numbers, so every
// page except the front page has an empty title.
type Worker struct{ base }

// NewWorker builds the Workers' Daily source.
func NewWorker(cfg Config) *Worker {
	return &Worker{base: newBase(cfg, "worker", "工人日报", "https://www.workercn.cn")}
}

// Discover implements newspaper.LinkSource.
func (s *Worker) Discover(ctx context.Context, date time.Time) ([]newspaper.Task, error) {
	indexURL := fmt.Sprintf("%s/papers/grrb/%s/1/page.html", s.root, date.Format("2006/01/02"))
	doc, err := s.document(ctx, indexURL)
	if err != nil {
		return nil, err
	}
	pages := doc.Find(workerSelector)
	if pages.Length() == 0 {
		return s.noPages(indexURL, workerSelector), nil
	}

	tasks := make([]newspaper.Task, 0, pages.Length())
	pages.Each(func(_ int, page *goquery.Selection) {
		numLink := page.Find("a:not(.pdf)").First()
		if numLink.Length() == 0 {
			s.skipPage(strings.TrimSpace(page.Text()), "no page number")
			return
		}
		num := strings.TrimSpace(numLink.Text())
		href, ok := page.Find("a.pdf").First().Attr("href")
		if !ok {
			return
		}
		title := ""
		if num == "1" {
			title = workerFrontTitle
		}
		tasks = append(tasks, s.task(date, zfill(num, 2), title, s.root+href))
	})
	return tasks, nil
}
