package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

const economicSelector = "ul#layoutlist li.posRelative"

// Economic scrapes Economic Daily.
type Economic struct{ base }

// NewEconomic builds the Economic Daily source.
func NewEconomic(cfg Config) *Economic {
	return &Economic{base: newBase(cfg, "economic", "经济日报", "http://paper.ce.cn")}
}

// Discover implements newspaper.LinkSource.
func (s *Economic) Discover(ctx context.Context, date time.Time) ([]newspaper.Task, error) {
	indexURL := fmt.Sprintf("%s/pc/layout/%s/%s/node_01.html", s.root, date.Format("200601"), date.Format("02"))
	doc, err := s.document(ctx, indexURL)
	if err != nil {
		return nil, err
	}
	pages := doc.Find(economicSelector)
	if pages.Length() == 0 {
		return s.noPages(indexURL, economicSelector), nil
	}

	tasks := make([]newspaper.Task, 0, pages.Length())
	pages.Each(func(_ int, page *goquery.Selection) {
		link := page.Find("a:not(.pdf)").First()
		if link.Length() == 0 {
			return
		}
		text := strings.TrimSpace(link.Text())
		if !strings.Contains(text, "版：") {
			return
		}
		num, ok := pageNumber(text)
		if !ok {
			s.skipPage(text, "no page number")
			return
		}
		title, _ := segment(text, "版：")

		value, _ := page.Find(`input[type="hidden"]`).First().Attr("value")
		if value == "" {
			s.skipPage(text, "no pdf path")
			return
		}
		if strings.HasPrefix(value, parentPrefix) {
			value = strings.ReplaceAll(value, parentPrefix, "")
		}
		tasks = append(tasks, s.task(date, zfill(num, 2), title, fmt.Sprintf("%s/pc/%s", s.root, value)))
	})
	return tasks, nil
}
