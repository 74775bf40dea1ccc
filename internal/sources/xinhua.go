package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

const xinhuaSelector = "div.Chunkiconlist p"

// Xinhua scrapes Xinhua Daily.
type Xinhua struct{ base }

// NewXinhua builds the Xinhua Daily source.
func NewXinhua(cfg Config) *Xinhua {
	return &Xinhua{base: newBase(cfg, "xinhua", "新华日报", "https://xh.xhby.net")}
}

// Discover implements newspaper.LinkSource.
func (s *Xinhua) Discover(ctx context.Context, date time.Time) ([]newspaper.Task, error) {
	indexURL := fmt.Sprintf("%s/pc/layout/%s/%s/node_1.html", s.root, date.Format("200601"), date.Format("02"))
	doc, err := s.document(ctx, indexURL)
	if err != nil {
		return nil, err
	}
	pages := doc.Find(xinhuaSelector)
	if pages.Length() == 0 {
		return s.noPages(indexURL, xinhuaSelector), nil
	}

	tasks := make([]newspaper.Task, 0, pages.Length())
	pages.Each(func(_ int, page *goquery.Selection) {
		titleLink := page.Find("a:first-child").First()
		href, ok := page.Find(`a[href$=".pdf"]`).First().Attr("href")
		if titleLink.Length() == 0 || !ok {
			return
		}
		text := strings.TrimSpace(titleLink.Text())
		if !strings.Contains(text, "版：") {
			return
		}
		num, ok := pageNumber(text)
		if !ok {
			s.skipPage(text, "no page number")
			return
		}
		title, _ := segment(text, "版：")
		if strings.HasPrefix(href, parentPrefix) {
			href = strings.ReplaceAll(href, parentPrefix, "")
		}
		tasks = append(tasks, s.task(date, zfill(num, 2), title, fmt.Sprintf("%s/pc/%s", s.root, href)))
	})
	return tasks, nil
}
