package sources

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

const (
	peopleSelector    = "div.swiper-slide a#pageLink"
	peoplePDFSelector = `a[href*="attachement"][href$=".pdf"]`
)

// People scrapes People's Daily. Each page entry links to a layout page that
// carries the PDF attachment, so discovery costs one request per page.
type People struct{ base }

// NewPeople builds the People's Daily source.
func NewPeople(cfg Config) *People {
	return &People{base: newBase(cfg, "people", "人民日报", "http://paper.people.com.cn")}
}

// Discover implements newspaper.LinkSource.
func (s *People) Discover(ctx context.Context, date time.Time) ([]newspaper.Task, error) {
	ym, day := date.Format("200601"), date.Format("02")
	layoutURL := fmt.Sprintf("%s/rmrb/pc/layout/%s/%s/", s.root, ym, day)
	indexURL := layoutURL + "node_01.html"

	doc, err := s.document(ctx, indexURL)
	if err != nil {
		return nil, err
	}
	pages := doc.Find(peopleSelector)
	if pages.Length() == 0 {
		return s.noPages(indexURL, peopleSelector), nil
	}

	tasks := make([]newspaper.Task, 0, pages.Length())
	pages.Each(func(_ int, page *goquery.Selection) {
		if ctx.Err() != nil {
			return
		}
		href, ok := page.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		text := strings.TrimSpace(page.Text())
		if !strings.Contains(text, "版：") {
			return
		}
		num := strings.TrimSpace(strings.Split(text, "版：")[0])
		title, _ := segment(text, "版：")

		pageURL, err := resolve(layoutURL, href)
		if err != nil {
			s.skipPage(text, err.Error())
			return
		}
		pageDoc, err := s.document(ctx, pageURL)
		if err != nil {
			s.skipPage(text, err.Error())
			return
		}
		pdfHref, ok := pageDoc.Find(peoplePDFSelector).First().Attr("href")
		if !ok {
			s.skipPage(text, "no attachment link")
			return
		}
		pdfURL := fmt.Sprintf("%s/rmrb/pc/attachement/%s/%s/%s", s.root, ym, day, path.Base(pdfHref))
		tasks = append(tasks, s.task(date, zfill(num, 2), title, pdfURL))
	})
	if err := ctx.Err(); err != nil {
		return nil, &newspaper.DiscoveryError{Source: s.id, URL: indexURL, Err: err}
	}
	return tasks, nil
}
