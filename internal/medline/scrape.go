package medline

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/mpingest/pkg/mpingest/internalerr"
	"github.com/cognicore/mpingest/pkg/mpingest/taxonomy"
)

// Selectors for the section layout shared by the health-topics page and
// the group pages.
const (
	sectionSelector = "article div[class*='col-'] div[class='section']"
	titleSelector   = "div[class='section-title'] h2"
)

// page fetches url and parses it as HTML.
func (c *Client) page(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := c.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	doc := goquery.NewDocumentFromNode(root)
	if u, err := url.Parse(pageURL); err == nil {
		doc.Url = u
	}
	return doc, nil
}

type section struct {
	title string
	links []link
}

type link struct {
	name, url string
}

// sections extracts every titled section of doc with the links of its
// body list.
func sections(doc *goquery.Document) []section {
	var out []section
	doc.Find(sectionSelector).Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.ChildrenFiltered("div[class='section-header']").Find(titleSelector).First().Text())
		if title == "" {
			return
		}

		sec := section{title: title}
		s.ChildrenFiltered("div[class='section-body']").
			ChildrenFiltered("ul").
			ChildrenFiltered("li").
			ChildrenFiltered("a").
			Each(func(_ int, a *goquery.Selection) {
				href, ok := a.Attr("href")
				if !ok {
					return
				}
				sec.links = append(sec.links, link{
					name: strings.TrimSpace(a.Text()),
					url:  absolute(doc.Url, href),
				})
			})
		out = append(out, sec)
	})
	return out
}

func absolute(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// ScrapeGroupClasses reads the health-topics page and returns each group
// class with the groups listed under it.
func (c *Client) ScrapeGroupClasses(ctx context.Context, healthTopicsURL string) ([]taxonomy.GroupClass, error) {
	c.logger.Info("scraping group classes", "url", healthTopicsURL)

	doc, err := c.page(ctx, healthTopicsURL)
	if err != nil {
		return nil, err
	}

	var classes []taxonomy.GroupClass
	for _, sec := range sections(doc) {
		gc := taxonomy.GroupClass{Name: sec.title}
		for _, l := range sec.links {
			gc.Groups = append(gc.Groups, taxonomy.GroupLink{Name: l.name, URL: l.url})
		}
		classes = append(classes, gc)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: no group classes on %s", internalerr.ErrNotFound, healthTopicsURL)
	}
	return classes, nil
}

// ScrapeBodyParts reads a group page and returns its body-part sections.
// A group page without body parts yields an empty slice.
func (c *Client) ScrapeBodyParts(ctx context.Context, groupURL string) ([]taxonomy.BodyPart, error) {
	c.logger.Debug("scraping body parts", "url", groupURL)

	doc, err := c.page(ctx, groupURL)
	if err != nil {
		return nil, err
	}

	var parts []taxonomy.BodyPart
	for _, sec := range sections(doc) {
		bp := taxonomy.BodyPart{GroupURL: groupURL, Name: sec.title}
		for _, l := range sec.links {
			bp.Topics = append(bp.Topics, taxonomy.TopicLink{Name: l.name, URL: l.url})
		}
		parts = append(parts, bp)
	}
	return parts, nil
}

// GatherBodyParts scrapes the body parts of every group of classes with at
// most concurrency requests in flight. The first failure cancels the rest
// and is returned. Results keep the order of the groups.
func (c *Client) GatherBodyParts(ctx context.Context, classes []taxonomy.GroupClass, concurrency int) ([]taxonomy.BodyPart, error) {
	var groups []string
	for _, gc := range classes {
		for _, g := range gc.Groups {
			groups = append(groups, g.URL)
		}
	}

	results := make([][]taxonomy.BodyPart, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, groupURL := range groups {
		g.Go(func() error {
			parts, err := c.ScrapeBodyParts(gctx, groupURL)
			if err != nil {
				return fmt.Errorf("body parts of %s: %w", groupURL, err)
			}
			results[i] = parts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []taxonomy.BodyPart
	for _, parts := range results {
		all = append(all, parts...)
	}
	c.logger.Info("scraped body parts", "groups", len(groups), "body_parts", len(all))
	return all, nil
}

// ScrapeTaxonomy scrapes the group classes and then the body parts of all
// their groups.
func (c *Client) ScrapeTaxonomy(ctx context.Context, healthTopicsURL string, concurrency int) (*taxonomy.Snapshot, error) {
	classes, err := c.ScrapeGroupClasses(ctx, healthTopicsURL)
	if err != nil {
		return nil, err
	}
	parts, err := c.GatherBodyParts(ctx, classes, concurrency)
	if err != nil {
		return nil, err
	}
	return &taxonomy.Snapshot{GroupClasses: classes, BodyParts: parts}, nil
}

var (
	groupsFilePattern = regexp.MustCompile(`mplus_topic_groups_(\d{4}-\d{2}-\d{2})\.xml$`)
	topicsFilePattern = regexp.MustCompile(`mplus_topics_(\d{4}-\d{2}-\d{2})\.xml$`)
)

// XMLFiles holds the URLs of the latest dumps listed on the XML page.
type XMLFiles struct {
	Groups string
	Topics string
}

// ScrapeXMLFiles finds the most recent group and topic dump links on the
// MedlinePlus XML files page.
func (c *Client) ScrapeXMLFiles(ctx context.Context, xmlFilesURL string) (XMLFiles, error) {
	doc, err := c.page(ctx, xmlFilesURL)
	if err != nil {
		return XMLFiles{}, err
	}

	var files XMLFiles
	var groupsDate, topicsDate string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if m := groupsFilePattern.FindStringSubmatch(href); m != nil && m[1] > groupsDate {
			groupsDate, files.Groups = m[1], absolute(doc.Url, href)
		}
		if m := topicsFilePattern.FindStringSubmatch(href); m != nil && m[1] > topicsDate {
			topicsDate, files.Topics = m[1], absolute(doc.Url, href)
		}
	})

	if files.Groups == "" && files.Topics == "" {
		return XMLFiles{}, fmt.Errorf("%w: no XML dump links on %s", internalerr.ErrNotFound, xmlFilesURL)
	}
	c.logger.Info("located XML dumps", "groups", files.Groups, "topics", files.Topics)
	return files, nil
}
