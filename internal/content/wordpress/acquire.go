package wordpress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// MaxPerPage is the REST API's upper bound for per_page.
const MaxPerPage = 100

type rendered struct {
	Rendered string `json:"rendered"`
}

type apiItem struct {
	ID      int      `json:"id"`
	Type    string   `json:"type"`
	Slug    string   `json:"slug"`
	Link    string   `json:"link"`
	Title   rendered `json:"title"`
	Content rendered `json:"content"`
}

// Acquire fetches up to caps.Posts posts and caps.Pages pages and flattens
// their rendered content into blocks.
func (c *Client) Acquire(ctx context.Context, apiURL string, caps cloner.ContentCaps) (cloner.StructuredResult, error) {
	var result cloner.StructuredResult

	posts, postHTML, err := c.collect(ctx, apiURL, "posts", caps.Posts)
	if err != nil {
		return cloner.StructuredResult{}, err
	}
	pages, pageHTML, err := c.collect(ctx, apiURL, "pages", caps.Pages)
	if err != nil {
		return cloner.StructuredResult{}, err
	}
	result.Posts = posts
	result.Pages = pages
	for _, item := range append(append([]cloner.ContentItem(nil), posts...), pages...) {
		result.BlockCount += len(item.Blocks)
	}
	result.PageBuilder = DetectBuilder(postHTML, pageHTML)
	c.logger.Info("wordpress content acquired",
		zap.String("api_url", apiURL),
		zap.Int("posts", len(posts)),
		zap.Int("pages", len(pages)),
		zap.Int("blocks", result.BlockCount),
		zap.String("page_builder", result.PageBuilder),
	)
	return result, nil
}

func (c *Client) collect(ctx context.Context, apiURL, kind string, limit int) ([]cloner.ContentItem, string, error) {
	if limit <= 0 {
		return nil, "", nil
	}
	perPage := min(limit, MaxPerPage)
	var (
		items []cloner.ContentItem
		raw   strings.Builder
	)
	for page := 1; len(items) < limit; page++ {
		endpoint := fmt.Sprintf("%s/%s/%s?per_page=%d&page=%d", strings.TrimRight(apiURL, "/"), coreNamespace, kind, perPage, page)
		resp, err := c.get(ctx, endpoint)
		if err != nil {
			return nil, "", fmt.Errorf("fetch %s page %d: %w", kind, page, err)
		}
		// Paging past the last page answers 400 rest_post_invalid_page_number.
		if resp.StatusCode == http.StatusBadRequest && page > 1 {
			break
		}
		if !resp.OK() {
			return nil, "", fmt.Errorf("fetch %s page %d: status %d", kind, page, resp.StatusCode)
		}
		var batch []apiItem
		if err := json.Unmarshal(resp.Body, &batch); err != nil {
			return nil, "", fmt.Errorf("decode %s page %d: %w", kind, page, err)
		}
		for _, it := range batch {
			if len(items) == limit {
				break
			}
			raw.WriteString(it.Content.Rendered)
			items = append(items, toItem(it, kind))
		}
		if len(batch) < perPage {
			break
		}
	}
	return items, raw.String(), nil
}

func toItem(it apiItem, kind string) cloner.ContentItem {
	typ := it.Type
	if typ == "" {
		typ = strings.TrimSuffix(kind, "s")
	}
	return cloner.ContentItem{
		ID:     it.ID,
		Type:   typ,
		Slug:   it.Slug,
		Title:  plainText(it.Title.Rendered),
		Link:   it.Link,
		Blocks: Flatten(it.Content.Rendered),
	}
}

// Flatten splits rendered HTML into one block per top-level element. Block
// types come from wp-block-* classes when present, otherwise the tag name.
func Flatten(renderedHTML string) []cloner.Block {
	if strings.TrimSpace(renderedHTML) == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body>" + renderedHTML + "</body></html>"))
	if err != nil {
		return nil
	}
	var blocks []cloner.Block
	doc.Find("body").Children().Each(func(_ int, s *goquery.Selection) {
		html, err := goquery.OuterHtml(s)
		if err != nil {
			return
		}
		blocks = append(blocks, cloner.Block{
			Type: blockType(s),
			HTML: html,
			Text: strings.Join(strings.Fields(s.Text()), " "),
		})
	})
	return blocks
}

func blockType(s *goquery.Selection) string {
	for _, class := range strings.Fields(s.AttrOr("class", "")) {
		if name, ok := strings.CutPrefix(class, "wp-block-"); ok && name != "" {
			return name
		}
	}
	return goquery.NodeName(s)
}

func plainText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return strings.TrimSpace(doc.Text())
}
