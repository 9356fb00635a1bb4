package analysis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Analyzer names, also used as metric labels.
const (
	NamePerformance = "performance"
	NameSEO         = "seo"
	NameSecurity    = "security"
	NameTechnology  = "technology"
)

// Performance budgets.
const (
	budgetBytes    = 1 << 20
	budgetRequests = 20
)

// checklist accumulates pass/fail checks into a score and findings.
type checklist struct {
	passed   int
	total    int
	findings []string
}

func (c *checklist) check(ok bool, finding string) {
	c.total++
	if ok {
		c.passed++
		return
	}
	c.findings = append(c.findings, finding)
}

func (c *checklist) score() *float64 {
	if c.total == 0 {
		return nil
	}
	s := float64(c.passed) * 100 / float64(c.total)
	return &s
}

func parse(page cloner.Page) (*Doc, error) {
	d, err := NewDoc(page.URL, page.HTML)
	if err != nil {
		return nil, cloner.Permanent(err)
	}
	return d, nil
}

// Performance scores page weight and request count against fixed budgets.
type Performance struct{}

// Name implements cloner.Analyzer.
func (Performance) Name() string { return NamePerformance }

// Analyze implements cloner.Analyzer.
func (Performance) Analyze(_ context.Context, page cloner.Page) (cloner.AnalysisReport, error) {
	var (
		bytes    = int64(len(page.HTML))
		requests int
		blocking int
	)
	for _, a := range page.Assets {
		if cloner.IsSynthetic(a.URL) {
			continue
		}
		requests++
		bytes += a.Size
	}
	d, err := parse(page)
	if err != nil {
		return cloner.AnalysisReport{}, err
	}
	d.Query.Find("head script[src], head script[data-original-src]").Each(func(_ int, s *goquery.Selection) {
		_, async := s.Attr("async")
		_, deferred := s.Attr("defer")
		if !async && !deferred {
			blocking++
		}
	})

	score := 100.0
	var findings []string
	if over := bytes - budgetBytes; over > 0 {
		penalty := float64(over) / float64(budgetBytes) * 10
		score -= min(penalty, 50)
		findings = append(findings, fmt.Sprintf("page weight %d bytes exceeds %d byte budget", bytes, budgetBytes))
	}
	if over := requests - budgetRequests; over > 0 {
		score -= min(float64(over), 30)
		findings = append(findings, fmt.Sprintf("%d asset requests exceed budget of %d", requests, budgetRequests))
	}
	if blocking > 0 {
		score -= min(float64(blocking*5), 20)
		findings = append(findings, fmt.Sprintf("%d render-blocking scripts in <head>", blocking))
	}
	score = max(score, 0)
	return cloner.AnalysisReport{
		Name:     NamePerformance,
		Score:    &score,
		Findings: findings,
		Data: map[string]string{
			"bytes":            strconv.FormatInt(bytes, 10),
			"requests":         strconv.Itoa(requests),
			"blocking_scripts": strconv.Itoa(blocking),
		},
	}, nil
}

// SEO checks on-page search metadata.
type SEO struct{}

// Name implements cloner.Analyzer.
func (SEO) Name() string { return NameSEO }

// Analyze implements cloner.Analyzer.
func (SEO) Analyze(_ context.Context, page cloner.Page) (cloner.AnalysisReport, error) {
	d, err := parse(page)
	if err != nil {
		return cloner.AnalysisReport{}, err
	}
	title := strings.TrimSpace(d.Query.Find("title").First().Text())
	desc := d.Meta("description")
	h1 := d.Query.Find("h1").Length()
	imgs := d.Query.Find("img")
	withAlt := imgs.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.TrimSpace(s.AttrOr("alt", "")) != ""
	}).Length()

	var c checklist
	c.check(len(title) >= 10 && len(title) <= 60, fmt.Sprintf("title length %d outside 10-60", len(title)))
	c.check(len(desc) >= 50 && len(desc) <= 160, fmt.Sprintf("meta description length %d outside 50-160", len(desc)))
	c.check(h1 == 1, fmt.Sprintf("expected one <h1>, found %d", h1))
	c.check(withAlt == imgs.Length(), fmt.Sprintf("%d of %d images lack alt text", imgs.Length()-withAlt, imgs.Length()))
	c.check(d.Exists(`link[rel="canonical"]`), "no canonical link")
	c.check(d.Query.Find("html").AttrOr("lang", "") != "", "no lang attribute on <html>")
	c.check(d.Meta("og:title") != "", "no Open Graph title")

	return cloner.AnalysisReport{
		Name:     NameSEO,
		Score:    c.score(),
		Findings: c.findings,
		Data: map[string]string{
			"title":       title,
			"h1_count":    strconv.Itoa(h1),
			"image_count": strconv.Itoa(imgs.Length()),
		},
	}, nil
}

// Security checks transport and markup hygiene visible in the document.
type Security struct{}

// Name implements cloner.Analyzer.
func (Security) Name() string { return NameSecurity }

// Analyze implements cloner.Analyzer.
func (Security) Analyze(_ context.Context, page cloner.Page) (cloner.AnalysisReport, error) {
	d, err := parse(page)
	if err != nil {
		return cloner.AnalysisReport{}, err
	}
	mixed := 0
	if d.HTTPS() {
		d.Query.Find("[src], link[href]").Each(func(_ int, s *goquery.Selection) {
			ref := s.AttrOr("src", s.AttrOr("href", ""))
			if strings.HasPrefix(strings.ToLower(ref), "http://") {
				mixed++
			}
		})
	}
	handlers := 0
	d.Query.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range s.Nodes[0].Attr {
			if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
				handlers++
			}
		}
	})
	unsafeBlank := d.Query.Find(`a[target="_blank"]`).FilterFunction(func(_ int, s *goquery.Selection) bool {
		rel := strings.ToLower(s.AttrOr("rel", ""))
		return !strings.Contains(rel, "noopener") && !strings.Contains(rel, "noreferrer")
	}).Length()
	insecureForms := d.Query.Find("form[action]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.HasPrefix(strings.ToLower(s.AttrOr("action", "")), "http://")
	}).Length()
	csp := d.Query.Find("meta").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.EqualFold(s.AttrOr("http-equiv", ""), "content-security-policy")
	}).Length() > 0

	var c checklist
	c.check(d.HTTPS(), "page not served over https")
	c.check(mixed == 0, fmt.Sprintf("%d mixed-content references", mixed))
	c.check(csp, "no Content-Security-Policy meta tag")
	c.check(handlers == 0, fmt.Sprintf("%d inline event handlers", handlers))
	c.check(unsafeBlank == 0, fmt.Sprintf("%d target=_blank links without rel=noopener", unsafeBlank))
	c.check(insecureForms == 0, fmt.Sprintf("%d forms submit over http", insecureForms))

	return cloner.AnalysisReport{
		Name:     NameSecurity,
		Score:    c.score(),
		Findings: c.findings,
		Data: map[string]string{
			"mixed_content":   strconv.Itoa(mixed),
			"inline_handlers": strconv.Itoa(handlers),
		},
	}, nil
}

// Technology lists the detected framework, CMS and libraries. It is unscored.
type Technology struct{}

// Name implements cloner.Analyzer.
func (Technology) Name() string { return NameTechnology }

// Analyze implements cloner.Analyzer.
func (Technology) Analyze(_ context.Context, page cloner.Page) (cloner.AnalysisReport, error) {
	d, err := parse(page)
	if err != nil {
		return cloner.AnalysisReport{}, err
	}
	var techs []string
	seen := map[string]bool{}
	add := func(label string) {
		if label == "" || label == StaticLabel || seen[label] {
			return
		}
		seen[label] = true
		techs = append(techs, label)
	}
	add(First(Frameworks, d))
	add(First(CMSRules, d))
	if page.Metadata.Structured != nil && page.Metadata.Structured.PageBuilder != "" {
		add(page.Metadata.Structured.PageBuilder)
	}
	for _, label := range All(Libraries, d) {
		add(label)
	}
	return cloner.AnalysisReport{
		Name:         NameTechnology,
		Technologies: techs,
		Data:         map[string]string{"generator": d.Generator()},
	}, nil
}
