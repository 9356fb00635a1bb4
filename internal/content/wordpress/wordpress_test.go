package wordpress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	collyfetcher "github.com/JakeFAU/site-cloner/internal/fetcher/colly"
)

type fakeSite struct {
	posts      int
	pages      int
	apiEnabled bool
	linkHeader bool
}

func (s fakeSite) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if s.linkHeader {
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/wp-json/>; rel="https://api.w.org/"`, r.Host))
		}
		_, _ = w.Write([]byte(`<html><head><meta name="generator" content="WordPress 6.4.2">` +
			`<link rel="stylesheet" href="/wp-content/themes/x/style.css"></head>` +
			`<body><div class="elementor-section">hi</div></body></html>`))
	})
	mux.HandleFunc("/wp-json/", func(w http.ResponseWriter, _ *http.Request) {
		if !s.apiEnabled {
			http.Error(w, "disabled", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "Demo Blog", "namespaces": []string{"oembed/1.0", "wp/v2", "elementor/v1"}})
	})
	serve := func(total int, kind string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			start := (page - 1) * perPage
			if start >= total && page > 1 {
				http.Error(w, `{"code":"rest_post_invalid_page_number"}`, http.StatusBadRequest)
				return
			}
			end := min(start+perPage, total)
			items := []map[string]any{}
			for i := start; i < end; i++ {
				items = append(items, map[string]any{
					"id":      i + 1,
					"slug":    fmt.Sprintf("%s-%d", kind, i+1),
					"link":    "http://" + r.Host + "/" + kind,
					"title":   map[string]string{"rendered": fmt.Sprintf("Item &amp; %d", i+1)},
					"content": map[string]string{"rendered": `<p class="wp-block-paragraph">One</p><figure class="wp-block-image"><img src="/a.png"></figure>`},
				})
			}
			_ = json.NewEncoder(w).Encode(items)
		}
	}
	mux.HandleFunc("/wp-json/wp/v2/posts", serve(s.posts, "post"))
	mux.HandleFunc("/wp-json/wp/v2/pages", serve(s.pages, "page"))
	return mux
}

func newClient() *Client {
	return New(collyfetcher.New(collyfetcher.Config{}), 0, nil)
}

func TestDetectReachableAPI(t *testing.T) {
	srv := httptest.NewServer(fakeSite{apiEnabled: true, linkHeader: true}.handler(t))
	t.Cleanup(srv.Close)

	det, err := newClient().Detect(context.Background(), srv.URL)
	require.NoError(t, err)
	require.True(t, det.IsDetected)
	require.True(t, det.APIReachable)
	require.Equal(t, srv.URL+"/wp-json/", det.APIURL)
	require.Equal(t, "6.4.2", det.Version)
	require.Equal(t, "Demo Blog", det.SiteName)
	require.Equal(t, "Elementor", det.PageBuilder)
	// header, wp-content, generator, api reachable
	require.Equal(t, 100*4/6, det.Confidence)
}

func TestDetectUnreachableAPI(t *testing.T) {
	srv := httptest.NewServer(fakeSite{apiEnabled: false}.handler(t))
	t.Cleanup(srv.Close)

	det, err := newClient().Detect(context.Background(), srv.URL)
	require.NoError(t, err)
	require.True(t, det.IsDetected)
	require.False(t, det.APIReachable)
	require.Equal(t, srv.URL+"/wp-json/", det.APIURL)
}

func TestDetectPlainSite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h1>plain</h1></body></html>`))
	}))
	t.Cleanup(srv.Close)

	det, err := newClient().Detect(context.Background(), srv.URL)
	require.NoError(t, err)
	require.False(t, det.IsDetected)
	require.Zero(t, det.Confidence)
}

func TestAcquireCountsItems(t *testing.T) {
	srv := httptest.NewServer(fakeSite{apiEnabled: true, posts: 12, pages: 3}.handler(t))
	t.Cleanup(srv.Close)

	res, err := newClient().Acquire(context.Background(), srv.URL+"/wp-json/", cloner.ContentCaps{Posts: 50, Pages: 50})
	require.NoError(t, err)
	require.Len(t, res.Posts, 12)
	require.Len(t, res.Pages, 3)
	require.Equal(t, 30, res.BlockCount)
	require.Equal(t, "Gutenberg", res.PageBuilder)
	require.Equal(t, "Item & 1", res.Posts[0].Title)
	require.Equal(t, "page", res.Pages[0].Type)
	require.Equal(t, "paragraph", res.Posts[0].Blocks[0].Type)
	require.Equal(t, "image", res.Posts[0].Blocks[1].Type)
}

func TestAcquirePagesUntilCap(t *testing.T) {
	srv := httptest.NewServer(fakeSite{apiEnabled: true, posts: 12, pages: 10}.handler(t))
	t.Cleanup(srv.Close)

	res, err := newClient().Acquire(context.Background(), srv.URL+"/wp-json", cloner.ContentCaps{Posts: 5, Pages: 10})
	require.NoError(t, err)
	require.Len(t, res.Posts, 5)
	require.Len(t, res.Pages, 10)
}

func TestAcquireFailsOnBrokenAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := newClient().Acquire(context.Background(), srv.URL+"/wp-json/", cloner.ContentCaps{Posts: 5, Pages: 5})
	require.ErrorContains(t, err, "status 500")
}

func TestDetectBuilderOrder(t *testing.T) {
	require.Equal(t, "Divi", DetectBuilder(`<div class="et_pb_section wp-block-group">`))
	require.Equal(t, "Gutenberg", DetectBuilder(`<p class="wp-block-paragraph">`))
	require.Empty(t, DetectBuilder("<p>plain</p>"))
}

func TestFlatten(t *testing.T) {
	blocks := Flatten(`<h2>Title</h2>  <p>Some   text</p>`)
	require.Len(t, blocks, 2)
	require.Equal(t, "h2", blocks[0].Type)
	require.Equal(t, "Some text", blocks[1].Text)
	require.Nil(t, Flatten("  "))
}
