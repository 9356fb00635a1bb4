package assets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	collyfetcher "github.com/JakeFAU/site-cloner/internal/fetcher/colly"
)

func assetServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/css/site.css", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte(`@font-face{font-family:F;src:url(../fonts/f.woff2)} body{margin:0}`))
	})
	mux.HandleFunc("/app.js", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`console.log("hi")`))
	})
	mux.HandleFunc("/img/ok.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	mux.HandleFunc("/img/broken.png", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/img/slow.png", func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	mux.HandleFunc("/fonts/f.woff2", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("wOF2"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv
}

func TestPipelineIsolatesFailures(t *testing.T) {
	srv := assetServer(t)
	html := `<html><head><link rel="stylesheet" href="/css/site.css"><script src="/app.js"></script>
<style>p{}</style></head><body>
<img src="/img/ok.png" width="10" height="20"><img src="/img/broken.png"><img src="/img/slow.png"><img src="/img/missing.png">
</body></html>`
	refs := Extract(parse(t, html), mustURL(t, srv.URL+"/page"), Limits{})

	p := New(collyfetcher.New(collyfetcher.Config{}), Limits{BinaryTimeout: 200 * time.Millisecond}, nil, nil)
	start := time.Now()
	res := p.Run(context.Background(), refs)
	require.Less(t, time.Since(start), 10*time.Second)

	require.Equal(t, 7, res.Attempted)
	require.Len(t, res.Failures, 3)
	byURL := map[string]cloner.Asset{}
	for _, a := range res.Assets {
		byURL[a.URL] = a
	}
	require.LessOrEqual(t, len(res.Assets)-1, res.Attempted, "inline entries are not attempted")
	for _, f := range res.Failures {
		assert.NotContains(t, byURL, f.URL, "failed task must not yield an asset")
	}

	css := byURL[srv.URL+"/css/site.css"]
	assert.Contains(t, css.Content, `url("`+srv.URL+`/fonts/f.woff2")`, "stylesheet urls are absolutized")
	assert.Equal(t, "css/site.css", css.LocalPath)

	img := byURL[srv.URL+"/img/ok.png"]
	assert.True(t, img.Embedded())
	assert.True(t, strings.HasPrefix(img.Content, "data:image/png;base64,"))
	require.NotNil(t, img.Dimensions)
	assert.Equal(t, 20.0, img.Dimensions.Height)
	assert.Equal(t, []string{"/img/ok.png", srv.URL + "/img/ok.png"}, img.References)

	font := byURL[srv.URL+"/fonts/f.woff2"]
	assert.Equal(t, "data:font/woff2;base64,d09GMg==", font.Content, "font declared by a stylesheet is downloaded")
	assert.Equal(t, "fonts/f.woff2", font.LocalPath)

	assert.Contains(t, byURL, "inline:stylesheet:0")
	assert.Equal(t, `console.log("hi")`, byURL[srv.URL+"/app.js"].Content)
}

func TestPipelineEmptyReferences(t *testing.T) {
	p := New(&countingFetcher{}, Limits{}, nil, nil)
	res := p.Run(context.Background(), References{})
	assert.Empty(t, res.Assets)
	assert.Zero(t, res.Attempted)
	assert.Zero(t, res.TotalSize())
}

func TestPipelineRejectsOversizedAssets(t *testing.T) {
	f := &countingFetcher{body: []byte(strings.Repeat("x", 64))}
	p := New(f, Limits{MaxAssetBytes: 16}, nil, nil)
	res := p.Run(context.Background(), References{Scripts: []Ref{{Kind: cloner.KindScript, URL: "https://cdn.test/big.js"}}})
	assert.Empty(t, res.Assets)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Reason, "size limit")
}

// --- fakes ---

type countingFetcher struct {
	body  []byte
	calls int
}

func (c *countingFetcher) Fetch(_ context.Context, req cloner.FetchRequest) (cloner.FetchResponse, error) {
	c.calls++
	return cloner.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: c.body}, nil
}
