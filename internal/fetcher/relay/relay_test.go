package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	collyfetcher "github.com/JakeFAU/site-cloner/internal/fetcher/colly"
)

var bigPage = "<html><body>" + strings.Repeat("content ", 100) + "</body></html>"

func TestEndpointsOrder(t *testing.T) {
	f := New(&scriptedFetcher{}, Config{
		Relays: []string{"https://relay-a.test/raw?url=%s", "https://relay-b.test/?u="},
		Direct: true,
	}, nil)

	eps := f.Endpoints("https://example.com/a b")
	require.Len(t, eps, 3)
	require.Equal(t, "https://relay-a.test/raw?url=https%3A%2F%2Fexample.com%2Fa+b", eps[0].URL)
	require.Equal(t, "relay-a.test", eps[0].Name)
	require.Equal(t, "https://relay-b.test/?u=https%3A%2F%2Fexample.com%2Fa+b", eps[1].URL)
	require.Equal(t, Endpoint{Name: "direct", URL: "https://example.com/a b"}, eps[2])
}

func TestEndpointsKeepLiteralPercentSigns(t *testing.T) {
	f := New(&scriptedFetcher{}, Config{
		Relays: []string{"https://relay.test/fetch?mode=a%2Cb&url=%s&ratio=100%"},
	}, nil)

	eps := f.Endpoints("https://example.com/")
	require.Len(t, eps, 1)
	require.Equal(t, "https://relay.test/fetch?mode=a%2Cb&url=https%3A%2F%2Fexample.com%2F&ratio=100%", eps[0].URL)
}

func TestFetchDocumentLabelsDirectAttemptsWithoutTargetHost(t *testing.T) {
	fake := &scriptedFetcher{responses: map[string]func() (cloner.FetchResponse, error){
		"https://cardinality-target.test/": func() (cloner.FetchResponse, error) {
			return cloner.FetchResponse{StatusCode: 200, Body: []byte(bigPage)}, nil
		},
	}}
	f := New(fake, Config{Relays: []string{"https://r1.test/?u=%s"}, Direct: true}, nil)

	_, err := f.FetchDocument(context.Background(), "https://cardinality-target.test/")
	require.NoError(t, err)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	endpoints := map[string]bool{}
	for _, mf := range families {
		if mf.GetName() != "cloner_fetch_attempts_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "endpoint" {
					endpoints[lp.GetValue()] = true
				}
			}
		}
	}
	require.True(t, endpoints["direct"], "labels: %v", endpoints)
	require.True(t, endpoints["r1.test"], "labels: %v", endpoints)
	require.False(t, endpoints["cardinality-target.test"], "target host must not become a label")
}

func TestFetchDocumentReturnsLastEndpointWhenOthersFail(t *testing.T) {
	failures := []func() (cloner.FetchResponse, error){
		func() (cloner.FetchResponse, error) { return cloner.FetchResponse{}, context.DeadlineExceeded },
		func() (cloner.FetchResponse, error) { return cloner.FetchResponse{StatusCode: 502, Body: []byte(bigPage)}, nil },
		func() (cloner.FetchResponse, error) { return cloner.FetchResponse{StatusCode: 200, Body: []byte("stub")}, nil },
	}
	// Every ordering of distinct failure causes yields the final endpoint's content.
	for i := range failures {
		order := append(append([]func() (cloner.FetchResponse, error){}, failures[i:]...), failures[:i]...)
		fake := &scriptedFetcher{responses: map[string]func() (cloner.FetchResponse, error){
			"https://r1.test/?u=https%3A%2F%2Fsite.test": order[0],
			"https://r2.test/?u=https%3A%2F%2Fsite.test": order[1],
			"https://r3.test/?u=https%3A%2F%2Fsite.test": order[2],
			"https://site.test": func() (cloner.FetchResponse, error) {
				return cloner.FetchResponse{StatusCode: 200, Body: []byte(bigPage)}, nil
			},
		}}
		f := New(fake, Config{
			Relays: []string{"https://r1.test/?u=%s", "https://r2.test/?u=%s", "https://r3.test/?u=%s"},
			Direct: true,
		}, nil)

		doc, err := f.FetchDocument(context.Background(), "https://site.test")
		require.NoError(t, err)
		require.Equal(t, bigPage, doc.HTML)
		require.Equal(t, "direct", doc.Endpoint)
		require.Equal(t, 4, doc.Attempts)
	}
}

func TestFetchDocumentStopsAtFirstSuccess(t *testing.T) {
	fake := &scriptedFetcher{responses: map[string]func() (cloner.FetchResponse, error){
		"https://r1.test/?u=https%3A%2F%2Fsite.test": func() (cloner.FetchResponse, error) {
			return cloner.FetchResponse{StatusCode: 200, Body: []byte(bigPage)}, nil
		},
	}}
	f := New(fake, Config{Relays: []string{"https://r1.test/?u=%s"}, Direct: true}, nil)

	doc, err := f.FetchDocument(context.Background(), "https://site.test")
	require.NoError(t, err)
	require.Equal(t, 1, doc.Attempts)
	require.Equal(t, []string{"https://r1.test/?u=https%3A%2F%2Fsite.test"}, fake.calls)
}

func TestFetchDocumentAggregatesFailure(t *testing.T) {
	fake := &scriptedFetcher{}
	f := New(fake, Config{Relays: []string{"https://r1.test/?u=%s", "https://r2.test/?u=%s"}, Direct: true}, nil)

	_, err := f.FetchDocument(context.Background(), "https://site.test")
	var acqErr *cloner.AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	require.Equal(t, 3, acqErr.Attempts)
	require.ErrorContains(t, acqErr.Last, "direct")
	require.Len(t, fake.calls, 3)
}

func TestFetchDocumentAppliesPerEndpointTimeout(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(bigPage))
	}))
	t.Cleanup(func() {
		close(release)
		slow.Close()
		good.Close()
	})

	f := New(collyfetcher.New(collyfetcher.Config{}), Config{
		Relays:  []string{slow.URL + "/?u=%s"},
		Direct:  true,
		Timeout: 100 * time.Millisecond,
	}, nil)

	start := time.Now()
	doc, err := f.FetchDocument(context.Background(), good.URL)
	require.NoError(t, err)
	require.Equal(t, "direct", doc.Endpoint)
	require.Equal(t, 2, doc.Attempts)
	require.Less(t, time.Since(start), 5*time.Second)
}

// --- fakes ---

type scriptedFetcher struct {
	mu        sync.Mutex
	responses map[string]func() (cloner.FetchResponse, error)
	calls     []string
}

func (s *scriptedFetcher) Fetch(_ context.Context, req cloner.FetchRequest) (cloner.FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.URL)
	if fn, ok := s.responses[req.URL]; ok {
		return fn()
	}
	return cloner.FetchResponse{}, errors.New("connection refused")
}
