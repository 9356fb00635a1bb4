package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/materialize"
)

const (
	htmlContentType = "text/html; charset=utf-8"
	jsonContentType = "application/json"
)

// persist writes the archive export when a blob store is configured: the
// local-path document as index.html, each downloaded stylesheet and script at
// its local path, the structured content as content.json, and the
// single-file preview under a content-addressed name.
func (p *Pipeline) persist(ctx context.Context, st *state) error {
	if p.deps.Blobs == nil {
		return nil
	}
	snap := st.tracker.Snapshot()
	root := p.exportRoot(snap.ID)
	opts := materialize.Options{
		Mode:    materialize.LocalPaths,
		BaseURL: p.baseURL(st).String(),
		Layout:  st.layout,
	}

	archive := materialize.Materialize(st.acq.HTML, st.assets, opts)
	indexURI, err := p.put(ctx, path.Join(root, "index.html"), htmlContentType, []byte(archive.HTML))
	if err != nil {
		return err
	}

	rewriter := materialize.NewRewriter(st.assets, opts)
	written := 0
	for _, a := range st.assets {
		if a.Kind.Binary() || cloner.IsSynthetic(a.URL) || a.LocalPath == "" {
			continue
		}
		body := rewriter.TextAt(a.Content, path.Dir(a.LocalPath))
		if _, err := p.put(ctx, path.Join(root, a.LocalPath), contentTypeOf(a), []byte(body)); err != nil {
			return err
		}
		written++
	}

	if res := st.acq.Structured; res != nil {
		payload, err := json.Marshal(map[string]any{"posts": res.Posts, "pages": res.Pages})
		if err != nil {
			return fmt.Errorf("encode structured content: %w", err)
		}
		if _, err := p.put(ctx, path.Join(root, "content.json"), jsonContentType, payload); err != nil {
			return err
		}
	}

	previewName := "preview.html"
	if p.deps.Hasher != nil {
		sum, err := p.deps.Hasher.Hash([]byte(st.html))
		if err != nil {
			return fmt.Errorf("hash preview: %w", err)
		}
		previewName = "preview-" + sum + ".html"
	}
	if _, err := p.put(ctx, path.Join(root, previewName), htmlContentType, []byte(st.html)); err != nil {
		return err
	}

	st.tracker.Update(func(run *cloner.CloneRun) {
		run.ExportURI = indexURI
	})
	st.tracker.Logf(cloner.LevelInfo, "Exported archive to %s (%d text assets)", indexURI, written)
	return nil
}

func (p *Pipeline) exportRoot(runID string) string {
	prefix := strings.Trim(p.cfg.BlobPrefix, "/")
	if prefix == "" {
		return runID
	}
	return prefix + "/" + runID
}

func (p *Pipeline) put(ctx context.Context, objectPath, contentType string, body []byte) (string, error) {
	uri, err := p.deps.Blobs.PutObject(ctx, objectPath, contentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", objectPath, err)
	}
	return uri, nil
}

func contentTypeOf(a cloner.Asset) string {
	if a.MimeType != "" {
		return a.MimeType
	}
	if a.Kind == cloner.KindStylesheet {
		return "text/css; charset=utf-8"
	}
	return "text/javascript; charset=utf-8"
}
