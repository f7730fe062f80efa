// Package pipelines holds the concrete pipelines and factories shipped with
// the platform. They are thin adapters over model-serving services.
package pipelines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/suPer8Hu/pipeline-platform/internal/ai"
	"github.com/suPer8Hu/pipeline-platform/internal/pipeline"
)

// Deps are the services the built-in pipelines talk to.
type Deps struct {
	Providers *ai.Registry
	Titles    ai.TitleGenerator
	HTTP      *http.Client

	DefaultModel string
	WhisperURL   string
	SDXLURL      string
	SearchURL    string

	// MediaDir is where generated files are written; MediaURL is the public
	// prefix serving MediaDir.
	MediaDir string
	MediaURL string
}

func (d Deps) withDefaults() Deps {
	if d.HTTP == nil {
		d.HTTP = &http.Client{Timeout: 10 * time.Minute}
	}
	if d.Titles == nil {
		d.Titles = ai.StaticTitle("")
	}
	if d.Providers == nil {
		d.Providers = ai.NewRegistry()
	}
	if d.MediaDir == "" {
		d.MediaDir = "media"
	}
	if d.MediaURL == "" {
		d.MediaURL = "/media/"
	}
	return d
}

// Register adds every built-in backend to lib.
func Register(lib *pipeline.Library, d Deps) {
	d = d.withDefaults()

	lib.AddPipeline("demo.echo", Echo())
	lib.AddPipeline("speech2txt.whisper", Whisper(d))
	lib.AddPipeline("image.sdxl", SDXL(d))

	lib.AddFactory("ollama", NewChatFactory(d))
	lib.AddFactory("translation", NewTranslationFactory(d))
	lib.AddFactory("search", NewSearchFactory(d))
}

// postJSON sends body to url and decodes a JSON reply into out.
func postJSON(ctx context.Context, client *http.Client, url string, body, out any, header http.Header) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func endpoint(base, path string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("service url for %s is not configured", path)
	}
	return strings.TrimRight(base, "/") + path, nil
}

// decodeField reads data[key] into out. Values read back from the database are
// generic JSON; values set during the turn are typed, so both go through JSON.
func decodeField(data map[string]any, key string, out any) error {
	v, ok := data[key]
	if !ok || v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// mediaURL maps a path under dir to its public URL. Paths outside dir map to
// "".
func mediaURL(dir, prefix, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return strings.TrimRight(prefix, "/") + "/" + filepath.ToSlash(rel)
}

func titleOrFallback(ctx context.Context, g ai.TitleGenerator, prompt, fallback string) (string, error) {
	title, err := g.GenerateTitle(ctx, prompt)
	if err != nil {
		return "", err
	}
	if title == "" {
		return fallback, nil
	}
	return title, nil
}
