package pipelines

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/pipeline"
)

var schedulers = []any{"DDIM", "DPMSolverMultistep", "K_EULER_ANCESTRAL", "K_EULER", "PNDM"}

func sdxlSchema() *pipeline.Schema {
	return pipeline.NewSchema("Stable Diffusion XL",
		pipeline.Field{Name: "prompt", Title: "Prompt", Type: pipeline.TypeString, Required: true, Multiline: true, MinLength: intPtr(1)},
		pipeline.Field{Name: "negative_prompt", Title: "Negative Prompt", Type: pipeline.TypeString, Multiline: true},
		pipeline.Field{Name: "num_outputs", Title: "Num. Outputs", Type: pipeline.TypeInteger, Default: 1},
		pipeline.Field{Name: "width", Title: "Width", Type: pipeline.TypeInteger, Default: 1024},
		pipeline.Field{Name: "height", Title: "Height", Type: pipeline.TypeInteger, Default: 1024},
		pipeline.Field{Name: "high_noise_frac", Title: "High Noise Frac", Type: pipeline.TypeNumber, Default: 0.8},
		pipeline.Field{Name: "num_inference_steps", Title: "Num. Inference Steps", Type: pipeline.TypeInteger, Default: 50},
		pipeline.Field{Name: "guidance_scale", Title: "Guidance Scale", Type: pipeline.TypeNumber, Default: 7.5},
		pipeline.Field{Name: "refine", Title: "Use refine ?", Type: pipeline.TypeBoolean, Default: false},
		pipeline.Field{Name: "seed", Title: "Seed", Description: "Leave blank to randomize the seed", Type: pipeline.TypeInteger},
		pipeline.Field{Name: "scheduler", Title: "Scheduler", Type: pipeline.TypeString, Enum: schedulers, Default: "K_EULER"},
	)
}

func intPtr(n int) *int { return &n }

// SDXL generates images with the diffusion service.
func SDXL(d Deps) *pipeline.Definition {
	d = d.withDefaults()
	desc := pipeline.NewDescriptor("image.sdxl", "Generate image with Stable Diffusion XL")
	desc.Description = "Generate image from text using stable diffusion"
	desc.Output = pipeline.KindImage
	desc.GenerateMedia = true
	return &pipeline.Definition{
		Descriptor: desc,
		Schema:     sdxlSchema(),
		New: func(rt *pipeline.Runtime) pipeline.Handler {
			return &sdxl{Base: pipeline.NewBase(rt), deps: d}
		},
	}
}

type sdxl struct {
	pipeline.Base
	deps Deps
}

func (s *sdxl) Title(context.Context, *chat.Message, *chat.Message) (string, error) {
	return "Stable diffusion generation", nil
}

func (s *sdxl) Process(ctx context.Context, req, resp *chat.Message) error {
	url, err := endpoint(s.deps.SDXLURL, "/process")
	if err != nil {
		return err
	}
	s.Log(ctx, "Starting StableDiffusion")

	payload := make(map[string]any, len(req.Data))
	for k, v := range req.Data {
		if v == nil || v == "" {
			continue
		}
		payload[k] = v
	}
	var out struct {
		Images []string `json:"images"`
	}
	if err := postJSON(ctx, s.deps.HTTP, url, payload, &out, nil); err != nil {
		return err
	}

	s.Log(ctx, "Extracting results")
	var b strings.Builder
	for _, img := range out.Images {
		link, err := s.save(img)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "![generatedfile](%s)\n", link)
	}
	resp.SetResult(b.String())
	return nil
}

// save writes a base64 image under the media directory and returns its URL.
func (s *sdxl) save(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	dir := filepath.Join(s.deps.MediaDir, "downloaded", s.RT.Session.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, uuid.NewString()+".jpg")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", err
	}
	return mediaURL(s.deps.MediaDir, s.deps.MediaURL, path), nil
}
