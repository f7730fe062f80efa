package pipelines

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/pipeline"
)

const transcriptionTitlePrompt = "The following is a text transcription of an audio file, generate a title for this transcription : %s"

var transcriptTmpl = template.Must(template.New("whisper").Parse(`<div class="transcripts">
{{- range .}}
<div class="transcript">
{{- if .URL}}<audio controls src="{{.URL}}"></audio>{{end}}
<p class="file">{{.Name}}</p>
<p>{{.Text}}</p>
</div>
{{- end}}
</div>`))

// Transcript is the transcription of one session file.
type Transcript struct {
	FileID string `json:"file_id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Text   string `json:"text"`
}

// Whisper transcribes the favourite files of the session.
func Whisper(d Deps) *pipeline.Definition {
	d = d.withDefaults()
	desc := pipeline.NewDescriptor("speech2txt.whisper", "Speech to text transcription")
	desc.Description = "Transcribes the favourite audio files of the session"
	desc.Input = pipeline.KindAudio
	desc.Output = pipeline.KindText
	return &pipeline.Definition{
		Descriptor: desc,
		Schema: pipeline.NewSchema("Transcription",
			pipeline.Field{Name: "prompt", Title: "Comment", Type: pipeline.TypeString, Multiline: true},
		),
		New: func(rt *pipeline.Runtime) pipeline.Handler {
			return &whisper{Base: pipeline.NewBase(rt), deps: d}
		},
	}
}

type whisper struct {
	pipeline.Base
	deps Deps
}

func (w *whisper) Title(ctx context.Context, _, resp *chat.Message) (string, error) {
	var items []Transcript
	if err := decodeField(resp.Data, "result", &items); err != nil {
		return "", err
	}
	const fallback = "Audio to text transcription"
	if len(items) == 0 {
		return fallback, nil
	}
	return titleOrFallback(ctx, w.deps.Titles, fmt.Sprintf(transcriptionTitlePrompt, items[0].Text), fallback)
}

func (w *whisper) FormatRequest(*chat.Message) string {
	return "<Audio file text transcription>"
}

func (w *whisper) FormatResponse(m *chat.Message) string {
	var items []Transcript
	if err := decodeField(m.Data, "result", &items); err != nil {
		return ""
	}
	var b bytes.Buffer
	if err := transcriptTmpl.Execute(&b, items); err != nil {
		return ""
	}
	return b.String()
}

func (w *whisper) Preprocess(_ context.Context, _, resp *chat.Message) error {
	resp.Data = map[string]any{"result": []Transcript{}}
	resp.SetRenderer(chat.RendererHTML)
	return nil
}

func (w *whisper) Process(ctx context.Context, _, resp *chat.Message) error {
	url, err := endpoint(w.deps.WhisperURL, "/transcript")
	if err != nil {
		return err
	}
	if w.RT.Files == nil {
		return fmt.Errorf("session files are not available")
	}
	files, err := w.RT.Files.ListFavoriteFiles(ctx, w.RT.Session.ID)
	if err != nil {
		return err
	}

	items := make([]Transcript, 0, len(files))
	for _, f := range files {
		w.Log(ctx, fmt.Sprintf("Transcribing %s", f.Name))
		var out struct {
			Text string `json:"text"`
		}
		if err := postJSON(ctx, w.deps.HTTP, url, map[string]any{"audio": f.Path}, &out, nil); err != nil {
			return fmt.Errorf("transcribe %s: %w", f.Name, err)
		}
		items = append(items, Transcript{
			FileID: f.ID,
			Name:   f.Name,
			URL:    mediaURL(w.deps.MediaDir, w.deps.MediaURL, f.Path),
			Text:   out.Text,
		})
		resp.SetResult(items)
		w.SendPartial(ctx, resp)
	}
	resp.SetResult(items)
	return nil
}
