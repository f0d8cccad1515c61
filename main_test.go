package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/narrator/internal/audiocache"
	"github.com/dgnsrekt/narrator/internal/config"
	"github.com/dgnsrekt/narrator/internal/narration"
	"github.com/dgnsrekt/narrator/internal/synth"
	"github.com/dgnsrekt/narrator/internal/timeline"
	"github.com/dgnsrekt/narrator/internal/tracks"
)

const romeTimeline = `{
  "data": {
    "id": "rome",
    "title": "Rome",
    "conclusion": "Rome shaped the western world.",
    "milestones": [
      {
        "id": "m1", "title": "Founding", "order": 1,
        "context": "Romulus founds the city.",
        "events": [
          {"id": "e1", "title": "Sabine | women", "left_type": "Historian", "left_opinion": "Mostly legend."}
        ]
      },
      {"id": "m2", "title": "Republic", "order": 2, "context": "The last king is expelled."}
    ]
  }
}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func loadRome(t *testing.T) *timeline.Timeline {
	t.Helper()
	tl, err := timeline.Decode(strings.NewReader(romeTimeline), timeline.FormatJSON)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	return tl
}

func TestEnsureConfigFile(t *testing.T) {
	prev := configFile
	t.Cleanup(func() { configFile = prev })

	t.Run("creates default", func(t *testing.T) {
		configFile = filepath.Join(t.TempDir(), "nested", "narrator.yml")
		if err := ensureConfigFile(); err != nil {
			t.Fatalf("ensureConfigFile() failed: %v", err)
		}
		b, err := os.ReadFile(configFile)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != defaultConfig {
			t.Error("config file does not hold the default configuration")
		}
	})

	t.Run("keeps existing", func(t *testing.T) {
		configFile = filepath.Join(t.TempDir(), "narrator.yaml")
		writeFile(t, configFile, "width: 60\n")
		if err := ensureConfigFile(); err != nil {
			t.Fatalf("ensureConfigFile() failed: %v", err)
		}
		b, _ := os.ReadFile(configFile)
		if string(b) != "width: 60\n" {
			t.Errorf("existing config was overwritten: %q", b)
		}
	})

	t.Run("unsupported extension", func(t *testing.T) {
		configFile = filepath.Join(t.TempDir(), "narrator.toml")
		if err := ensureConfigFile(); err == nil {
			t.Error("expected an error for a .toml config file")
		}
	})
}

func TestDefaultConfigIsValid(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	config.SetDefaults(v)
	if err := v.ReadConfig(strings.NewReader(defaultConfig)); err != nil {
		t.Fatalf("default config does not parse: %v", err)
	}

	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg != config.DefaultConfig() {
		t.Errorf("default config file differs from the built-in defaults:\n got %+v\nwant %+v", cfg, config.DefaultConfig())
	}
}

func TestResolveTimelinePath(t *testing.T) {
	single := t.TempDir()
	writeFile(t, filepath.Join(single, "rome.timeline.json"), romeTimeline)
	writeFile(t, filepath.Join(single, "notes.md"), "# notes")

	multiple := t.TempDir()
	writeFile(t, filepath.Join(multiple, "rome.timeline.json"), romeTimeline)
	writeFile(t, filepath.Join(multiple, "sub", "greece.timeline.yaml"), "id: greece\n")

	tests := []struct {
		name    string
		arg     string
		want    string
		wantErr bool
	}{
		{"file", filepath.Join(single, "rome.timeline.json"), "rome.timeline.json", false},
		{"dir with one timeline", single, "rome.timeline.json", false},
		{"dir with two timelines", multiple, "", true},
		{"not a timeline", filepath.Join(single, "notes.md"), "", true},
		{"missing", filepath.Join(single, "nope.timeline.json"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveTimelinePath(tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveTimelinePath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if !filepath.IsAbs(got) || filepath.Base(got) != tt.want {
				t.Errorf("resolveTimelinePath() = %s, want absolute path to %s", got, tt.want)
			}
		})
	}
}

func TestOpenTimeline_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rome.timeline.json")
	writeFile(t, path, romeTimeline)

	src, err := openTimeline(path)
	if err != nil {
		t.Fatalf("openTimeline() failed: %v", err)
	}
	if src.timeline.ID != "rome" || src.load == nil {
		t.Fatalf("unexpected source %+v", src)
	}

	writeFile(t, path, `{"id": "rome", "title": "Rome", "conclusion": "Shorter."}`)
	tl, err := src.load()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(tl.Milestones) != 0 || tl.Conclusion != "Shorter." {
		t.Errorf("reload returned the old document: %+v", tl)
	}
}

func TestWriteTimelineList(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	found := []timelineFile{
		{path: filepath.Join(dir, "broken.timeline.json"), modTime: now, err: errors.New("unexpected end of JSON input")},
		{path: filepath.Join(dir, "rome.timeline.json"), modTime: now.Add(-2 * time.Hour), timeline: loadRome(t)},
	}

	var buf bytes.Buffer
	if err := writeTimelineList(&buf, dir, found, now); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"broken.timeline.json  unexpected end of JSON input",
		"rome.timeline.json  Rome",
		"4 tracks",
		"2 hours ago",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := writeTimelineList(&buf, dir, nil, now); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No timelines found.") {
		t.Errorf("unexpected output for no timelines: %q", buf.String())
	}
}

func TestTrackTableMarkdown(t *testing.T) {
	md := trackTableMarkdown("Rome", tracks.Build(loadRome(t)))

	for _, want := range []string{
		"# Rome",
		"| 1 | 0 | rome-conclusion | conclusion |",
		"| 2 | 1 | m1-context | milestone_context |",
		"| 3 | 1.1 | e1-content | event |",
		"| 4 | 2 | m2-context | milestone_context |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("table missing %q:\n%s", want, md)
		}
	}
	// a pipe in the narration must not split the cell
	if !strings.Contains(md, `Sabine \| women`) {
		t.Error("pipe in narration text was not escaped")
	}
}

func TestWriteTracksJSON(t *testing.T) {
	list := tracks.Build(loadRome(t))

	var buf bytes.Buffer
	if err := writeTracksJSON(&buf, list); err != nil {
		t.Fatal(err)
	}

	var got []trackJSON
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(got) != len(list) {
		t.Fatalf("got %d tracks, want %d", len(got), len(list))
	}
	if got[2].ID != "e1-content" || got[2].Type != "event" || got[2].ProgressID != "e1" || got[2].MilestoneID != "m1" {
		t.Errorf("unexpected event track %+v", got[2])
	}
}

func TestSelectTracks(t *testing.T) {
	q := tracks.NewQueue(tracks.Build(loadRome(t)))

	all, err := selectTracks(q, nil)
	if err != nil || len(all) != q.Len() {
		t.Fatalf("selectTracks(nil) = %d tracks, %v", len(all), err)
	}

	some, err := selectTracks(q, []string{"m2-context", "rome-conclusion"})
	if err != nil {
		t.Fatal(err)
	}
	if some[0].ID != "m2-context" || some[1].ID != "rome-conclusion" {
		t.Errorf("tracks not returned in the requested order: %v", some)
	}

	if _, err := selectTracks(q, []string{"m9-context"}); err == nil {
		t.Error("expected an error for an unknown track")
	}
}

func TestSynthesizeTracks(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Synthesis.Provider = config.ProviderMock
	cfg.Cache.Backend = audiocache.BackendMemory

	syn, err := narration.NewSynthesis(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("NewSynthesis() failed: %v", err)
	}
	t.Cleanup(func() { _ = syn.Close() })

	list := tracks.Build(loadRome(t))

	var first bytes.Buffer
	if err := synthesizeTracks(context.Background(), &first, syn, cfg.Voice, list, 2); err != nil {
		t.Fatalf("synthesizeTracks() failed: %v", err)
	}
	for _, tr := range list {
		if !strings.Contains(first.String(), "✓ "+tr.ID+" synthesized") {
			t.Errorf("missing result for %s:\n%s", tr.ID, first.String())
		}
	}
	syn.Wait()

	var second bytes.Buffer
	if err := synthesizeTracks(context.Background(), &second, syn, cfg.Voice, list, 2); err != nil {
		t.Fatalf("synthesizeTracks() failed: %v", err)
	}
	if strings.Contains(second.String(), " synthesized ·") {
		t.Errorf("second run synthesized again:\n%s", second.String())
	}
	if !strings.Contains(second.String(), "cache: memory, 4 clips") {
		t.Errorf("missing cache summary:\n%s", second.String())
	}
}

// flakySynthesizer fails the texts it is told to.
type flakySynthesizer struct {
	fail string
}

func (f flakySynthesizer) GetOrSynthesize(_ context.Context, req synth.Request) (*synth.Result, error) {
	if req.Text == f.fail {
		return nil, &synth.SynthesisError{Provider: "mock", Err: errors.New("quota exceeded")}
	}
	return &synth.Result{Audio: []byte("ID3"), Source: synth.SourceSynthesized}, nil
}

func (flakySynthesizer) Stats() synth.Stats { return synth.Stats{} }

func TestSynthesizeTracks_ReportsFailures(t *testing.T) {
	list := tracks.Build(loadRome(t))

	var buf bytes.Buffer
	err := synthesizeTracks(context.Background(), &buf, flakySynthesizer{fail: list[1].Text}, config.VoiceConfig{}, list, 1)
	if err == nil || !strings.Contains(err.Error(), "1 of 4 tracks failed") {
		t.Fatalf("synthesizeTracks() error = %v", err)
	}
	if !strings.Contains(buf.String(), "✗ m1-context") || !strings.Contains(buf.String(), "quota exceeded") {
		t.Errorf("failure not reported:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "✓ m2-context") {
		t.Errorf("tracks after a failure were not synthesized:\n%s", buf.String())
	}
}
