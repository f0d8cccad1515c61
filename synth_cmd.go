package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/narrator/internal/audiocache"
	"github.com/dgnsrekt/narrator/internal/config"
	"github.com/dgnsrekt/narrator/internal/narration"
	"github.com/dgnsrekt/narrator/internal/synth"
	"github.com/dgnsrekt/narrator/internal/tracks"
)

var (
	synthJobs int

	synthCmd = &cobra.Command{
		Use:   "synth TIMELINE [TRACK...]",
		Short: "Synthesize narration ahead of playback",
		Long: paragraph(fmt.Sprintf("\n%s the audio of a timeline's tracks into the audio cache, so playback starts without waiting on the provider. Without track ids every track is synthesized.",
			keyword("Synthesize"))),
		Example: paragraph("narrator synth rome.timeline.json\nnarrator synth rome.timeline.json rome-conclusion m1-context"),
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := openTimeline(args[0])
			if err != nil {
				return err
			}
			selected, err := selectTracks(tracks.NewQueue(tracks.Build(src.timeline)), args[1:])
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cacheDir, err := audioCacheDir()
			if err != nil {
				return err
			}
			syn, err := narration.NewSynthesis(cmd.Context(), cfg, cacheDir)
			if err != nil {
				return err
			}
			defer func() {
				if err := syn.Close(); err != nil {
					log.Error("error closing synthesis", "error", err)
				}
			}()

			return synthesizeTracks(cmd.Context(), os.Stdout, syn, cfg.Voice, selected, synthJobs)
		},
	}
)

// selectTracks returns the tracks named by ids, or every track when ids is
// empty.
func selectTracks(q *tracks.Queue, ids []string) ([]tracks.Track, error) {
	if len(ids) == 0 {
		return q.Tracks(), nil
	}
	out := make([]tracks.Track, 0, len(ids))
	for _, id := range ids {
		t, ok := q.Get(id)
		if !ok {
			return nil, fmt.Errorf("unknown track %q", id)
		}
		out = append(out, t)
	}
	return out, nil
}

// trackSynthesizer is the part of synth.Service synthesizeTracks needs.
type trackSynthesizer interface {
	GetOrSynthesize(ctx context.Context, req synth.Request) (*synth.Result, error)
	Stats() synth.Stats
}

type cacheStatsReporter interface {
	CacheStats() (audiocache.Stats, bool)
}

// synthesizeTracks fetches the audio of every track, at most jobs at a
// time, and reports each result and a summary to w. It fails if any track
// fails, after trying all of them.
func synthesizeTracks(ctx context.Context, w io.Writer, syn trackSynthesizer, voice config.VoiceConfig, list []tracks.Track, jobs int) error {
	var (
		mu     sync.Mutex
		total  uint64
		failed int
	)
	report := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, line) //nolint:errcheck
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, jobs))
	for _, t := range list {
		g.Go(func() error {
			res, err := syn.GetOrSynthesize(ctx, synth.Request{
				Text:         t.Text,
				VoiceID:      voice.ID,
				LanguageCode: voice.Language,
			})
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				report(fmt.Sprintf("%s %s %s", failure("✗"), t.ID, faint(err.Error())))
				return nil
			}

			mu.Lock()
			total += uint64(len(res.Audio))
			mu.Unlock()
			report(fmt.Sprintf("%s %s %s", keyword("✓"), t.ID,
				faint(fmt.Sprintf("%s · %s", res.Source, humanize.Bytes(uint64(len(res.Audio)))))))
			return nil
		})
	}
	_ = g.Wait()

	st := syn.Stats()
	report(faint(fmt.Sprintf("%d tracks, %s in %s: %d from cache, %d synthesized",
		len(list), humanize.Bytes(total), time.Since(start).Round(time.Millisecond), st.CacheHits, st.Synthesized)))
	if r, ok := syn.(cacheStatsReporter); ok {
		if cs, ok := r.CacheStats(); ok {
			report(faint(fmt.Sprintf("cache: %s, %d clips, %s of %s",
				cs.Backend, cs.ItemCount, humanize.Bytes(uint64(max(0, cs.Size))), humanize.Bytes(uint64(max(0, cs.Capacity)))))) //nolint:gosec
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d tracks failed", failed, len(list))
	}
	return nil
}

func init() {
	synthCmd.Flags().IntVarP(&synthJobs, "jobs", "j", 4, "tracks synthesized in parallel")
}
