package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/muesli/gitcha"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/narrator/internal/timeline"
	"github.com/dgnsrekt/narrator/internal/tracks"
)

var (
	lsAll bool

	lsCmd = &cobra.Command{
		Use:     "ls [DIR]",
		Short:   "List timeline documents",
		Long:    paragraph(fmt.Sprintf("\n%s timeline documents below a directory, skipping files ignored by git.", keyword("List"))),
		Example: paragraph("narrator ls\nnarrator ls --all ~/timelines"),
		Args:    cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			found, err := findTimelines(dir)
			if err != nil {
				return err
			}
			return writeTimelineList(os.Stdout, dir, found, time.Now())
		},
	}
)

// timelineFile is a timeline document found on disk.
type timelineFile struct {
	path     string
	modTime  time.Time
	timeline *timeline.Timeline
	err      error
}

// findTimelines searches dir for timeline documents. Unless --all is set,
// files ignored by git are skipped.
func findTimelines(dir string) ([]timelineFile, error) {
	var (
		ch  chan gitcha.SearchResult
		err error
	)
	if lsAll {
		ch, err = gitcha.FindAllFilesExcept(dir, timeline.Extensions, nil)
	} else {
		ch, err = gitcha.FindFilesExcept(dir, timeline.Extensions, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("error finding timelines: %w", err)
	}

	var found []timelineFile
	for res := range ch {
		f := timelineFile{path: res.Path}
		if res.Info != nil {
			f.modTime = res.Info.ModTime()
		}
		f.timeline, f.err = timeline.Load(res.Path)
		found = append(found, f)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].path < found[j].path })
	return found, nil
}

func writeTimelineList(w io.Writer, dir string, found []timelineFile, now time.Time) error {
	if len(found) == 0 {
		_, err := fmt.Fprintln(w, faint("No timelines found."))
		return err
	}

	base, err := filepath.Abs(dir)
	if err != nil {
		base = dir
	}
	for _, f := range found {
		name := f.path
		if rel, err := filepath.Rel(base, f.path); err == nil {
			name = rel
		}

		var line string
		if f.err != nil {
			line = fmt.Sprintf("%s  %s", name, failure(f.err.Error()))
		} else {
			line = fmt.Sprintf("%s  %s %s",
				name,
				keyword(f.timeline.Title),
				faint(fmt.Sprintf("· %d tracks · %s", len(tracks.Build(f.timeline)), humanize.RelTime(f.modTime, now, "ago", "from now"))),
			)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	lsCmd.Flags().BoolVarP(&lsAll, "all", "a", false, "include files ignored by git")
}
