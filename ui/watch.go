package ui

import (
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

type reloadMsg struct{}

// fileWatcher reports writes to the timeline document. The directory is
// watched rather than the file so editors that replace the file on save
// are noticed.
type fileWatcher struct {
	watcher *fsnotify.Watcher
	path    string
}

func newFileWatcher(path string) (*fileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(abs)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	log.Info("fsnotify watching dir", "dir", dir)
	return &fileWatcher{watcher: w, path: abs}, nil
}

// wait blocks until the document changes. It returns nil once the watcher
// is closed.
func (fw *fileWatcher) wait() tea.Msg {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != fw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			log.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			return reloadMsg{}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			log.Debug("fsnotify error", "file", fw.path, "error", err)
		}
	}
}

func (fw *fileWatcher) close() {
	if err := fw.watcher.Close(); err != nil {
		log.Error("fsnotify fail to close watcher", "error", err)
	}
}
