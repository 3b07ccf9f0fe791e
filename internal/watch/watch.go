// Copyright (C) 2021 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package watch reruns a job whenever one of a set of files changes.
package watch

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 200 * time.Millisecond

// Reruns Run when any of Files is written, created or renamed into place.
// Bursts of events within Debounce trigger a single run.
type Watcher struct {
	Files    []string
	Debounce time.Duration
	Log      io.Writer
	Run      func() error
}

// Runs the job once, then again after every change, until the context is done.
// Errors of the job are logged and do not stop watching.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// watch directories, editors often replace files instead of writing them
	watched := map[string]bool{}
	dirs := map[string]bool{}
	for _, f := range w.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		watched[abs] = true
		dir := filepath.Dir(abs)
		if !dirs[dir] {
			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("watching %s: %w", dir, err)
			}
			dirs[dir] = true
		}
	}

	w.run()

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(event.Name)] ||
				!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.run()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logf("watch error: %s\n", err.Error())
		}
	}
}

func (w *Watcher) run() {
	if err := w.Run(); err != nil {
		w.logf("error: %s\n", err.Error())
	}
}

func (w *Watcher) logf(format string, args ...interface{}) {
	if w.Log != nil {
		fmt.Fprintf(w.Log, format, args...)
	}
}
