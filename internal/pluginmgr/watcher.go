package pluginmgr

import (
	"time"

	"github.com/fsnotify/fsnotify"

	"pylon/pkg/logging"
)

// WatchModules watches a plugin source directory and invokes onChange when
// any bundle inside it is created, written, renamed, or removed. Events are
// debounced so a multi-file copy triggers one reload, not dozens. Returns a
// stop function. Backs the development reloader's fsnotify mode.
func WatchModules(path string, debounce time.Duration, onChange func()) (func(), error) {
	if debounce <= 0 {
		debounce = time.Second
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-done:
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				logging.Debug("ModuleManager", "module source changed: %s", event.Name)
				if timer == nil {
					timer = time.NewTimer(debounce)
					fire = timer.C
				} else {
					timer.Reset(debounce)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("ModuleManager", "module watcher error: %v", err)
			case <-fire:
				timer = nil
				fire = nil
				onChange()
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
