package supervisor

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"pylon/internal/config"
	"pylon/internal/pluginmgr"
	"pylon/pkg/logging"
)

// reloaderChildEnv marks a process as the reload worker: the parent
// supervises and restarts, the child actually initializes modules and
// serves. Only the reload worker ever runs module init.
const reloaderChildEnv = "PYLON_RELOADER_CHILD"

func (s *Supervisor) reloaderParent() bool {
	if os.Getenv(reloaderChildEnv) != "" {
		return false
	}
	return s.settings.Server.UseReloader || config.EnvBool("USE_RELOADER")
}

// runReloaderParent supervises a reload worker process: spawn it, watch the
// plugin source directory, restart the worker on change, forward
// termination. The parent never initializes modules.
func (s *Supervisor) runReloaderParent(ctx context.Context) error {
	s.beforeReloader = true
	logging.Info("Supervisor", "reloader parent: supervising a reload worker")

	stop := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	restart := make(chan struct{}, 1)
	stopWatch, err := s.watchModuleSource(restart)
	if err != nil {
		logging.Warn("Supervisor", "cannot watch module source, reload on change disabled: %v", err)
	} else {
		defer stopWatch()
	}

	go s.reaper.run(stop)
	defer close(stop)

	for {
		child, exited, err := s.spawnWorker()
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			terminateWorker(child, exited)
			return nil
		case <-sigs:
			terminateWorker(child, exited)
			return nil
		case <-restart:
			logging.Info("Supervisor", "module source changed, restarting reload worker")
			terminateWorker(child, exited)
			drain(restart)
		case status := <-exited:
			logging.Warn("Supervisor", "reload worker exited with status %d, restarting", status)
			time.Sleep(time.Second)
		}
	}
}

// watchModuleSource arms the configured reloader type over the plugin
// source directory: "fsnotify" (default) subscribes to filesystem events,
// "poll" stats the tree at RELOADER_INTERVAL.
func (s *Supervisor) watchModuleSource(restart chan<- struct{}) (func(), error) {
	path := optString(s.settings.Modules.Plugins.Provider.Options, "path",
		config.EnvDefault("MODULES_PATH", "plugins"))
	notify := func() {
		select {
		case restart <- struct{}{}:
		default:
		}
	}

	switch config.EnvDefault("RELOADER_TYPE", "fsnotify") {
	case "poll":
		interval := time.Second
		if raw := config.Env("RELOADER_INTERVAL"); raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
				interval = time.Duration(secs) * time.Second
			}
		}
		return pollModuleSource(path, interval, notify), nil
	default:
		return pluginmgr.WatchModules(path, time.Second, notify)
	}
}

// pollModuleSource is the fallback watcher for filesystems without inotify
// support: compare a recursive latest-mtime fingerprint at each interval.
func pollModuleSource(path string, interval time.Duration, notify func()) func() {
	done := make(chan struct{})
	go func() {
		last := treeFingerprint(path)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				current := treeFingerprint(path)
				if current != last {
					last = current
					notify()
				}
			}
		}
	}()
	return func() { close(done) }
}

func treeFingerprint(path string) int64 {
	var latest int64
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); mod > latest {
			latest = mod
		}
		if entry.IsDir() {
			if sub := treeFingerprint(path + "/" + entry.Name()); sub > latest {
				latest = sub
			}
		}
	}
	return latest
}

// spawnWorker re-executes this binary with the child marker set and
// registers the pid with the reaper so the worker's exit status is routed
// back here instead of being discarded.
func (s *Supervisor) spawnWorker() (*exec.Cmd, chan int, error) {
	child := exec.Command(os.Args[0], os.Args[1:]...)
	child.Env = append(os.Environ(), reloaderChildEnv+"=1")
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	if err := child.Start(); err != nil {
		return nil, nil, err
	}
	logging.Info("Supervisor", "reload worker started (pid %d)", child.Process.Pid)

	exited := make(chan int, 1)
	s.reaper.RegisterExternalProcess(child.Process.Pid, func(status syscall.WaitStatus) {
		exited <- status.ExitStatus()
	})
	return child, exited, nil
}

// terminateWorker asks the worker to shut down gracefully and waits for the
// reaper to collect it, escalating to SIGKILL after a grace period.
func terminateWorker(child *exec.Cmd, exited <-chan int) {
	if child.Process == nil {
		return
	}
	child.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(20 * time.Second):
		logging.Warn("Supervisor", "reload worker did not stop in time, killing it")
		child.Process.Kill()
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
		}
	}
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
