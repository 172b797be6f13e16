package main

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchAndBuild builds once, then rebuilds whenever a source input changes.
// Events are debounced: editors typically produce bursts of writes per save.
func watchAndBuild(ctx context.Context, cfg *buildConfig) error {
	if err := runBuild(ctx, cfg); err != nil {
		log.Printf("build: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the containing directories: watching the files directly breaks
	// with editors which replace files on save.
	dirs := make(map[string]bool)
	interesting := make(map[string]bool)
	for _, in := range cfg.inputs {
		interesting[filepath.Clean(in.Path)] = true
		dirs[filepath.Dir(in.Path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	const debounce = 200 * time.Millisecond
	var timer *time.Timer
	rebuild := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !interesting[filepath.Clean(ev.Name)] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(debounce, func() {
					select {
					case rebuild <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch: %v", err)
		case <-rebuild:
			timer = nil
			if err := runBuild(ctx, cfg); err != nil {
				log.Printf("build: %v", err)
			}
		}
	}
}
