package config

import (
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration at filePath whenever it changes on
// disk, debouncing the burst of events a single save often produces
// (editors commonly write-then-rename, firing two or three events for
// one logical change), and invokes onReload with the freshly loaded
// config. It runs until stop is closed.
func Watch(filePath string, onReload func(*Config), stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filePath); err != nil {
		return err
	}

	var debounce *time.Timer
	reload := func() {
		cfg, err := Load(filePath)
		if err != nil {
			log.Printf("config: reload failed: %v", err)
			return
		}
		log.Printf("config: reloaded from %s", filePath)
		onReload(cfg)
	}

	for {
		select {
		case <-stop:
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(300*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: watch error: %v", err)
		}
	}
}
