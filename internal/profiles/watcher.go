package profiles

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// overridesFile is the on-disk shape of a profile overrides document.
type overridesFile struct {
	Profiles []*Profile `yaml:"profiles"`
}

// LoadOverrides merges profiles from a YAML file into the registry.
// Overrides are additive: they add manufacturers or replace a builtin
// profile wholesale, never partially.
func (r *Registry) LoadOverrides(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var doc overridesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("parse profile overrides: %w", err)
	}
	loaded := 0
	for _, p := range doc.Profiles {
		if err := r.Put(p); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// Watch reloads the overrides file whenever it changes. Falls back to slow
// polling when fsnotify cannot watch the path.
func (r *Registry) Watch(ctx context.Context, path string) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		log.Printf("Profile Watcher: fsnotify failed (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(path); err != nil {
		log.Printf("Profile Watcher: cannot watch %s (%v), falling back to polling", path, err)
		watcher.Close()
		usePolling = true
	}

	reload := func() {
		n, err := r.LoadOverrides(path)
		if err != nil {
			log.Printf("Profile Watcher: reload failed: %v", err)
			return
		}
		log.Printf("Profile Watcher: reloaded %d profile(s) from %s", n, path)
	}

	if usePolling {
		go func() {
			ticker := time.NewTicker(60 * time.Second)
			defer ticker.Stop()
			var lastMod time.Time
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					info, err := os.Stat(path)
					if err != nil {
						continue
					}
					if info.ModTime().After(lastMod) {
						lastMod = info.ModTime()
						reload()
					}
				}
			}
		}()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					// Editors often write in two events; debounce slightly.
					time.Sleep(100 * time.Millisecond)
					reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Profile Watcher error: %v", err)
			}
		}
	}()
}
