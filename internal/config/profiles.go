// ABOUTME: Output profile store with hot reload
// ABOUTME: Watches the config file with fsnotify and swaps profiles when it changes
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Resonate-Protocol/soundboard-go/internal/engine"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DefaultProfile is used when a request names no profile
const DefaultProfile = "DEFAULT"

// Profiles maps output profile names to device targets. Safe for concurrent use.
type Profiles struct {
	mu       sync.RWMutex
	profiles map[string][]engine.OutputTarget
}

// NewProfiles creates a store holding a copy of profiles
func NewProfiles(profiles map[string][]engine.OutputTarget) *Profiles {
	p := &Profiles{}
	p.Replace(profiles)
	return p
}

// Get returns the targets of the named profile. Names are case-insensitive
// and an empty name selects DEFAULT.
func (p *Profiles) Get(name string) ([]engine.OutputTarget, bool) {
	if name == "" {
		name = DefaultProfile
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	targets, ok := p.profiles[strings.ToUpper(name)]
	if !ok {
		return nil, false
	}
	return append([]engine.OutputTarget(nil), targets...), true
}

// Names returns the profile names in sorted order
func (p *Profiles) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.profiles))
	for name := range p.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replace swaps in a new set of profiles
func (p *Profiles) Replace(profiles map[string][]engine.OutputTarget) {
	next := normalizeProfiles(profiles)
	for name, targets := range next {
		next[name] = append([]engine.OutputTarget(nil), targets...)
	}

	p.mu.Lock()
	p.profiles = next
	p.mu.Unlock()
}

// Watcher reloads profiles when the config file changes
type Watcher struct {
	v        *viper.Viper
	profiles *Profiles
	path     string
	watcher  *fsnotify.Watcher
	onReload func(names []string)

	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher starts watching the config file v was loaded from. onReload, if
// set, is called with the new profile names after each successful reload.
func NewWatcher(v *viper.Viper, profiles *Profiles, onReload func(names []string)) (*Watcher, error) {
	path := v.ConfigFileUsed()
	if path == "" {
		return nil, errors.New("no config file to watch")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// editors replace files on save, so watch the directory
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &Watcher{
		v:        v,
		profiles: profiles,
		path:     abs,
		watcher:  fw,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	go w.run()

	log.Info("Watching config for profile changes", "file", abs)
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			log.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("fsnotify error", "file", w.path, "error", err)
		}
	}
}

// reload re-reads the file and swaps profiles; invalid files keep the old set
func (w *Watcher) reload() {
	if err := w.v.ReadInConfig(); err != nil {
		log.Warn("Could not re-read config, keeping previous profiles", "err", err)
		return
	}

	var profiles map[string][]engine.OutputTarget
	if err := w.v.UnmarshalKey("profiles", &profiles); err != nil {
		log.Warn("Could not decode profiles, keeping previous profiles", "err", err)
		return
	}
	if err := ValidateProfiles(profiles); err != nil {
		log.Warn("Invalid profiles, keeping previous profiles", "err", err)
		return
	}

	w.profiles.Replace(profiles)
	names := w.profiles.Names()
	log.Info("Profiles reloaded", "profiles", names)
	if w.onReload != nil {
		w.onReload(names)
	}
}

// Close stops watching and waits for the watch goroutine to exit
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
		<-w.done
	})
	return err
}
