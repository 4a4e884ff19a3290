// Package warmer keeps every family's current version loaded so the first
// request after a promotion does not pay for the disk read.
package warmer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/mcules/model-registry/internal/activity"
	"github.com/mcules/model-registry/internal/logging"
	"github.com/mcules/model-registry/internal/registry"
)

// DefaultDebounce is how long pointer events must settle before a warm pass.
const DefaultDebounce = 250 * time.Millisecond

const pointerFile = "current.txt"

type Warmer struct {
	Store    *registry.Store
	Activity *activity.Log
	Log      logr.Logger

	// Interval between periodic passes; 0 relies on the file watch alone.
	Interval time.Duration
	Debounce time.Duration

	mu     sync.Mutex
	warmed map[string]string
}

func New(store *registry.Store) *Warmer {
	return &Warmer{
		Store:    store,
		Log:      logr.Discard(),
		Debounce: DefaultDebounce,
		warmed:   map[string]string{},
	}
}

// WarmOnce loads the current version of every family. Families without a
// usable pointer are reported in the returned error and skipped.
func (w *Warmer) WarmOnce(ctx context.Context) error {
	families, err := w.Store.ListFamilies()
	if err != nil {
		return err
	}
	var errs []error
	for _, family := range families {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.warm(ctx, family); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", family, err))
		}
	}
	return errors.Join(errs...)
}

func (w *Warmer) warm(ctx context.Context, family string) error {
	version, err := w.Store.ResolvePointer(family, registry.Current)
	if err != nil {
		return err
	}
	set, err := w.Store.Load(ctx, family, version)
	if err != nil {
		return err
	}

	w.mu.Lock()
	prev := w.warmed[family]
	w.warmed[family] = version
	w.mu.Unlock()
	if prev == version {
		return nil
	}

	w.Log.Info("Warmed current version", "family", family, "version", version, "previous", prev, "kind", set.Model.Kind())
	w.Activity.Add(activity.Event{Type: activity.EventWarm, Family: family, Version: version})
	return nil
}

// Run warms once, then again whenever a pointer changes or the interval
// elapses, until ctx is done.
func (w *Warmer) Run(ctx context.Context) {
	w.pass(ctx)

	trigger := make(chan struct{}, 1)
	watcher, err := w.watch(ctx, trigger)
	if err != nil {
		w.Log.Error(err, "Pointer watch unavailable, relying on periodic warming")
	} else {
		defer watcher.Close()
	}

	var tick <-chan time.Time
	if w.Interval > 0 {
		t := time.NewTicker(w.Interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			w.pass(ctx)
		case <-trigger:
			w.pass(ctx)
		}
	}
}

func (w *Warmer) pass(ctx context.Context) {
	if err := w.WarmOnce(ctx); err != nil && ctx.Err() == nil {
		w.Log.V(logging.VERBOSE).Info("Some families were not warmed", "error", err.Error())
	}
}

// watch follows the registry root for new families and every family
// directory for pointer replacements.
func (w *Warmer) watch(ctx context.Context, trigger chan<- struct{}) (*fsnotify.Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create pointer watcher: %w", err)
	}
	root := w.Store.Root()
	if err := fw.Add(root); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %q: %w", root, err)
	}
	families, _ := w.Store.ListFamilies()
	for _, f := range families {
		if err := fw.Add(filepath.Join(root, f)); err != nil {
			w.Log.Error(err, "Cannot watch family", "family", f)
		}
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	traceLogger := w.Log.V(logging.TRACE)

	go func() {
		var debounceTimer *time.Timer
		fire := func() {
			select {
			case trigger <- struct{}{}:
			default:
			}
		}
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				traceLogger.Info("Registry changed", "event", ev.String())

				switch {
				case filepath.Dir(ev.Name) == filepath.Clean(root) && ev.Op&fsnotify.Create != 0:
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() && !strings.HasPrefix(filepath.Base(ev.Name), ".") {
						if err := fw.Add(ev.Name); err != nil {
							w.Log.Error(err, "Cannot watch family", "family", filepath.Base(ev.Name))
						}
					}
				case filepath.Base(ev.Name) == pointerFile && ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0:
				default:
					continue
				}

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounce, fire)

			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.Log.Error(err, "Pointer watcher failed")
			case <-ctx.Done():
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				return
			}
		}
	}()
	return fw, nil
}
