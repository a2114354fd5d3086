// Package registry holds the static, fsnotify-watched tenant roster: the
// thirteen automotive OEMs, their URLs, per-tenant flags, and schedule
// overrides. It is loaded once at startup and hot-reloaded on file change:
// a plain struct with yaml tags plus an explicit Validate step, extended
// with fsnotify watching and validator tags the way
// ipiton-alert-history-service validates its webhook configuration.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Paul008/oem-agent-sub002/internal/wire"
)

// ScheduleOverride customizes the base interval (minutes) for one page type.
type ScheduleOverride struct {
	PageType       wire.PageType `yaml:"page_type" validate:"required"`
	IntervalMinutes int          `yaml:"interval_minutes" validate:"required,gt=0"`
}

// Tenant is one OEM's static registration.
type Tenant struct {
	ID                       string             `yaml:"id" validate:"required"`
	DisplayName              string             `yaml:"display_name" validate:"required"`
	BaseURL                  string             `yaml:"base_url" validate:"required,url"`
	Active                   bool               `yaml:"active"`
	RequiresBrowserRendering bool               `yaml:"requires_browser_rendering"`
	AutoDiscovery            bool               `yaml:"auto_discovery"`
	MonthlyRenderCap         int                `yaml:"monthly_render_cap" validate:"gte=0"`
	ScheduleOverrides        []ScheduleOverride `yaml:"schedule_overrides"`
	BackoffAfterDays         int                `yaml:"backoff_after_days"`
	BackoffMultiplier        float64            `yaml:"backoff_multiplier"`
	MaxRenderIntervalMinutes int                `yaml:"max_render_interval_minutes"`
}

func (t Tenant) withDefaults() Tenant {
	if t.MonthlyRenderCap <= 0 {
		t.MonthlyRenderCap = 1000
	}
	if t.BackoffAfterDays <= 0 {
		t.BackoffAfterDays = 14
	}
	if t.BackoffMultiplier <= 0 {
		t.BackoffMultiplier = 0.5
	}
	if t.MaxRenderIntervalMinutes <= 0 {
		t.MaxRenderIntervalMinutes = 120
	}
	return t
}

// Document is the on-disk / wire shape of the registry file.
type Document struct {
	GlobalRenderCap int      `yaml:"global_render_cap"`
	Tenants         []Tenant `yaml:"tenants"`
}

// Registry is the process-wide, concurrency-safe view of Document. Readers
// get a snapshot copy; the watcher swaps the whole snapshot atomically on
// reload.
type Registry struct {
	mu       sync.RWMutex
	doc      Document
	byID     map[string]Tenant
	path     string
	logger   *slog.Logger
	validate *validator.Validate
	watcher  *fsnotify.Watcher
	onReload []func(Document)
}

// Load reads and validates the registry file at path.
func Load(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{path: path, logger: logger, validate: validator.New()}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("registry: read %s: %w", r.path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("registry: parse %s: %w", r.path, err)
	}
	if doc.GlobalRenderCap <= 0 {
		doc.GlobalRenderCap = 10000
	}
	byID := make(map[string]Tenant, len(doc.Tenants))
	for i, t := range doc.Tenants {
		if err := r.validate.Struct(t); err != nil {
			return fmt.Errorf("registry: tenant %d invalid: %w", i, err)
		}
		doc.Tenants[i] = t.withDefaults()
		byID[t.ID] = doc.Tenants[i]
	}

	r.mu.Lock()
	r.doc = doc
	r.byID = byID
	hooks := append([]func(Document){}, r.onReload...)
	r.mu.Unlock()

	for _, hook := range hooks {
		hook(doc)
	}
	return nil
}

// Watch starts an fsnotify watcher on the registry file and reloads on
// write events, debounced by 250ms to coalesce editor save bursts. The
// returned function stops the watcher.
func (r *Registry) Watch(ctx context.Context) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("registry: new watcher: %w", err)
	}
	if err := w.Add(r.path); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("registry: watch %s: %w", r.path, err)
	}
	r.watcher = w

	done := make(chan struct{})
	go func() {
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				close(done)
				return
			case ev, ok := <-w.Events:
				if !ok {
					close(done)
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, func() {
					if err := r.reload(); err != nil {
						r.logger.Error("registry: reload failed", "error", err)
					} else {
						r.logger.Info("registry: reloaded", "path", r.path)
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					continue
				}
				r.logger.Error("registry: watcher error", "error", err)
			}
		}
	}()

	return func() {
		_ = w.Close()
		<-done
	}, nil
}

// OnReload registers a callback invoked (with the new document) after every
// later successful reload; the document read by Load is not passed to it.
func (r *Registry) OnReload(fn func(Document)) {
	r.mu.Lock()
	r.onReload = append(r.onReload, fn)
	r.mu.Unlock()
}

// Tenants returns a snapshot copy of the active tenant list.
func (r *Registry) Tenants() []Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tenant, 0, len(r.doc.Tenants))
	for _, t := range r.doc.Tenants {
		if t.Active {
			out = append(out, t)
		}
	}
	return out
}

// Tenant looks up one tenant by ID.
func (r *Registry) Tenant(id string) (Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}

// GlobalRenderCap returns the monthly global render budget.
func (r *Registry) GlobalRenderCap() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.GlobalRenderCap
}
