package profile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/msageha/autosteer/internal/backend"
	"github.com/msageha/autosteer/internal/events"
	"github.com/msageha/autosteer/internal/model"
	"github.com/msageha/autosteer/internal/reconcile"
)

// Editor opens profiles into drafts and commits them to the backend.
// The cache, store and bus are optional.
type Editor struct {
	client   backend.Client
	cache    *reconcile.Cache
	store    *Store
	bus      *events.Bus
	logger   *log.Logger
	logLevel model.LogLevel
}

func NewEditor(client backend.Client, cache *reconcile.Cache, store *Store, bus *events.Bus, logger *log.Logger, logLevel model.LogLevel) *Editor {
	return &Editor{
		client:   client,
		cache:    cache,
		store:    store,
		bus:      bus,
		logger:   logger,
		logLevel: logLevel,
	}
}

// Open returns the local draft for id when one exists, otherwise a fresh draft
// of the server profile.
func (e *Editor) Open(ctx context.Context, id string) (*Draft, error) {
	if e.store != nil {
		d, err := e.store.Load(id)
		if err == nil {
			e.log(model.LogLevelDebug, "open profile=%s source=draft dirty=%t", id, d.Dirty())
			return d, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
	}

	p, err := e.fetchProfile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open profile %s: %w", id, err)
	}
	return NewDraft(p), nil
}

func (e *Editor) fetchProfile(ctx context.Context, id string) (model.Profile, error) {
	if e.cache == nil {
		return e.client.GetProfile(ctx, id)
	}
	view := e.cache.Get(ctx, reconcile.ProfileKey(id))
	if p, ok := reconcile.Typed[model.Profile](view); ok {
		return p, nil
	}
	if view.Err != nil {
		return model.Profile{}, view.Err
	}
	return model.Profile{}, fmt.Errorf("unexpected cached value %T", view.Value)
}

// NewFromTemplate starts a draft from the backend template matching ref (id or
// name), falling back to local templates.
func (e *Editor) NewFromTemplate(ctx context.Context, ref string, local []model.Profile) (*Draft, error) {
	templates, err := e.client.ListTemplates(ctx)
	if err != nil {
		e.log(model.LogLevelWarn, "list templates error=%v, using local templates", err)
		templates = nil
	}
	tpl, ok := FindTemplate(templates, ref)
	if !ok {
		tpl, ok = FindTemplate(local, ref)
	}
	if !ok {
		return nil, fmt.Errorf("template %q: %w", ref, model.ErrNotFound)
	}
	return FromTemplate(tpl), nil
}

// Save validates d and commits it. Nothing is sent when validation fails.
// When the backend refuses or cannot be reached the draft stays dirty.
func (e *Editor) Save(ctx context.Context, d *Draft) (model.Profile, error) {
	if ve := d.Validate(); ve.HasErrors() {
		return model.Profile{}, ve
	}
	if !d.Dirty() {
		return d.Profile(), nil
	}

	saved, err := e.client.SaveProfile(ctx, d.Profile())
	if err != nil {
		e.log(model.LogLevelWarn, "save profile=%s error=%v", d.ID(), err)
		return model.Profile{}, fmt.Errorf("save profile %s: %w", d.ID(), err)
	}
	d.MarkSaved(saved)

	if e.cache != nil {
		e.cache.Invalidate(reconcile.ProfilesKey(), reconcile.ProfileKey(saved.ID))
	}
	if e.store != nil {
		if err := e.store.Delete(saved.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
			e.log(model.LogLevelWarn, "remove local draft profile=%s error=%v", saved.ID, err)
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:     events.EventProfileSaved,
			EntityID: saved.ID,
			Data:     map[string]any{"name": saved.Name, "phases": len(saved.Phases)},
		})
	}
	e.log(model.LogLevelInfo, "saved profile=%s phases=%d", saved.ID, len(saved.Phases))
	return saved, nil
}

// Delete removes the profile on the backend and any local draft of it.
func (e *Editor) Delete(ctx context.Context, id string) error {
	if err := e.client.DeleteProfile(ctx, id); err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}
	if e.cache != nil {
		e.cache.Invalidate(reconcile.ProfilesKey(), reconcile.ProfileKey(id))
	}
	if e.store != nil {
		if err := e.store.Delete(id); err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (e *Editor) log(level model.LogLevel, format string, args ...any) {
	if e.logger == nil || level < e.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	e.logger.Printf("%s %s profile: %s", time.Now().Format(time.RFC3339), level, msg)
}
