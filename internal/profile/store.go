package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/msageha/autosteer/internal/lock"
	"github.com/msageha/autosteer/internal/model"
	yamlutil "github.com/msageha/autosteer/internal/yaml"
)

const DraftsDirName = "drafts"

type storedDraft struct {
	Profile         model.Profile `yaml:"profile"`
	BaseFingerprint string        `yaml:"base_fingerprint"`
	SavedAt         string        `yaml:"saved_at,omitempty"`
}

// DraftSummary is one entry of a draft listing.
type DraftSummary struct {
	ID      string
	Name    string
	Phases  int
	Dirty   bool
	SavedAt string
	Path    string
}

// Store keeps unsaved drafts under <workspace>/drafts as one YAML file per
// profile id.
type Store struct {
	workspaceDir string
	dir          string
	locks        *lock.MutexMap
}

func NewStore(workspaceDir string) *Store {
	return &Store{
		workspaceDir: workspaceDir,
		dir:          filepath.Join(workspaceDir, DraftsDirName),
		locks:        lock.NewMutexMap(),
	}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("invalid draft id %q", id)
	}
	return filepath.Join(s.dir, id+".yaml"), nil
}

func (s *Store) Save(d *Draft) error {
	path, err := s.path(d.ID())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create drafts dir: %w", err)
	}

	s.locks.Lock(d.ID())
	defer s.locks.Unlock(d.ID())

	doc := storedDraft{
		Profile:         d.Profile(),
		BaseFingerprint: d.BaseFingerprint(),
		SavedAt:         time.Now().UTC().Format(time.RFC3339),
	}
	if err := yamlutil.WriteDocument(path, yamlutil.FileTypeProfileDraft, doc); err != nil {
		return fmt.Errorf("save draft %s: %w", d.ID(), err)
	}
	return nil
}

// Load reads the draft stored for id. A corrupted file is quarantined and
// recovered from its backup when possible; the load itself still fails.
func (s *Store) Load(id string) (*Draft, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	var doc storedDraft
	if err := yamlutil.ReadDocument(path, yamlutil.FileTypeProfileDraft, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("draft %s: %w", id, model.ErrNotFound)
		}
		rec, rerr := yamlutil.RecoverCorruptedFile(s.workspaceDir, path, yamlutil.FileTypeProfileDraft)
		switch {
		case rec.Restored:
			return nil, fmt.Errorf("load draft %s: %w (previous version restored, moved to %s)", id, err, rec.QuarantinePath)
		case rec.QuarantinePath != "":
			return nil, fmt.Errorf("load draft %s: %w (moved to %s: %v)", id, err, rec.QuarantinePath, rerr)
		default:
			return nil, fmt.Errorf("load draft %s: %w (recovery failed: %v)", id, err, rerr)
		}
	}
	return Restore(doc.Profile, doc.BaseFingerprint), nil
}

func (s *Store) Delete(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}

	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("draft %s: %w", id, model.ErrNotFound)
		}
		return fmt.Errorf("delete draft %s: %w", id, err)
	}
	_ = os.Remove(path + ".bak")
	return nil
}

// List returns drafts whose id matches pattern (doublestar syntax, empty
// matches all), sorted by id. Unreadable files are skipped.
func (s *Store) List(pattern string) ([]DraftSummary, error) {
	if pattern == "" {
		pattern = "*"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}

	files, err := doublestar.Glob(os.DirFS(s.dir), "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	if len(files) == 0 {
		if _, statErr := os.Stat(s.dir); errors.Is(statErr, os.ErrNotExist) {
			return nil, nil
		}
	}

	var out []DraftSummary
	for _, name := range files {
		id := strings.TrimSuffix(name, ".yaml")
		if ok, _ := doublestar.Match(pattern, id); !ok {
			continue
		}
		path := filepath.Join(s.dir, name)
		var doc storedDraft
		if err := yamlutil.ReadDocument(path, yamlutil.FileTypeProfileDraft, &doc); err != nil {
			continue
		}
		d := Restore(doc.Profile, doc.BaseFingerprint)
		out = append(out, DraftSummary{
			ID:      id,
			Name:    doc.Profile.Name,
			Phases:  len(doc.Profile.Phases),
			Dirty:   d.Dirty(),
			SavedAt: doc.SavedAt,
			Path:    path,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
