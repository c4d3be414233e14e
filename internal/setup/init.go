// Package setup creates and locates autosteer workspaces.
package setup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/autosteer/internal/model"
	"github.com/msageha/autosteer/internal/profile"
	atomicyaml "github.com/msageha/autosteer/internal/yaml"
	"github.com/msageha/autosteer/templates"
)

// WorkspaceDirName is the per-project directory holding config, drafts and logs.
const WorkspaceDirName = ".autosteer"

// Default socket names, relative to the workspace.
const (
	DefaultBackendSocket = "backend.sock"
	DefaultEventSocket   = "events.sock"
)

// ErrExists is returned by Init when the project already has a workspace.
var ErrExists = errors.New("workspace already exists")

var workspaceDirs = []string{profile.DraftsDirName, "profiles", "locks", "logs", atomicyaml.QuarantineDirName}

// Options tune Init.
type Options struct {
	// ProjectName defaults to the base name of the project directory.
	ProjectName string
	Now         func() time.Time
}

// Init creates <projectDir>/.autosteer with starter profiles and a config
// and returns its path. The workspace is assembled beside its final location
// and renamed into place, so a failed Init leaves nothing behind.
func Init(projectDir string, opts Options) (string, error) {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}
	ws := filepath.Join(absDir, WorkspaceDirName)
	if _, err := os.Lstat(ws); err == nil {
		return "", fmt.Errorf("%s: %w", ws, ErrExists)
	}
	if opts.ProjectName == "" {
		opts.ProjectName = filepath.Base(absDir)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	staging, err := os.MkdirTemp(absDir, WorkspaceDirName+".init-*")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	if err := populate(staging, opts); err != nil {
		_ = os.RemoveAll(staging)
		return "", err
	}
	if err := os.Chmod(staging, 0755); err != nil {
		_ = os.RemoveAll(staging)
		return "", fmt.Errorf("chmod workspace: %w", err)
	}
	if err := os.Rename(staging, ws); err != nil {
		_ = os.RemoveAll(staging)
		return "", fmt.Errorf("install workspace: %w", err)
	}
	return ws, nil
}

func populate(ws string, opts Options) error {
	for _, d := range workspaceDirs {
		if err := os.MkdirAll(filepath.Join(ws, d), 0755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}

	names, err := doublestar.Glob(templates.FS, profile.TemplatesGlob)
	if err != nil {
		return fmt.Errorf("list starter profiles: %w", err)
	}
	for _, name := range names {
		data, err := fs.ReadFile(templates.FS, name)
		if err != nil {
			return fmt.Errorf("read starter %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(ws, "profiles", path.Base(name)), data, 0644); err != nil {
			return fmt.Errorf("write starter %s: %w", name, err)
		}
	}
	if _, err := profile.LoadTemplates(os.DirFS(ws)); err != nil {
		return fmt.Errorf("verify starter profiles: %w", err)
	}

	cfg, err := decodeConfig(mustEmbedded("config.yaml"))
	if err != nil {
		return fmt.Errorf("config template: %w", err)
	}
	cfg.Project.Name = opts.ProjectName
	cfg.Project.Created = opts.Now().UTC().Format(time.RFC3339)
	if cfg.Backend.SocketPath == "" {
		cfg.Backend.SocketPath = DefaultBackendSocket
	}
	if cfg.Backend.EventSocketPath == "" {
		cfg.Backend.EventSocketPath = DefaultEventSocket
	}
	if err := atomicyaml.AtomicWrite(filepath.Join(ws, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}
	return nil
}

func mustEmbedded(name string) []byte {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		panic(fmt.Sprintf("embedded %s: %v", name, err))
	}
	return data
}

// LoadConfig reads <workspaceDir>/config.yaml, applies defaults and checks
// the result. Unknown keys are rejected.
func LoadConfig(workspaceDir string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(workspaceDir, "config.yaml"))
	if err != nil {
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	cfg, err := decodeConfig(data)
	if err != nil {
		return model.Config{}, fmt.Errorf("config.yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return model.Config{}, fmt.Errorf("config.yaml: %w", err)
	}
	return cfg, nil
}

func decodeConfig(data []byte) (model.Config, error) {
	var cfg model.Config
	dec := yamlv3.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return model.Config{}, err
	}
	return cfg, nil
}

// FindWorkspaceDir returns the nearest .autosteer directory at or above dir,
// or "" if there is none.
func FindWorkspaceDir(dir string) string {
	for {
		candidate := filepath.Join(dir, WorkspaceDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
