package profile

import (
	"fmt"
	"io/fs"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/autosteer/internal/model"
	yamlutil "github.com/msageha/autosteer/internal/yaml"
)

// TemplatesGlob locates starter profiles inside a template filesystem.
const TemplatesGlob = "profiles/*.yaml"

type storedTemplate struct {
	Profile model.Profile `yaml:"profile"`
}

// LoadTemplates reads every starter profile in fsys. Templates are marked
// read-only and must pass validation.
func LoadTemplates(fsys fs.FS) ([]model.Profile, error) {
	files, err := doublestar.Glob(fsys, TemplatesGlob)
	if err != nil {
		return nil, fmt.Errorf("glob templates: %w", err)
	}
	sort.Strings(files)

	out := make([]model.Profile, 0, len(files))
	for _, name := range files {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
		if err := yamlutil.ValidateSchemaHeaderFromBytes(content, yamlutil.FileTypeProfileTemplate); err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		var doc storedTemplate
		if err := yamlv3.Unmarshal(content, &doc); err != nil {
			return nil, fmt.Errorf("decode template %s: %w", name, err)
		}
		p := doc.Profile
		p.IsTemplate = true
		p.Tags = NormalizeTags(p.Tags)
		if err := Check(p); err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// FindTemplate returns the template with the given id or name.
func FindTemplate(templates []model.Profile, ref string) (model.Profile, bool) {
	for _, t := range templates {
		if t.ID == ref || t.Name == ref {
			return t, true
		}
	}
	return model.Profile{}, false
}
