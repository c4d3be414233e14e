package yaml

import (
	"errors"
	"fmt"

	yamlv3 "gopkg.in/yaml.v3"
)

// CurrentSchemaVersion is written into every document header.
const CurrentSchemaVersion = 1

// Document kinds kept under the workspace.
const (
	FileTypeProfileDraft    = "profile_draft"
	FileTypeProfileTemplate = "profile_template"
)

var knownFileTypes = map[string]bool{
	FileTypeProfileDraft:    true,
	FileTypeProfileTemplate: true,
}

// ErrSchema matches every header problem.
var ErrSchema = errors.New("invalid schema header")

// HeaderError describes a document whose header cannot be accepted.
type HeaderError struct {
	Field  string
	Reason string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *HeaderError) Is(target error) bool { return target == ErrSchema }

// SchemaHeader is the leading part of every workspace document.
type SchemaHeader struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

// ParseHeader decodes the header of content without checking it.
func ParseHeader(content []byte) (SchemaHeader, error) {
	var h SchemaHeader
	if err := yamlv3.Unmarshal(content, &h); err != nil {
		return SchemaHeader{}, fmt.Errorf("parse yaml: %w", err)
	}
	return h, nil
}

// Check accepts h if it is a supported version of fileType. An empty fileType
// accepts any known type.
func (h SchemaHeader) Check(fileType string) error {
	switch {
	case h.SchemaVersion < 1:
		return &HeaderError{Field: "schema_version", Reason: fmt.Sprintf("got %d, must be >= 1", h.SchemaVersion)}
	case h.SchemaVersion > CurrentSchemaVersion:
		return &HeaderError{Field: "schema_version", Reason: fmt.Sprintf("%d is newer than supported %d", h.SchemaVersion, CurrentSchemaVersion)}
	case h.FileType == "":
		return &HeaderError{Field: "file_type", Reason: "missing"}
	case !knownFileTypes[h.FileType]:
		return &HeaderError{Field: "file_type", Reason: fmt.Sprintf("unknown %q", h.FileType)}
	case fileType != "" && h.FileType != fileType:
		return &HeaderError{Field: "file_type", Reason: fmt.Sprintf("got %q, want %q", h.FileType, fileType)}
	}
	return nil
}

// ValidateSchemaHeaderFromBytes parses and checks the header of content.
func ValidateSchemaHeaderFromBytes(content []byte, fileType string) error {
	h, err := ParseHeader(content)
	if err != nil {
		return err
	}
	return h.Check(fileType)
}
