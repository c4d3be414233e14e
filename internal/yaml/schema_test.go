package yaml

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSchemaHeaderFromBytes(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		fileType string
		field    string // empty when the header is accepted
	}{
		{"draft", "schema_version: 1\nfile_type: profile_draft\n", FileTypeProfileDraft, ""},
		{"template", "schema_version: 1\nfile_type: profile_template\n", FileTypeProfileTemplate, ""},
		{"any known type", "schema_version: 1\nfile_type: profile_template\n", "", ""},
		{"missing version", "file_type: profile_draft\n", FileTypeProfileDraft, "schema_version"},
		{"negative version", "schema_version: -1\nfile_type: profile_draft\n", FileTypeProfileDraft, "schema_version"},
		{"future version", "schema_version: 2\nfile_type: profile_draft\n", FileTypeProfileDraft, "schema_version"},
		{"missing type", "schema_version: 1\n", FileTypeProfileDraft, "file_type"},
		{"unknown type", "schema_version: 1\nfile_type: dashboard\n", "", "file_type"},
		{"mismatch", "schema_version: 1\nfile_type: profile_template\n", FileTypeProfileDraft, "file_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchemaHeaderFromBytes([]byte(tt.content), tt.fileType)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSchema)
			var he *HeaderError
			require.True(t, errors.As(err, &he))
			assert.Equal(t, tt.field, he.Field)
		})
	}
}

func TestValidateSchemaHeaderFromBytes_NotYAML(t *testing.T) {
	err := ValidateSchemaHeaderFromBytes([]byte("::: [broken"), FileTypeProfileDraft)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSchema, "a parse failure is not a header problem")
}

func TestParseHeader_IgnoresBody(t *testing.T) {
	h, err := ParseHeader([]byte("schema_version: 1\nfile_type: profile_draft\nprofile:\n  id: prof_a\n"))
	require.NoError(t, err)
	assert.Equal(t, SchemaHeader{SchemaVersion: 1, FileType: FileTypeProfileDraft}, h)
}
