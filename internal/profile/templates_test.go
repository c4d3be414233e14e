package profile

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/autosteer/templates"
)

func TestLoadTemplates_Embedded(t *testing.T) {
	tpls, err := LoadTemplates(templates.FS)
	require.NoError(t, err)
	require.NotEmpty(t, tpls)

	for _, tpl := range tpls {
		assert.True(t, tpl.IsTemplate, tpl.ID)
		assert.NoError(t, Check(tpl), tpl.ID)
	}

	tpl, ok := FindTemplate(tpls, "tpl_ship_fast")
	require.True(t, ok)
	assert.Equal(t, "Ship fast", tpl.Name)
	_, ok = FindTemplate(tpls, "Ship fast")
	assert.True(t, ok)
	_, ok = FindTemplate(tpls, "nope")
	assert.False(t, ok)
}

func TestLoadTemplates_Rejects(t *testing.T) {
	tests := map[string]string{
		"wrong file type": "schema_version: 1\nfile_type: profile_draft\nprofile:\n  name: x\n",
		"invalid profile": "schema_version: 1\nfile_type: profile_template\nprofile:\n  id: t\n  name: \"\"\n  phases: []\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			fsys := fstest.MapFS{"profiles/bad.yaml": {Data: []byte(content)}}
			_, err := LoadTemplates(fsys)
			assert.Error(t, err)
		})
	}
}
