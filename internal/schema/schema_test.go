package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	reg := Default()

	people, ok := reg.Resource("people")
	require.True(t, ok)
	assert.Equal(t, []string{"image"}, people.SaveFiles)
	assert.Contains(t, people.TrackChanges, "email")
	assert.True(t, people.Fields["identifiers"].Disjoint)
	assert.True(t, people.Fields["identifiers"].UniqueElements)

	rel, ok := people.Relation("memberships")
	require.True(t, ok)
	assert.True(t, rel.Many)
	assert.True(t, rel.Reverse())
	assert.Equal(t, "person_id", rel.FKey)

	memberships, _ := reg.Resource("memberships")
	person, ok := memberships.Relation("person")
	require.True(t, ok)
	assert.False(t, person.Many)
	assert.False(t, person.Reverse())

	votes, _ := reg.Resource("votes")
	assert.Contains(t, votes.Fields["option"].Allowed, "yes")

	assert.Len(t, reg.Names(), 11)
}

func TestParseRejectsUnknownRelationTarget(t *testing.T) {
	_, err := Parse([]byte(`
resources:
  people:
    relations:
      memberships: {field: id, resource: memberships, fkey: person_id, many: true}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resource")
}

func TestParseRejectsBadNames(t *testing.T) {
	cases := map[string]string{
		"resource": "resources:\n  People: {}\n",
		"field":    "resources:\n  people:\n    track_changes: [\"e.mail\"]\n",
		"format":   "resources:\n  people:\n    fields:\n      email: {format: phone}\n",
		"fkey":     "resources:\n  people:\n    relations:\n      self: {field: id, resource: people, fkey: \"\"}\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestSourceReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("resources:\n  people: {}\n"), 0o644))

	src, err := OpenSource(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"people"}, src.Registry().Names())

	require.NoError(t, os.WriteFile(path, []byte("resources:\n  people: {}\n  areas: {}\n"), 0o644))
	require.NoError(t, src.Reload())
	assert.Equal(t, []string{"areas", "people"}, src.Registry().Names())

	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))
	assert.Error(t, src.Reload())
	assert.Equal(t, []string{"areas", "people"}, src.Registry().Names(), "broken file keeps previous registry")
}

func TestOpenSourceDefault(t *testing.T) {
	src, err := OpenSource("")
	require.NoError(t, err)
	assert.Empty(t, src.Path())
	_, ok := src.Registry().Resource("motions")
	assert.True(t, ok)
}
