package gamedata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTables(t *testing.T) {
	tables := Default()

	assert.True(t, tables.HasScene(8))
	assert.False(t, tables.HasScene(99999))
	assert.Equal(t, "Unknown Scene 99999", tables.SceneName(99999))
	assert.Equal(t, "Stormblade", tables.ClassName(1))
	assert.Equal(t, "", tables.ClassName(3))
	assert.Equal(t, "Unknown Skill (1201)", tables.SkillName(1201))
}

func TestIsBoss(t *testing.T) {
	tables := Default()

	tests := []struct {
		name   string
		typeID int32
		label  string
		want   bool
	}{
		{"explicit boss label", 20088, "", true},
		{"normalized match", 10010, "", true},
		{"plain monster", 40015, "", false},
		{"decoded name only", 0, "Boss: Someone", true},
		{"decoded name normalized", 0, "tempest ogre", true},
		{"unknown", 0, "Rat", false},
		{"empty", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tables.IsBoss(tt.typeID, tt.label))
		})
	}
}

func TestLoadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scenes:
  1001: Frostfang Hollow
monsters:
  40015: Goblin Chief
bosses: [40015]
skills:
  1201: Thunder Slash
`), 0o600))

	tables, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Frostfang Hollow", tables.SceneName(1001))
	assert.True(t, tables.HasScene(8), "defaults kept")
	name, ok := tables.MonsterName(40015)
	require.True(t, ok)
	assert.Equal(t, "Goblin Chief", name)
	assert.True(t, tables.IsBoss(40015, ""))
	assert.Equal(t, "Thunder Slash (1201)", tables.SkillName(1201))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scenes: [1, 2"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
}

func TestLoadEmptyPath(t *testing.T) {
	tables, err := Load("")
	require.NoError(t, err)
	assert.True(t, tables.HasScene(8))
}

func TestSkillSpec(t *testing.T) {
	tables := Default()

	spec, class, ok := tables.SkillSpec(1714)
	require.True(t, ok)
	assert.Equal(t, "Iaido", spec)
	assert.Equal(t, int32(1), class)

	spec, class, ok = tables.SkillSpec(55302)
	require.True(t, ok)
	assert.Equal(t, "Concerto", spec)
	assert.Equal(t, "Beat Performer", tables.ClassName(class))

	_, _, ok = tables.SkillSpec(11)
	assert.False(t, ok)
}

func TestLoadOverrideSpecsAndBuffs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
specs:
  - {name: Frostbite, class: 2, skills: [1241]}
buffs:
  2110051: {short: Haste, long: Battle Haste}
  2110052: {short: Ward}
`), 0o600))

	tables, err := Load(path)
	require.NoError(t, err)

	spec, _, ok := tables.SkillSpec(1241)
	require.True(t, ok)
	assert.Equal(t, "Frostbite", spec)
	spec, _, ok = tables.SkillSpec(1714)
	require.True(t, ok)
	assert.Equal(t, "Iaido", spec, "defaults kept")

	name, ok := tables.BuffName(2110051)
	require.True(t, ok)
	assert.Equal(t, "Haste", name)
	assert.Equal(t, "Battle Haste", tables.BuffLongName(2110051))
	assert.Equal(t, "Ward", tables.BuffLongName(2110052))
	_, ok = tables.BuffName(1)
	assert.False(t, ok)
}
