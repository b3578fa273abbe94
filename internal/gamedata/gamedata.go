// Package gamedata holds the id to name lookup tables of the game client.
package gamedata

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/default.yaml
var defaultTables []byte

// UnknownScene is the display name of a scene missing from the tables.
const UnknownScene = "Unknown Scene"

type file struct {
	Scenes   map[int32]string `yaml:"scenes"`
	Monsters map[int32]string `yaml:"monsters"`
	Bosses   []int32          `yaml:"bosses"`
	Classes  map[int32]string `yaml:"classes"`
	Skills   map[int32]string `yaml:"skills"`
	Specs    []Spec           `yaml:"specs"`
	Buffs    map[int32]Buff   `yaml:"buffs"`
}

// Spec is a class specialisation, recognised by the skills only it casts.
type Spec struct {
	Name    string  `yaml:"name"`
	ClassID int32   `yaml:"class"`
	Skills  []int32 `yaml:"skills"`
}

// Buff holds the display names of a buff.
type Buff struct {
	Short string `yaml:"short"`
	Long  string `yaml:"long"`
}

// Tables is an immutable set of lookup tables, safe for concurrent use.
type Tables struct {
	scenes    map[int32]string
	monsters  map[int32]string
	bosses    map[int32]struct{}
	bossNames map[string]struct{}
	classes   map[int32]string
	skills    map[int32]string
	specs     map[int32]Spec // by signature skill
	buffs     map[int32]Buff
}

// Default returns the embedded tables.
func Default() *Tables {
	t, err := parse(defaultTables, nil)
	if err != nil {
		panic(fmt.Sprintf("gamedata: embedded tables: %v", err))
	}
	return t
}

// Load returns the embedded tables with the file at path merged over them.
// An empty path yields the embedded tables.
func Load(path string) (*Tables, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gamedata: read %s: %w", path, err)
	}
	return parse(defaultTables, data)
}

func parse(base, override []byte) (*Tables, error) {
	var f file
	if err := yaml.Unmarshal(base, &f); err != nil {
		return nil, fmt.Errorf("gamedata: parse defaults: %w", err)
	}
	if override != nil {
		var o file
		if err := yaml.Unmarshal(override, &o); err != nil {
			return nil, fmt.Errorf("gamedata: parse override: %w", err)
		}
		f.Scenes = merge(f.Scenes, o.Scenes)
		f.Monsters = merge(f.Monsters, o.Monsters)
		f.Classes = merge(f.Classes, o.Classes)
		f.Skills = merge(f.Skills, o.Skills)
		f.Bosses = append(f.Bosses, o.Bosses...)
		// later specs win for a shared skill id
		f.Specs = append(f.Specs, o.Specs...)
		if f.Buffs == nil {
			f.Buffs = make(map[int32]Buff, len(o.Buffs))
		}
		maps.Copy(f.Buffs, o.Buffs)
	}
	return build(f), nil
}

func merge(dst, src map[int32]string) map[int32]string {
	if dst == nil {
		dst = make(map[int32]string, len(src))
	}
	maps.Copy(dst, src)
	return dst
}

func build(f file) *Tables {
	t := &Tables{
		scenes:    orEmpty(f.Scenes),
		monsters:  orEmpty(f.Monsters),
		bosses:    make(map[int32]struct{}, len(f.Bosses)),
		bossNames: make(map[string]struct{}),
		classes:   orEmpty(f.Classes),
		skills:    orEmpty(f.Skills),
		specs:     make(map[int32]Spec),
		buffs:     make(map[int32]Buff, len(f.Buffs)),
	}
	maps.Copy(t.buffs, f.Buffs)
	for _, sp := range f.Specs {
		for _, id := range sp.Skills {
			t.specs[id] = sp
		}
	}
	for _, id := range f.Bosses {
		t.bosses[id] = struct{}{}
	}
	for _, name := range t.monsters {
		if strings.Contains(strings.ToLower(name), "boss") {
			if n := normalizeBossName(name); n != "" {
				t.bossNames[n] = struct{}{}
			}
		}
	}
	return t
}

func orEmpty(m map[int32]string) map[int32]string {
	if m == nil {
		return map[int32]string{}
	}
	return m
}

// normalizeBossName lowercases and strips a leading "boss" label with its
// separators, so "Boss - Tempest Ogre" becomes "tempest ogre".
func normalizeBossName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if rest, ok := strings.CutPrefix(s, "boss"); ok {
		return strings.TrimSpace(strings.TrimLeft(rest, " -:"))
	}
	return s
}

// HasScene reports whether id is a known scene.
func (t *Tables) HasScene(id int32) bool {
	_, ok := t.scenes[id]
	return ok
}

// SceneName returns the display name of a scene.
func (t *Tables) SceneName(id int32) string {
	if name, ok := t.scenes[id]; ok {
		return name
	}
	return fmt.Sprintf("%s %d", UnknownScene, id)
}

// MonsterName returns the display name of a monster type.
func (t *Tables) MonsterName(typeID int32) (string, bool) {
	name, ok := t.monsters[typeID]
	return name, ok
}

// IsBoss reports whether a monster is a boss, judged by its type id or its
// name. typeID 0 means unknown.
func (t *Tables) IsBoss(typeID int32, name string) bool {
	if typeID != 0 {
		if _, ok := t.bosses[typeID]; ok {
			return true
		}
		if mapped, ok := t.monsters[typeID]; ok {
			name = mapped
		}
	}
	if name == "" {
		return false
	}
	if strings.Contains(strings.ToLower(name), "boss") {
		return true
	}
	_, ok := t.bossNames[normalizeBossName(name)]
	return ok
}

// ClassName returns the class name for a profession id, or "" when unknown.
func (t *Tables) ClassName(id int32) string {
	return t.classes[id]
}

// SkillName returns the display name of a skill, falling back to its id.
func (t *Tables) SkillName(id int32) string {
	if name, ok := t.skills[id]; ok {
		return fmt.Sprintf("%s (%d)", name, id)
	}
	return fmt.Sprintf("Unknown Skill (%d)", id)
}

// SkillSpec returns the specialisation and class of a player casting skill
// id, when the skill belongs to exactly one specialisation.
func (t *Tables) SkillSpec(id int32) (spec string, classID int32, ok bool) {
	sp, ok := t.specs[id]
	if !ok {
		return "", 0, false
	}
	return sp.Name, sp.ClassID, true
}

// BuffName returns the short display name of a buff.
func (t *Tables) BuffName(id int32) (string, bool) {
	b, ok := t.buffs[id]
	if !ok || b.Short == "" {
		return "", false
	}
	return b.Short, true
}

// BuffLongName returns the long display name of a buff, falling back to the
// short one.
func (t *Tables) BuffLongName(id int32) string {
	b := t.buffs[id]
	if b.Long != "" {
		return b.Long
	}
	return b.Short
}
