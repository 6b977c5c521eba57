package engine

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset bundles the engine options and search limits for one difficulty
// level. Levels trade strength for response time; level1 blunders on
// purpose, level8 plays at full skill.
type Preset struct {
	Name           string `yaml:"name"`
	SkillLevel     int    `yaml:"skill_level"`
	Threads        int    `yaml:"threads"`
	HashMB         int    `yaml:"hash_mb"`
	MoveTimeMillis int    `yaml:"move_time_ms"`
	DepthCap       int    `yaml:"depth_cap"`
	ApproxRating   int    `yaml:"approx_rating"`
}

const defaultThreads = 2

var defaultPresets = map[string]Preset{
	"level1": {Name: "level1", SkillLevel: 0, Threads: defaultThreads, HashMB: 16, MoveTimeMillis: 20, DepthCap: 5, ApproxRating: 600},
	"level2": {Name: "level2", SkillLevel: 1, Threads: defaultThreads, HashMB: 16, MoveTimeMillis: 60, DepthCap: 6, ApproxRating: 850},
	"level3": {Name: "level3", SkillLevel: 3, Threads: defaultThreads, HashMB: 24, MoveTimeMillis: 80, DepthCap: 8, ApproxRating: 1100},
	"level4": {Name: "level4", SkillLevel: 5, Threads: defaultThreads, HashMB: 32, MoveTimeMillis: 140, DepthCap: 10, ApproxRating: 1350},
	"level5": {Name: "level5", SkillLevel: 8, Threads: defaultThreads, HashMB: 48, MoveTimeMillis: 200, DepthCap: 12, ApproxRating: 1600},
	"level6": {Name: "level6", SkillLevel: 12, Threads: defaultThreads, HashMB: 64, MoveTimeMillis: 300, DepthCap: 16, ApproxRating: 1900},
	"level7": {Name: "level7", SkillLevel: 16, Threads: defaultThreads, HashMB: 96, MoveTimeMillis: 500, DepthCap: 20, ApproxRating: 2200},
	"level8": {Name: "level8", SkillLevel: 20, Threads: 4, HashMB: 128, MoveTimeMillis: 1000, DepthCap: 30, ApproxRating: 2600},
}

var presetAliases = map[string]string{
	"beginner":     "level1",
	"intermediate": "level5",
	"advanced":     "level7",
	"master":       "level8",
}

// Presets holds the active preset table. Overrides loaded from a YAML file
// replace or extend the defaults.
type Presets struct {
	byName map[string]Preset
}

func DefaultPresets() *Presets {
	out := make(map[string]Preset, len(defaultPresets))
	for k, v := range defaultPresets {
		out[k] = v
	}
	return &Presets{byName: out}
}

// LoadPresets reads YAML overrides from path and merges them over the
// defaults. An empty path yields the defaults unchanged.
func LoadPresets(path string) (*Presets, error) {
	p := DefaultPresets()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets file: %w", err)
	}
	var overrides map[string]Preset
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse presets file: %w", err)
	}
	for name, ov := range overrides {
		ov.Name = name
		if err := validatePreset(ov); err != nil {
			return nil, fmt.Errorf("preset %s: %w", name, err)
		}
		p.byName[name] = ov
	}
	return p, nil
}

// Get resolves a preset by name or alias.
func (p *Presets) Get(name string) (Preset, error) {
	if alias, ok := presetAliases[name]; ok {
		name = alias
	}
	preset, ok := p.byName[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown engine preset: %s", name)
	}
	return preset, nil
}

// Names returns the known preset names sorted.
func (p *Presets) Names() []string {
	names := make([]string, 0, len(p.byName))
	for name := range p.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validatePreset(p Preset) error {
	switch {
	case p.SkillLevel < 0 || p.SkillLevel > 20:
		return fmt.Errorf("skill level %d out of range 0-20", p.SkillLevel)
	case p.Threads <= 0:
		return fmt.Errorf("threads must be > 0: %d", p.Threads)
	case p.HashMB <= 0:
		return fmt.Errorf("hash size must be > 0: %d", p.HashMB)
	case p.MoveTimeMillis < 0:
		return fmt.Errorf("move time must be >= 0: %d", p.MoveTimeMillis)
	case p.DepthCap < 0:
		return fmt.Errorf("depth cap must be >= 0: %d", p.DepthCap)
	case p.MoveTimeMillis == 0 && p.DepthCap == 0:
		return fmt.Errorf("preset needs a move time or depth cap")
	}
	return nil
}
