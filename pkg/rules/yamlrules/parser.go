package yamlrules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"penserai/acteon/pkg/rules"
)

// ParseError reports a rule file that could not be compiled.
type ParseError struct {
	Source string
	Msg    string
}

func (e *ParseError) Error() string {
	if e.Source == "" {
		return "yamlrules: " + e.Msg
	}
	return fmt.Sprintf("yamlrules: %s: %s", e.Source, e.Msg)
}

func parseErrorf(source, format string, args ...any) *ParseError {
	return &ParseError{Source: source, Msg: fmt.Sprintf(format, args...)}
}

type yamlRuleFile struct {
	Rules []yamlRule `yaml:"rules"`
}

type yamlRule struct {
	Name        string     `yaml:"name"`
	Priority    int        `yaml:"priority"`
	Description string     `yaml:"description"`
	Enabled     *bool      `yaml:"enabled"`
	Timezone    string     `yaml:"timezone"`
	Condition   yaml.Node  `yaml:"condition"`
	Action      yamlAction `yaml:"action"`
}

type yamlAction struct {
	Type           string            `yaml:"type"`
	TTLSeconds     int64             `yaml:"ttl_seconds"`
	TargetProvider string            `yaml:"target_provider"`
	MaxCount       int64             `yaml:"max_count"`
	WindowSeconds  int64             `yaml:"window_seconds"`
	Changes        map[string]any    `yaml:"changes"`
	Handler        string            `yaml:"handler"`
	Params         map[string]string `yaml:"params"`
	NotifyProvider string            `yaml:"notify_provider"`
	TimeoutSeconds int64             `yaml:"timeout_seconds"`
	Message        string            `yaml:"message"`
}

// Parse compiles one YAML document into normalized rules. The source
// string tags each rule's origin for diagnostics.
func Parse(data []byte, source string) ([]*rules.Rule, error) {
	var file yamlRuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, parseErrorf(source, "invalid yaml: %v", err)
	}

	out := make([]*rules.Rule, 0, len(file.Rules))
	seen := make(map[string]bool)
	for i, yr := range file.Rules {
		if yr.Name == "" {
			return nil, parseErrorf(source, "rule %d has no name", i)
		}
		if seen[yr.Name] {
			return nil, parseErrorf(source, "duplicate rule name %q", yr.Name)
		}
		seen[yr.Name] = true

		cond, err := compileCondition(&yr.Condition, source)
		if err != nil {
			return nil, err
		}
		act, err := compileAction(yr.Action, source, yr.Name)
		if err != nil {
			return nil, err
		}

		enabled := true
		if yr.Enabled != nil {
			enabled = *yr.Enabled
		}
		out = append(out, &rules.Rule{
			Name:        yr.Name,
			Priority:    yr.Priority,
			Description: yr.Description,
			Enabled:     enabled,
			Condition:   cond,
			Action:      act,
			Source:      "yaml:" + source,
			Timezone:    yr.Timezone,
		})
	}
	return out, nil
}

// LoadDir parses every *.yaml and *.yml file in dir, in lexical file
// order so declaration order is stable across reloads.
func LoadDir(dir string) ([]*rules.Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("yamlrules: read dir %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	var all []*rules.Rule
	for _, name := range files {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("yamlrules: read %s: %w", path, err)
		}
		parsed, err := Parse(data, path)
		if err != nil {
			return nil, err
		}
		all = append(all, parsed...)
	}
	return all, nil
}
