package harness

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type dataset struct {
	Cases []Case `yaml:"cases"`
}

// LoadCases reads a YAML dataset of the form `cases: [...]`. Cases without
// an id get one from their position.
func LoadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}
	return ParseCases(data)
}

// ParseCases decodes dataset YAML. Cases with empty input are rejected.
func ParseCases(data []byte) ([]Case, error) {
	var ds dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}
	seen := make(map[string]bool, len(ds.Cases))
	for i := range ds.Cases {
		c := &ds.Cases[i]
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" {
			c.ID = fmt.Sprintf("case-%03d", i+1)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate case id %q", c.ID)
		}
		seen[c.ID] = true
		if strings.TrimSpace(c.Input) == "" {
			return nil, fmt.Errorf("case %q: empty input", c.ID)
		}
		c.Category = strings.TrimSpace(c.Category)
	}
	return ds.Cases, nil
}

// Categories lists the distinct categories in first-seen order.
func Categories(cases []Case) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range cases {
		if !seen[c.Category] {
			seen[c.Category] = true
			out = append(out, c.Category)
		}
	}
	return out
}
