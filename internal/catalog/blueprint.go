package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/support-dispatch/internal/domain"
)

// blueprintFile is the on-disk YAML layout.
type blueprintFile struct {
	Items []domain.ConfigurationItem `yaml:"items"`
}

// LoadBlueprint reads configuration items from a YAML file. A missing
// file yields no items and no error.
func LoadBlueprint(path string) ([]domain.ConfigurationItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read blueprint: %w", err)
	}
	return ParseBlueprint(raw)
}

// ParseBlueprint decodes blueprint YAML and validates item types.
func ParseBlueprint(raw []byte) ([]domain.ConfigurationItem, error) {
	var file blueprintFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse blueprint: %w", err)
	}
	for i, item := range file.Items {
		if !item.Type.Valid() {
			return nil, fmt.Errorf("blueprint item %d (%s): unknown type %q", i, item.Name, item.Type)
		}
		if item.Name == "" {
			return nil, fmt.Errorf("blueprint item %d: name required", i)
		}
	}
	return file.Items, nil
}
