package chains

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definitions models the optional networks.yaml file.
type Definitions struct {
	Networks map[string]Definition `yaml:"networks"`
}

// Definition describes a single network entry.
type Definition struct {
	ChainID     int64  `yaml:"chain_id"`
	Description string `yaml:"description"`
}

// LoadDefinitions parses the YAML file with extra network metadata. An empty
// path is not an error; it simply contributes nothing.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Networks: map[string]Definition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("read network definitions: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("parse network definitions: %w", err)
	}
	if defs.Networks == nil {
		defs.Networks = map[string]Definition{}
	}
	return defs, nil
}
