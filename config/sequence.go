package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultTeamSequence is used when neither SEQUENCE_FILE nor TEAM_SEQUENCE is set
var DefaultTeamSequence = []string{"coating", "printing", "foiling", "frosting"}

// DefaultSequenceYAML documents the deployment sequence file format
const DefaultSequenceYAML = `# decoration team sequence
version: 1

# Teams work on a component strictly in this order. A team without an
# assignment on a component is skipped for that component.
teams:
  - coating
  - printing
  - foiling
  - frosting
`

// SequenceFile models the deployment sequence YAML document
type SequenceFile struct {
	Version int      `yaml:"version"`
	Teams   []string `yaml:"teams"`
}

// ParseSequence decodes a sequence document
func ParseSequence(data []byte) (*SequenceFile, error) {
	var sf SequenceFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse sequence file: %w", err)
	}
	if sf.Version == 0 {
		sf.Version = 1
	}
	if sf.Version != 1 {
		return nil, fmt.Errorf("unsupported sequence file version %d", sf.Version)
	}
	if len(sf.Teams) == 0 {
		return nil, fmt.Errorf("sequence file lists no teams")
	}
	return &sf, nil
}

// LoadSequence resolves the team sequence. The YAML file wins when path is
// set and exists; otherwise fallback is returned.
func LoadSequence(path string, fallback []string) ([]string, error) {
	if path == "" {
		return fallback, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fallback, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence file: %w", err)
	}

	sf, err := ParseSequence(data)
	if err != nil {
		return nil, err
	}
	return sf.Teams, nil
}
