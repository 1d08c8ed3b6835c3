package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/mpingest/pkg/mpingest/internalerr"
	"github.com/cognicore/mpingest/pkg/mpingest/taxonomy"
)

// LoadTaxonomy reads a taxonomy snapshot written by SaveTaxonomy.
func LoadTaxonomy(path string) (*taxonomy.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var snap taxonomy.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: taxonomy %s: %w", internalerr.ErrInvalidConfig, path, err)
	}
	if len(snap.GroupClasses) == 0 {
		return nil, fmt.Errorf("%w: taxonomy %s lists no group classes", internalerr.ErrInvalidConfig, path)
	}
	return &snap, nil
}

// SaveTaxonomy writes snap as YAML.
func SaveTaxonomy(path string, snap *taxonomy.Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
