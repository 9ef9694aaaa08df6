// Package catalog loads the canonical stage sequence and seeds it into the store.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"ats_backend/internal/pipeline/domain"

	"gopkg.in/yaml.v3"
)

//go:embed stages.yaml
var defaultCatalog []byte

type catalogFile struct {
	Stages []stageEntry `yaml:"stages"`
}

type stageEntry struct {
	Name     string `yaml:"name"`
	Order    *int   `yaml:"order"`
	Terminal bool   `yaml:"terminal"`
}

// Writer persists stage definitions.
type Writer interface {
	UpsertStages(ctx context.Context, stages []domain.StageDefinition) error
}

// Load reads the catalog at path, or the built-in catalog when path is empty.
func Load(path string) ([]domain.StageDefinition, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog. Names must be unique and non-blank;
// a missing order means the stage is unordered.
func Parse(data []byte) ([]domain.StageDefinition, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse stage catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Stages))
	stages := make([]domain.StageDefinition, 0, len(file.Stages))
	for i, entry := range file.Stages {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("stage catalog entry %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("stage %q defined twice", name)
		}
		seen[name] = struct{}{}

		order := domain.UnorderedStage
		if entry.Order != nil {
			if *entry.Order < 0 {
				return nil, fmt.Errorf("stage %q has negative order", name)
			}
			order = *entry.Order
		}
		stages = append(stages, domain.StageDefinition{Name: name, Order: order, Terminal: entry.Terminal})
	}
	return domain.SortStages(stages), nil
}

// WithDefault makes sure the canonical default stage is part of stages.
func WithDefault(stages []domain.StageDefinition, defaultStage string) []domain.StageDefinition {
	name := domain.CanonicalDefault(defaultStage)
	if domain.IndexStages(stages).Has(name) {
		return stages
	}
	return domain.SortStages(append(stages, domain.StageDefinition{Name: name, Order: domain.UnorderedStage}))
}

// Seed loads the catalog and upserts it, including the default stage.
func Seed(ctx context.Context, w Writer, path, defaultStage string) ([]domain.StageDefinition, error) {
	stages, err := Load(path)
	if err != nil {
		return nil, err
	}
	stages = WithDefault(stages, defaultStage)
	if err := w.UpsertStages(ctx, stages); err != nil {
		return nil, fmt.Errorf("seed stage catalog: %w", err)
	}
	return stages, nil
}
