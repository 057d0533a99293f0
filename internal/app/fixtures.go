package app

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"swapline/internal/docstore"
	"swapline/internal/domain"
)

// Fixtures is the YAML document accepted by the import command.
type Fixtures struct {
	Trades     []domain.Trade             `yaml:"trades"`
	Templates  []domain.ChallengeTemplate `yaml:"templates"`
	Challenges []domain.Challenge         `yaml:"challenges"`
}

type ImportResult struct {
	Trades     int `json:"trades"`
	Templates  int `json:"templates"`
	Challenges int `json:"challenges"`
}

// LoadFixtures parses a fixtures file.
func LoadFixtures(path string) (Fixtures, error) {
	var f Fixtures
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("invalid fixtures yaml: %w", err)
	}
	return f, f.validate()
}

func (f Fixtures) validate() error {
	for i, t := range f.Trades {
		if t.ID == "" {
			return fmt.Errorf("trade %d: id is required", i)
		}
		if t.Status == "" {
			return fmt.Errorf("trade %s: status is required", t.ID)
		}
	}
	for i, t := range f.Templates {
		if t.ID == "" {
			return fmt.Errorf("template %d: id is required", i)
		}
	}
	for i, c := range f.Challenges {
		if c.ID == "" {
			return fmt.Errorf("challenge %d: id is required", i)
		}
	}
	return nil
}

// Import writes every fixture in one batch, replacing documents with the same id.
func Import(ctx context.Context, store *docstore.Store, f Fixtures) (ImportResult, error) {
	b := store.Batch()
	for _, t := range f.Trades {
		b.Set(domain.TradesCollection, t.ID, t)
	}
	for _, t := range f.Templates {
		b.Set(domain.TemplatesCollection, t.ID, t)
	}
	for _, c := range f.Challenges {
		b.Set(domain.ChallengesCollection, c.ID, c)
	}
	if err := b.Commit(ctx); err != nil {
		return ImportResult{}, fmt.Errorf("import fixtures: %w", err)
	}
	return ImportResult{Trades: len(f.Trades), Templates: len(f.Templates), Challenges: len(f.Challenges)}, nil
}
