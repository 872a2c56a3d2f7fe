package scenario

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/BatmanBruc/club-subscription-bot/types"
)

type seedDoc struct {
	Name                 string          `json:"name"`
	IsActive             *bool           `json:"is_active"`
	SubscriptionRequired bool            `json:"subscription_required"`
	Steps                json.RawMessage `json:"steps"`
}

// LoadSeeds reads every *.json, *.yaml and *.yml file in fsys as a scenario.
// The file name without extension is the default scenario name.
func LoadSeeds(fsys fs.FS) ([]types.Scenario, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []types.Scenario
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(path.Ext(name))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		if ext != ".json" {
			if data, err = yamlToJSON(data); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		}
		sc, err := decodeSeed(data, strings.TrimSuffix(name, path.Ext(name)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, *sc)
	}
	return out, nil
}

func decodeSeed(data []byte, defaultName string) (*types.Scenario, error) {
	var doc seedDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Name == "" {
		doc.Name = defaultName
	}
	definition, err := json.Marshal(struct {
		Steps json.RawMessage `json:"steps"`
	}{doc.Steps})
	if err != nil {
		return nil, err
	}
	if _, err := Parse(definition); err != nil {
		return nil, err
	}
	active := true
	if doc.IsActive != nil {
		active = *doc.IsActive
	}
	return &types.Scenario{
		Name:                 doc.Name,
		Definition:           definition,
		IsActive:             active,
		SubscriptionRequired: doc.SubscriptionRequired,
	}, nil
}
