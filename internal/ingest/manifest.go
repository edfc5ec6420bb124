package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ManifestCard is one entry of a LorcanaJSON-style card manifest.
type ManifestCard struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Subtitle      string `json:"subtitle"`
	SetCode       string `json:"setCode"`
	Number        int    `json:"number"`
	Rarity        string `json:"rarity"`
	PromoGrouping string `json:"promoGrouping"`
	Images        struct {
		Full string `json:"full"`
	} `json:"images"`
}

// ID is the catalog id, "<set>-<number>".
func (c ManifestCard) ID() string {
	return fmt.Sprintf("%s-%d", c.SetCode, c.Number)
}

// DisplaySubtitle prefers the manifest's version line.
func (c ManifestCard) DisplaySubtitle() string {
	if c.Version != "" {
		return c.Version
	}
	return c.Subtitle
}

type manifestFile struct {
	Cards []ManifestCard `json:"cards"`
}

// ReadManifest parses a manifest file with a top-level "cards" array.
func ReadManifest(path string) ([]ManifestCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest JSON and checks every card has an identity.
func ParseManifest(data []byte) ([]ManifestCard, error) {
	var mf manifestFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	seen := make(map[string]int, len(mf.Cards))
	for i, c := range mf.Cards {
		if strings.TrimSpace(c.SetCode) == "" || strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("manifest card %d: name and setCode are required", i)
		}
		if j, dup := seen[c.ID()]; dup {
			return nil, fmt.Errorf("manifest cards %d and %d share id %s", j, i, c.ID())
		}
		seen[c.ID()] = i
	}
	return mf.Cards, nil
}
