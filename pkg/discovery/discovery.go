// Package discovery seeds the store with a fixed list of well-known Anchor
// programs on first run, and enumerates documented programs as upgrade
// candidates for the agent's periodic recheck (§4.6).
package discovery

import (
	"embed"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/soldocs/soldocs/pkg/model"
	"github.com/soldocs/soldocs/pkg/store"
)

//go:embed seeds/manifest.yaml seeds/*.json
var seedFS embed.FS

// seedEntry is one row of the bundled manifest.
type seedEntry struct {
	ProgramID string `yaml:"programId"`
	Label     string `yaml:"label"`
	IDLFile   string `yaml:"idlFile"`
}

type manifest struct {
	Programs []seedEntry `yaml:"programs"`
}

// IDLCache is implemented by pkg/store.Store.
type IDLCache interface {
	SaveIDLSafe(id string, idl map[string]any) (*model.IDLCache, error)
}

// Queue is implemented by pkg/store.Store.
type Queue interface {
	AddToQueueSafe(id string) (model.QueueItem, store.AddKind, error)
}

// ProgramIndex is implemented by pkg/store.Store.
type ProgramIndex interface {
	ListPrograms() ([]model.ProgramMetadata, error)
}

func loadManifest() (manifest, error) {
	raw, err := seedFS.ReadFile("seeds/manifest.yaml")
	if err != nil {
		return manifest{}, fmt.Errorf("discovery: read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return manifest{}, fmt.Errorf("discovery: parse manifest: %w", err)
	}
	return m, nil
}

// Seed writes every bundled IDL with a valid JSON document into the IDL
// cache and enqueues its program, returning the count actually seeded.
// Invalid or unreadable bundled entries are skipped rather than failing
// the whole seed.
func Seed(store interface {
	IDLCache
	Queue
}) (int, error) {
	m, err := loadManifest()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range m.Programs {
		raw, err := seedFS.ReadFile("seeds/" + entry.IDLFile)
		if err != nil {
			continue
		}
		var idl map[string]any
		if err := json.Unmarshal(raw, &idl); err != nil {
			continue
		}
		if _, err := store.SaveIDLSafe(entry.ProgramID, idl); err != nil {
			continue
		}
		if _, _, err := store.AddToQueueSafe(entry.ProgramID); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

// UpgradeCandidates returns every ProgramID whose index status is
// documented: the set the agent's periodic upgrade check re-examines.
func UpgradeCandidates(store ProgramIndex) ([]string, error) {
	programs, err := store.ListPrograms()
	if err != nil {
		return nil, fmt.Errorf("discovery: list programs: %w", err)
	}
	var ids []string
	for _, p := range programs {
		if p.Status == model.StatusDocumented {
			ids = append(ids, p.ProgramID)
		}
	}
	return ids, nil
}
