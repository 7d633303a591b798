// Package collector implements the LP/FO collection workflow: a registry of
// targets, per-source collectors fanned out under bounded concurrency, a
// confidence-based normalizer, and persistence of typed collected items.
package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Sentinel errors for the target registry.
var (
	// ErrRegistryLoadFailed is returned when the registry file cannot be read
	// or parsed.
	ErrRegistryLoadFailed = errors.New("target registry load failed")

	// ErrTargetNotFound is returned when a target id is not in the registry.
	ErrTargetNotFound = errors.New("collection target not found")
)

type (
	// Target is one organization to collect: a limited partner (type "lp")
	// or family office (type "fo").
	Target struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Type    string `json:"type"`
		Region  string `json:"region"`
		Website string `json:"website"`
		// CIK is the target's SEC Central Index Key, for institutional
		// filers with 13F holdings on EDGAR. Empty for non-filers.
		CIK      string `json:"cik"`
		Priority int    `json:"priority"`
	}

	// Registry holds the static target list loaded from JSON. Read-only
	// after load; collection timestamps live in the database, not here.
	Registry struct {
		targets []Target
		byID    map[string]Target
	}

	// Filter selects targets for a collection run. Zero values match
	// everything.
	Filter struct {
		Types       []string
		Regions     []string
		MinPriority int
		// StaleDays keeps only targets whose last collection is older than
		// this many days (or never collected). Zero disables the check.
		StaleDays int
	}
)

// LoadRegistry reads the target registry from a JSON file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryLoadFailed, err)
	}

	var targets []Target
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryLoadFailed, err)
	}

	byID := make(map[string]Target, len(targets))

	for _, t := range targets {
		if t.ID == "" || t.Name == "" {
			return nil, fmt.Errorf("%w: target missing id or name", ErrRegistryLoadFailed)
		}

		byID[t.ID] = t
	}

	return &Registry{targets: targets, byID: byID}, nil
}

// Get returns the target with the given id.
func (r *Registry) Get(id string) (Target, error) {
	t, ok := r.byID[id]
	if !ok {
		return Target{}, fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}

	return t, nil
}

// Len returns the number of registered targets.
func (r *Registry) Len() int { return len(r.targets) }

// Select applies the filter and returns matching targets. lastCollected maps
// target id to its most recent collection time; absent entries count as
// never collected.
func (r *Registry) Select(filter Filter, lastCollected map[string]time.Time, now time.Time) []Target {
	var selected []Target

	for _, t := range r.targets {
		if len(filter.Types) > 0 && !contains(filter.Types, t.Type) {
			continue
		}

		if len(filter.Regions) > 0 && !contains(filter.Regions, t.Region) {
			continue
		}

		if t.Priority < filter.MinPriority {
			continue
		}

		if filter.StaleDays > 0 {
			if at, ok := lastCollected[t.ID]; ok {
				cutoff := now.AddDate(0, 0, -filter.StaleDays)
				if at.After(cutoff) {
					continue
				}
			}
		}

		selected = append(selected, t)
	}

	return selected
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}

	return false
}
