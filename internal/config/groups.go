package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Groups maps a group name to the serials it gates. Cameras absent from
// every group run under a private, single-camera gate.
type Groups map[string][]string

// LoadGroups reads groups.yaml. A missing file means no shared groups.
func LoadGroups(path string) (Groups, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Groups{}, nil
		}
		return nil, fmt.Errorf("failed to read groups file: %w", err)
	}
	var g Groups
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse groups file: %w", err)
	}
	if g == nil {
		g = Groups{}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate rejects a serial claimed by more than one group, or listed
// twice in the same group.
func (g Groups) Validate() error {
	owner := map[string]string{}
	for name, serials := range g {
		for _, sn := range serials {
			if prev, claimed := owner[sn]; claimed {
				if prev == name {
					return fmt.Errorf("serial %s listed twice in group %q", sn, name)
				}
				return fmt.Errorf("serial %s claimed by groups %q and %q", sn, prev, name)
			}
			owner[sn] = name
		}
	}
	return nil
}

// GroupOf returns the group owning the serial, if any.
func (g Groups) GroupOf(serial string) (string, bool) {
	for name, serials := range g {
		for _, sn := range serials {
			if sn == serial {
				return name, true
			}
		}
	}
	return "", false
}
