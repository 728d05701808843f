// Package council defines the immutable council configuration an execution
// runs against: the ordered participant list and the designated chairman.
package council

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ParticipantDescriptor identifies one responder in a council.
type ParticipantDescriptor struct {
	ID            string `json:"id" yaml:"id"`
	DisplayName   string `json:"display_name" yaml:"display_name"`
	ModelID       string `json:"model_id" yaml:"model_id"`
	ProviderID    string `json:"provider_id" yaml:"provider_id"`
	Role          string `json:"role,omitempty" yaml:"role,omitempty"`
	SpeakingOrder int    `json:"speaking_order" yaml:"speaking_order"`
	IsChairman    bool   `json:"is_chairman,omitempty" yaml:"is_chairman,omitempty"`
}

// Definition is the ordered set of participants for one execution.
// Immutable for the lifetime of a session once validated.
type Definition struct {
	Name         string                  `json:"name,omitempty" yaml:"name,omitempty"`
	Participants []ParticipantDescriptor `json:"participants" yaml:"participants"`
}

// Validate checks structural invariants: at least one participant, unique
// non-empty ids, and exactly one chairman.
func (d *Definition) Validate() error {
	if len(d.Participants) == 0 {
		return fmt.Errorf("council has no participants")
	}

	seen := make(map[string]bool, len(d.Participants))
	chairmen := 0
	for i, p := range d.Participants {
		if p.ID == "" {
			return fmt.Errorf("participant %d has empty id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate participant id %q", p.ID)
		}
		seen[p.ID] = true
		if p.IsChairman {
			chairmen++
		}
	}
	if chairmen != 1 {
		return fmt.Errorf("council must have exactly one chairman, got %d", chairmen)
	}
	return nil
}

// Chairman returns the designated chairman descriptor.
// Callers must Validate first; on an invalid definition the result is undefined.
func (d *Definition) Chairman() ParticipantDescriptor {
	for _, p := range d.Participants {
		if p.IsChairman {
			return p
		}
	}
	return ParticipantDescriptor{}
}

// Has reports whether id belongs to this council.
func (d *Definition) Has(id string) bool {
	for _, p := range d.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// NonChairmanIDs returns the ids of all non-chairman participants in
// speaking order.
func (d *Definition) NonChairmanIDs() []string {
	ordered := make([]ParticipantDescriptor, 0, len(d.Participants))
	for _, p := range d.Participants {
		if !p.IsChairman {
			ordered = append(ordered, p)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SpeakingOrder < ordered[j].SpeakingOrder
	})
	ids := make([]string, len(ordered))
	for i, p := range ordered {
		ids[i] = p.ID
	}
	return ids
}

// Size returns the total participant count including the chairman.
func (d *Definition) Size() int {
	return len(d.Participants)
}

// LoadFile reads and validates a council definition from a YAML file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read council file: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse council file %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid council in %s: %w", path, err)
	}
	return &def, nil
}
