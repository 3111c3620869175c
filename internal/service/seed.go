package service

import (
	"fmt"
	"io"
	"time"

	"github.com/gofrs/uuid/v5"
	"gopkg.in/yaml.v3"

	"github.com/and161185/clinic-sync/internal/model"
)

type seedFile struct {
	Facilities []model.Facility `yaml:"facilities"`
}

// LoadFacilities reads a YAML seed of the form
//
//	facilities:
//	  - id: 5f0c...
//	    name: PHC Bathinda
//	    district: Bathinda
//
// Missing timestamps default to now.
func LoadFacilities(r io.Reader) ([]model.Facility, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode facilities: %w", err)
	}

	now := time.Now().UTC()
	seen := make(map[uuid.UUID]struct{}, len(f.Facilities))
	for i := range f.Facilities {
		fc := &f.Facilities[i]
		if fc.ID == uuid.Nil {
			return nil, fmt.Errorf("facility[%d]: missing id", i)
		}
		if fc.Name == "" {
			return nil, fmt.Errorf("facility[%d]: missing name", i)
		}
		if _, dup := seen[fc.ID]; dup {
			return nil, fmt.Errorf("facility[%d]: duplicate id %s", i, fc.ID)
		}
		seen[fc.ID] = struct{}{}
		if fc.CreatedAt.IsZero() {
			fc.CreatedAt = now
		}
		if fc.UpdatedAt.IsZero() {
			fc.UpdatedAt = fc.CreatedAt
		}
	}
	return f.Facilities, nil
}
