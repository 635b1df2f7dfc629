package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/repository"
	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
)

const contactLookupChunk = 5000

// Contact is the raw, not yet normalized identity of one property's owner
type Contact struct {
	PropertyID  uuid.UUID
	Email       string
	Phone       string
	FirstName   string
	LastName    string
	PostalCode  string
	CountryCode string
}

// ContactSource resolves uploadable contacts for a set of matched properties
type ContactSource interface {
	ContactsFor(ctx context.Context, ownerID uuid.UUID, properties []*models.Property) ([]Contact, error)
}

// RepositoryContactSource reads owner-provided contacts from property_contacts
type RepositoryContactSource struct {
	repo repository.PropertyContactRepository
}

func NewRepositoryContactSource(repo repository.PropertyContactRepository) ContactSource {
	return &RepositoryContactSource{repo: repo}
}

// ContactsFor returns at most one contact per property, in the order of
// properties. Contacts without an email are dropped.
func (s *RepositoryContactSource) ContactsFor(ctx context.Context, ownerID uuid.UUID, properties []*models.Property) ([]Contact, error) {
	if len(properties) == 0 {
		return []Contact{}, nil
	}

	byProperty := make(map[uuid.UUID]*models.PropertyContact, len(properties))
	ids := make([]uuid.UUID, 0, len(properties))
	for _, p := range properties {
		ids = append(ids, p.ID)
	}
	for start := 0; start < len(ids); start += contactLookupChunk {
		end := min(start+contactLookupChunk, len(ids))
		rows, err := s.repo.ByOwnerAndProperties(ctx, ownerID, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to load property contacts: %w", err)
		}
		for _, row := range rows {
			byProperty[row.PropertyID] = row
		}
	}

	seen := make(map[uuid.UUID]struct{}, len(properties))
	out := make([]Contact, 0, len(byProperty))
	for _, p := range properties {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}

		row, ok := byProperty[p.ID]
		if !ok {
			continue
		}
		email := strings.TrimSpace(utils.Deref(row.Email))
		if email == "" {
			continue
		}
		c := Contact{
			PropertyID:  p.ID,
			Email:       email,
			Phone:       strings.TrimSpace(utils.Deref(row.Phone)),
			FirstName:   strings.TrimSpace(utils.Deref(row.FirstName)),
			LastName:    strings.TrimSpace(utils.Deref(row.LastName)),
			PostalCode:  strings.TrimSpace(utils.Deref(row.PostalCode)),
			CountryCode: row.CountryCode,
		}
		if c.PostalCode == "" {
			c.PostalCode = p.Zip
		}
		out = append(out, c)
	}
	return out, nil
}
