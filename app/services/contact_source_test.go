package services

import (
	"context"
	"errors"
	"testing"

	"github.com/amirphl/evoteli/models"
	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContactRepo struct {
	rows  []*models.PropertyContact
	err   error
	calls int
}

func (f *fakeContactRepo) ByID(ctx context.Context, id uuid.UUID) (*models.PropertyContact, error) {
	return nil, nil
}

func (f *fakeContactRepo) ByFilter(ctx context.Context, filter models.PropertyContactFilter, orderBy string, limit, offset int) ([]*models.PropertyContact, error) {
	return nil, nil
}

func (f *fakeContactRepo) Save(ctx context.Context, entity *models.PropertyContact) error {
	return nil
}

func (f *fakeContactRepo) SaveBatch(ctx context.Context, entities []*models.PropertyContact) error {
	return nil
}

func (f *fakeContactRepo) Count(ctx context.Context, filter models.PropertyContactFilter) (int64, error) {
	return 0, nil
}

func (f *fakeContactRepo) Exists(ctx context.Context, filter models.PropertyContactFilter) (bool, error) {
	return false, nil
}

func (f *fakeContactRepo) Upsert(ctx context.Context, contacts []*models.PropertyContact) error {
	return nil
}

func (f *fakeContactRepo) ByOwnerAndProperties(ctx context.Context, ownerID uuid.UUID, propertyIDs []uuid.UUID) ([]*models.PropertyContact, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	want := make(map[uuid.UUID]bool, len(propertyIDs))
	for _, id := range propertyIDs {
		want[id] = true
	}
	var out []*models.PropertyContact
	for _, r := range f.rows {
		if r.OwnerID == ownerID && want[r.PropertyID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestRepositoryContactSource_ContactsFor(t *testing.T) {
	owner := uuid.New()
	withEmail := &models.Property{ID: uuid.New(), Zip: "78701"}
	noEmail := &models.Property{ID: uuid.New(), Zip: "78702"}
	noContact := &models.Property{ID: uuid.New(), Zip: "78703"}
	otherOwner := &models.Property{ID: uuid.New(), Zip: "78704"}

	repo := &fakeContactRepo{rows: []*models.PropertyContact{
		{OwnerID: owner, PropertyID: withEmail.ID, Email: utils.ToPtr("  jane@example.com "), FirstName: utils.ToPtr("Jane"), CountryCode: "US"},
		{OwnerID: owner, PropertyID: noEmail.ID, Phone: utils.ToPtr("+15125550100"), CountryCode: "US"},
		{OwnerID: uuid.New(), PropertyID: otherOwner.ID, Email: utils.ToPtr("x@example.com"), CountryCode: "US"},
	}}
	src := NewRepositoryContactSource(repo)

	got, err := src.ContactsFor(context.Background(), owner, []*models.Property{withEmail, noEmail, noContact, otherOwner, withEmail})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, withEmail.ID, got[0].PropertyID)
	assert.Equal(t, "jane@example.com", got[0].Email)
	assert.Equal(t, "Jane", got[0].FirstName)
	assert.Equal(t, "78701", got[0].PostalCode, "falls back to the property zip")
	assert.Equal(t, 1, repo.calls)
}

func TestRepositoryContactSource_EmptyAndErrors(t *testing.T) {
	repo := &fakeContactRepo{err: errors.New("db down")}
	src := NewRepositoryContactSource(repo)

	got, err := src.ContactsFor(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, repo.calls)

	_, err = src.ContactsFor(context.Background(), uuid.New(), []*models.Property{{ID: uuid.New()}})
	assert.ErrorContains(t, err, "db down")
}

func TestRepositoryContactSource_ChunksLookups(t *testing.T) {
	repo := &fakeContactRepo{}
	props := make([]*models.Property, contactLookupChunk+1)
	for i := range props {
		props[i] = &models.Property{ID: uuid.New()}
	}
	_, err := NewRepositoryContactSource(repo).ContactsFor(context.Background(), uuid.New(), props)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}
