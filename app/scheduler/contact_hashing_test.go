package scheduler

import (
	"strings"
	"testing"

	"github.com/amirphl/evoteli/app/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizers(t *testing.T) {
	assert.Equal(t, "jane.doe@example.com", NormalizeEmail("  Jane.Doe@Example.COM "))
	assert.Equal(t, "+15125550100", NormalizePhone("+1 (512) 555-0100"))
	assert.Equal(t, "+15125550100", NormalizePhone("1.512.555.0100"))
	assert.Equal(t, "", NormalizePhone("n/a"))
	assert.Equal(t, "78701", NormalizeText(" 78701 "))
}

func TestHashIdentifier(t *testing.T) {
	assert.Equal(t, "973dfe463ec85785f5f95af5ba3906eedb2d931c24e69824a89ea65dba4e813b", HashIdentifier("test@example.com"))
	assert.Equal(t, "12945b229096fbeea14e73ff7096d927765584b9663358877238f4075eba0d89", HashIdentifier(NormalizePhone("(1) 512-555-0100")))
	assert.Empty(t, HashIdentifier(""))
}

func TestHashContact(t *testing.T) {
	hc, ok := HashContact(services.Contact{
		Email:      " Test@Example.com",
		FirstName:  "Jane",
		LastName:   "Doe",
		PostalCode: "78701",
	})
	require.True(t, ok)
	assert.Equal(t, HashIdentifier("test@example.com"), hc.HashedEmail)
	assert.Empty(t, hc.HashedPhone)
	require.NotNil(t, hc.Address)
	assert.Equal(t, "US", hc.Address.CountryCode)
	assert.Equal(t, HashIdentifier("jane"), hc.Address.HashedFirstName)
	assert.Len(t, hc.Address.PostalCode, 64)

	for _, v := range []string{hc.HashedEmail, hc.Address.HashedFirstName, hc.Address.HashedLastName, hc.Address.PostalCode} {
		assert.NotContains(t, strings.ToLower(v), "jane")
		assert.NotContains(t, v, "78701")
	}

	noName, ok := HashContact(services.Contact{Phone: "512 555 0100", FirstName: "Jane"})
	require.True(t, ok)
	assert.Nil(t, noName.Address, "address needs first name, last name and postal code")
	assert.NotEmpty(t, noName.HashedPhone)
}

func TestHashContacts_CountsSkipped(t *testing.T) {
	hashed, skipped := HashContacts([]services.Contact{
		{Email: "a@example.com"},
		{FirstName: "only"},
		{Phone: "+1 512 555 0100"},
		{},
	})
	assert.Len(t, hashed, 2)
	assert.Equal(t, 2, skipped)
}
