package scheduler

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/amirphl/evoteli/app/services"
)

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps digits only and prefixes "+" (E.164 without formatting)
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}

func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// HashIdentifier returns the hex SHA-256 of an already normalized value; empty stays empty
func HashIdentifier(normalized string) string {
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// HashContact normalizes and hashes every identifier of c. The second return
// is false when nothing uploadable remains.
func HashContact(c services.Contact) (services.HashedContact, bool) {
	hc := services.HashedContact{
		HashedEmail: HashIdentifier(NormalizeEmail(c.Email)),
		HashedPhone: HashIdentifier(NormalizePhone(c.Phone)),
	}

	first, last, postal := NormalizeText(c.FirstName), NormalizeText(c.LastName), NormalizeText(c.PostalCode)
	if first != "" && last != "" && postal != "" {
		country := strings.ToUpper(strings.TrimSpace(c.CountryCode))
		if country == "" {
			country = "US"
		}
		hc.Address = &services.HashedAddress{
			HashedFirstName: HashIdentifier(first),
			HashedLastName:  HashIdentifier(last),
			CountryCode:     country,
			PostalCode:      HashIdentifier(postal),
		}
	}

	ok := hc.HashedEmail != "" || hc.HashedPhone != "" || hc.Address != nil
	return hc, ok
}

// HashContacts hashes contacts and reports how many had no usable identifier
func HashContacts(contacts []services.Contact) ([]services.HashedContact, int) {
	out := make([]services.HashedContact, 0, len(contacts))
	skipped := 0
	for _, c := range contacts {
		hc, ok := HashContact(c)
		if !ok {
			skipped++
			continue
		}
		out = append(out, hc)
	}
	return out, skipped
}
