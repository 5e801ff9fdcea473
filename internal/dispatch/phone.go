package dispatch

import (
	"sort"
	"strings"

	"prativedak/internal/model"
)

// MessagingNumber strips everything but digits and prefixes the country
// code when the number does not already start with it.
func MessagingNumber(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if countryCode != "" && !strings.HasPrefix(digits, countryCode) {
		digits = countryCode + digits
	}
	return digits
}

// SortContacts orders contacts by ascending priority. Equal priorities keep
// their input order.
func SortContacts(contacts []model.EmergencyContact) []model.EmergencyContact {
	out := make([]model.EmergencyContact, len(contacts))
	copy(out, contacts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Primary returns the contact with the lowest priority number.
func Primary(contacts []model.EmergencyContact) (model.EmergencyContact, bool) {
	sorted := SortContacts(contacts)
	if len(sorted) == 0 {
		return model.EmergencyContact{}, false
	}
	return sorted[0], true
}
