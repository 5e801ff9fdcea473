package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prativedak/internal/model"
)

func validUser() *model.User {
	return &model.User{
		ID:   "u1",
		Name: "Asha",
		EmergencyContacts: []model.EmergencyContact{
			{Name: "Ravi", Phone: "+91 98765 43210", Priority: 1},
			{Name: "Meera", Phone: "(022) 2345-6789", Priority: 2},
		},
	}
}

func TestUserValid(t *testing.T) {
	vs := NewValidationService()
	assert.Empty(t, vs.User(validUser()))
	assert.NoError(t, vs.User(validUser()).Err())
}

func TestUserWithoutContactsIsValid(t *testing.T) {
	vs := NewValidationService()
	u := validUser()
	u.EmergencyContacts = nil
	assert.Empty(t, vs.User(u))
}

func TestUserErrors(t *testing.T) {
	vs := NewValidationService()
	u := validUser()
	u.Name = ""
	u.EmergencyContacts[1].Phone = "call me"
	u.EmergencyContacts[1].Priority = 0

	errs := vs.User(u)
	require.Len(t, errs, 3)
	tags := map[string]string{}
	for _, e := range errs {
		tags[e.Field] = e.Tag
	}
	assert.Equal(t, "required", tags["User.Name"])
	assert.Equal(t, "phone", tags["User.EmergencyContacts[1].Phone"])
	assert.Equal(t, "gte", tags["User.EmergencyContacts[1].Priority"])
	assert.Error(t, errs.Err())
	assert.Contains(t, errs.Error(), "Invalid phone number format")
}

func TestNilUser(t *testing.T) {
	errs := NewValidationService().User(nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "required", errs[0].Tag)
}

func TestLocation(t *testing.T) {
	vs := NewValidationService()
	assert.Empty(t, vs.Location(nil))
	assert.Empty(t, vs.Location(&model.Location{Latitude: 19.07, Longitude: 72.87}))

	errs := vs.Location(&model.Location{Latitude: 91, Longitude: -181})
	require.Len(t, errs, 2)
	assert.Equal(t, "latitude", errs[0].Tag)
	assert.Equal(t, "longitude", errs[1].Tag)
}

func TestPhoneRule(t *testing.T) {
	vs := NewValidationService()
	cases := map[string]bool{
		"112":               true,
		"9876543210":        true,
		"+919876543210":     true,
		"+1 (415) 555-0100": true,
		"12":                false,
		"98765x43210":       false,
		"":                  false,
		"+1234567890123456": false,
	}
	for phone, ok := range cases {
		c := model.EmergencyContact{Name: "x", Phone: phone, Priority: 1}
		errs := vs.ValidateStruct(&c)
		assert.Equal(t, ok, len(errs) == 0, "phone %q: %v", phone, errs)
	}
}
