package checkout

import (
	"regexp"
	"strings"

	"github.com/xenking/smartpick/internal/domain/order"
)

var (
	emailPattern      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	postalCodePattern = regexp.MustCompile(`^[0-9]{6}$`)
)

// minPhoneDigits is the least number of digits a phone number must carry.
const minPhoneDigits = 10

// ShippingInfo is the delivery contact collected in the first checkout step.
type ShippingInfo struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
}

// Normalize returns a copy with surrounding whitespace removed from every
// field.
func (s ShippingInfo) Normalize() ShippingInfo {
	return ShippingInfo{
		FirstName:  strings.TrimSpace(s.FirstName),
		LastName:   strings.TrimSpace(s.LastName),
		Email:      strings.TrimSpace(s.Email),
		Phone:      strings.TrimSpace(s.Phone),
		Address:    strings.TrimSpace(s.Address),
		City:       strings.TrimSpace(s.City),
		State:      strings.TrimSpace(s.State),
		PostalCode: strings.TrimSpace(s.PostalCode),
	}
}

// Validate checks every field and reports all problems at once as a
// *ValidationError.
func (s ShippingInfo) Validate() error {
	s = s.Normalize()
	v := &ValidationError{}

	required := []struct {
		field, value string
	}{
		{"firstName", s.FirstName},
		{"lastName", s.LastName},
		{"email", s.Email},
		{"phone", s.Phone},
		{"address", s.Address},
		{"city", s.City},
		{"state", s.State},
		{"postalCode", s.PostalCode},
	}
	for _, r := range required {
		if r.value == "" {
			v.add(r.field, "is required")
		}
	}

	if s.Email != "" && !emailPattern.MatchString(s.Email) {
		v.add("email", "must be a valid email address")
	}
	if s.PostalCode != "" && !postalCodePattern.MatchString(s.PostalCode) {
		v.add("postalCode", "must be exactly 6 digits")
	}
	if s.Phone != "" && !validPhone(s.Phone) {
		v.add("phone", "must contain at least 10 digits")
	}

	if len(v.Fields) > 0 {
		return v
	}
	return nil
}

// OrderAddress converts the contact into the address stored on an order.
func (s ShippingInfo) OrderAddress() order.ShippingAddress {
	s = s.Normalize()
	return order.ShippingAddress{
		Name:    strings.TrimSpace(s.FirstName + " " + s.LastName),
		Street:  s.Address,
		City:    s.City,
		State:   s.State,
		Pincode: s.PostalCode,
		Phone:   s.Phone,
		Email:   s.Email,
	}
}

// validPhone accepts digits separated by the usual formatting characters.
func validPhone(phone string) bool {
	digits := 0
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ', r == '-', r == '(', r == ')', r == '+', r == '.':
		default:
			return false
		}
	}
	return digits >= minPhoneDigits
}

// Profile is what the identity provider knows about a user. It only seeds
// ShippingInfo and is never required.
type Profile struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

func (p Profile) shipping() ShippingInfo {
	return ShippingInfo{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Phone:     p.Phone,
	}
}
