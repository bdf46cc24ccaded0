package token

import (
	"fmt"
	"strings"
)

// Normalizer maps a raw userinfo document onto a UserProfile.
type Normalizer func(raw map[string]any) *UserProfile

var normalizers = map[string]Normalizer{
	"google":    normalizeGoogle,
	"github":    normalizeGitHub,
	"microsoft": normalizeMicrosoft,
}

// NormalizeProfile applies the normalizer registered for providerID. Unknown
// providers get the identity mapping: common fields are picked up and the raw
// document is passed through unchanged.
func NormalizeProfile(providerID string, raw map[string]any) *UserProfile {
	if raw == nil {
		return nil
	}
	if fn, ok := normalizers[providerID]; ok {
		return fn(raw)
	}
	return identity(raw)
}

func identity(raw map[string]any) *UserProfile {
	return &UserProfile{
		ID:        firstString(raw, "id", "sub"),
		Email:     str(raw, "email"),
		Name:      str(raw, "name"),
		FirstName: firstString(raw, "given_name", "firstName"),
		LastName:  firstString(raw, "family_name", "lastName"),
		Picture:   firstString(raw, "picture", "avatar_url"),
		Raw:       raw,
	}
}

func normalizeGoogle(raw map[string]any) *UserProfile {
	return &UserProfile{
		ID:        firstString(raw, "id", "sub"),
		Email:     str(raw, "email"),
		Name:      str(raw, "name"),
		FirstName: str(raw, "given_name"),
		LastName:  str(raw, "family_name"),
		Picture:   str(raw, "picture"),
		Raw:       raw,
	}
}

// normalizeGitHub falls back to the login when no display name is set and
// splits the display name at the first space.
func normalizeGitHub(raw map[string]any) *UserProfile {
	name := str(raw, "name")
	if name == "" {
		name = str(raw, "login")
	}
	first, last, _ := strings.Cut(name, " ")
	return &UserProfile{
		ID:        str(raw, "id"),
		Email:     str(raw, "email"),
		Name:      name,
		FirstName: first,
		LastName:  last,
		Picture:   str(raw, "avatar_url"),
		Raw:       raw,
	}
}

// normalizeMicrosoft reads Graph's /me document; mail is often empty for
// personal accounts, so userPrincipalName stands in.
func normalizeMicrosoft(raw map[string]any) *UserProfile {
	return &UserProfile{
		ID:        str(raw, "id"),
		Email:     firstString(raw, "mail", "userPrincipalName"),
		Name:      str(raw, "displayName"),
		FirstName: str(raw, "givenName"),
		LastName:  str(raw, "surname"),
		Raw:       raw,
	}
}

// str renders a field as a string. JSON numbers (GitHub ids) are printed
// without a fractional part.
func str(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := str(raw, k); v != "" {
			return v
		}
	}
	return ""
}
