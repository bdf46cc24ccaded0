package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeProfile(t *testing.T) {
	tests := []struct {
		name       string
		providerID string
		raw        map[string]any
		want       UserProfile
	}{
		{
			name:       "github splits display name",
			providerID: "github",
			raw:        map[string]any{"id": float64(1), "login": "octocat", "name": "Mona Lisa Octocat", "avatar_url": "a.png"},
			want:       UserProfile{ID: "1", Name: "Mona Lisa Octocat", FirstName: "Mona", LastName: "Lisa Octocat", Picture: "a.png"},
		},
		{
			name:       "github falls back to login",
			providerID: "github",
			raw:        map[string]any{"id": float64(2), "login": "octocat"},
			want:       UserProfile{ID: "2", Name: "octocat", FirstName: "octocat"},
		},
		{
			name:       "microsoft prefers mail",
			providerID: "microsoft",
			raw:        map[string]any{"id": "m1", "mail": "a@contoso.com", "userPrincipalName": "upn@contoso.com", "displayName": "Adele V", "givenName": "Adele", "surname": "V"},
			want:       UserProfile{ID: "m1", Email: "a@contoso.com", Name: "Adele V", FirstName: "Adele", LastName: "V"},
		},
		{
			name:       "microsoft falls back to userPrincipalName",
			providerID: "microsoft",
			raw:        map[string]any{"id": "m2", "mail": nil, "userPrincipalName": "upn@contoso.com"},
			want:       UserProfile{ID: "m2", Email: "upn@contoso.com"},
		},
		{
			name:       "google",
			providerID: "google",
			raw:        map[string]any{"id": "g1", "email": "g@example.com", "name": "G User", "given_name": "G", "family_name": "User", "picture": "p.png"},
			want:       UserProfile{ID: "g1", Email: "g@example.com", Name: "G User", FirstName: "G", LastName: "User", Picture: "p.png"},
		},
		{
			name:       "unknown provider passes raw through",
			providerID: "acme",
			raw:        map[string]any{"sub": "s1", "email": "s@acme.test", "tenant": "blue"},
			want:       UserProfile{ID: "s1", Email: "s@acme.test"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeProfile(tt.providerID, tt.raw)
			assert.Equal(t, tt.raw, got.Raw)
			got.Raw = nil
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestNormalizeProfile_Nil(t *testing.T) {
	assert.Nil(t, NormalizeProfile("github", nil))
}
