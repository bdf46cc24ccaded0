package provider

// BuiltinProviders returns the providers seeded on first run. Client ids are
// empty until supplied through configuration or the management surface.
func BuiltinProviders() []Config {
	return []Config{
		{
			ID:               "google",
			Name:             "Google",
			AuthorizationURL: "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:         "https://oauth2.googleapis.com/token",
			UserInfoURL:      "https://www.googleapis.com/oauth2/v2/userinfo",
			IssuerURL:        "https://accounts.google.com",
			Scopes:           []string{"openid", "email", "profile"},
			UsePKCE:          true,
			ExtraParams: map[string]string{
				"access_type": "offline",
				"prompt":      "consent",
			},
		},
		{
			ID:               "github",
			Name:             "GitHub",
			AuthorizationURL: "https://github.com/login/oauth/authorize",
			TokenURL:         "https://github.com/login/oauth/access_token",
			UserInfoURL:      "https://api.github.com/user",
			Scopes:           []string{"read:user", "user:email"},
			UsePKCE:          false,
		},
		{
			ID:               "microsoft",
			Name:             "Microsoft",
			AuthorizationURL: "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
			TokenURL:         "https://login.microsoftonline.com/common/oauth2/v2.0/token",
			UserInfoURL:      "https://graph.microsoft.com/v1.0/me",
			Scopes:           []string{"openid", "email", "profile", "offline_access", "User.Read"},
			UsePKCE:          true,
		},
	}
}
