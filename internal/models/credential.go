package models

import (
	"strings"
	"time"
)

// Credential is a stored secret that lets a connector authenticate against its source.
type Credential struct {
	ID             int64             `json:"id"`
	CredentialJSON map[string]string `json:"credential_json"`
	UserID         *string           `json:"user_id"`
	AdminPublic    bool              `json:"admin_public"`
	CreatedAt      time.Time         `json:"time_created"`
	UpdatedAt      time.Time         `json:"time_updated"`
}

// CredentialRequest is the body accepted when creating a credential.
type CredentialRequest struct {
	CredentialJSON map[string]string `json:"credential_json"`
	AdminPublic    bool              `json:"admin_public"`
}

// Masked returns a copy whose secret-looking values only keep their last four characters.
func (c Credential) Masked() Credential {
	out := c
	out.CredentialJSON = make(map[string]string, len(c.CredentialJSON))
	for key, value := range c.CredentialJSON {
		if IsSecretKey(key) {
			out.CredentialJSON[key] = MaskSecret(value)
		} else {
			out.CredentialJSON[key] = value
		}
	}
	return out
}

// IsSecretKey reports whether a credential_json key holds a secret.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "key") ||
		strings.Contains(k, "secret") || strings.Contains(k, "password")
}

// MaskSecret hides all but the last four characters of value.
func MaskSecret(value string) string {
	runes := []rune(value)
	switch {
	case len(runes) == 0:
		return ""
	case len(runes) > 4:
		return "***" + string(runes[len(runes)-4:])
	default:
		return "***"
	}
}
