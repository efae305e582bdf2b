package store

import (
	"encoding/json"
	"time"
)

// refreshSkew is how long before expiry a token is already considered stale.
const refreshSkew = 300

// OAuthToken is the persisted OAuth2 token record. The JSON field names are
// the on-disk contract shared with the credential-provider collaborator.
type OAuthToken struct {
	Provider     string   `json:"provider"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAt    int64    `json:"expires_at"`
	Scopes       []string `json:"scopes"`
}

// NeedsRefresh reports whether the token should be refreshed before use:
// true once now reaches expires_at minus a five-minute skew.
func (t *OAuthToken) NeedsRefresh(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt-refreshSkew
}

// MarshalToken renders the persisted JSON form.
func MarshalToken(t *OAuthToken) ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalToken parses the persisted JSON form.
func UnmarshalToken(data []byte) (*OAuthToken, error) {
	var t OAuthToken
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CredentialProvider is the abstract credential source the core consumes;
// persistence behind it is a collaborator's concern.
type CredentialProvider interface {
	// Password returns the stored password for username, or ok=false when
	// none is known (the store then fails with NeedsCredential).
	Password(username string) (password string, ok bool)

	// Token returns the stored OAuth2 token for email, or nil.
	Token(email string) *OAuthToken
}
