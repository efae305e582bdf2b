package sasl

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
)

// CRAMMD5Mechanism implements RFC 2195 CRAM-MD5: the server sends a
// challenge string, the client replies "<username> <hex hmac-md5>".
type CRAMMD5Mechanism struct {
	Username string
	Password string
}

func (m *CRAMMD5Mechanism) Name() string             { return "CRAM-MD5" }
func (m *CRAMMD5Mechanism) RequiresTLS() bool         { return false }
func (m *CRAMMD5Mechanism) IsChallengeResponse() bool { return true }

func (m *CRAMMD5Mechanism) InitialClientResponse() ([]byte, error) {
	return nil, nil
}

func (m *CRAMMD5Mechanism) RespondToChallenge(challenge []byte) ([]byte, error) {
	mac := hmac.New(md5.New, []byte(m.Password))
	mac.Write(challenge)
	digest := hex.EncodeToString(mac.Sum(nil))
	return []byte(m.Username + " " + digest), nil
}
