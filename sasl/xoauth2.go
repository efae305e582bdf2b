package sasl

// XOAUTH2Mechanism implements Google's XOAUTH2: a single initial response
// of the form "user=<email>\x01auth=Bearer <token>\x01\x01". A rejected
// token comes back as a JSON error challenge, to which the client must
// reply with an empty byte string to complete the (failed) exchange.
type XOAUTH2Mechanism struct {
	Username    string
	AccessToken string

	sentErrorAck bool
}

func (m *XOAUTH2Mechanism) Name() string             { return "XOAUTH2" }
func (m *XOAUTH2Mechanism) RequiresTLS() bool         { return true }
func (m *XOAUTH2Mechanism) IsChallengeResponse() bool { return false }

func (m *XOAUTH2Mechanism) InitialClientResponse() ([]byte, error) {
	resp := "user=" + m.Username + "\x01auth=Bearer " + m.AccessToken + "\x01\x01"
	return []byte(resp), nil
}

// RespondToChallenge handles the one case where the server does talk back
// despite IsChallengeResponse() being false: a rejected token, which must
// be acknowledged with an empty response before the server will return the
// final failure status.
func (m *XOAUTH2Mechanism) RespondToChallenge(challenge []byte) ([]byte, error) {
	if m.sentErrorAck {
		return nil, &AuthError{Mechanism: m.Name(), Msg: "already acknowledged error challenge"}
	}
	m.sentErrorAck = true
	return []byte{}, nil
}
