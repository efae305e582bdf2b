package sasl

// PlainMechanism implements RFC 4616 PLAIN: a single NUL-delimited
// "authzid\0authcid\0password" response, no server challenge.
type PlainMechanism struct {
	AuthzID  string
	Username string
	Password string
}

func (m *PlainMechanism) Name() string           { return "PLAIN" }
func (m *PlainMechanism) RequiresTLS() bool       { return true }
func (m *PlainMechanism) IsChallengeResponse() bool { return false }

func (m *PlainMechanism) InitialClientResponse() ([]byte, error) {
	buf := make([]byte, 0, len(m.AuthzID)+len(m.Username)+len(m.Password)+2)
	buf = append(buf, m.AuthzID...)
	buf = append(buf, 0)
	buf = append(buf, m.Username...)
	buf = append(buf, 0)
	buf = append(buf, m.Password...)
	return buf, nil
}

func (m *PlainMechanism) RespondToChallenge(challenge []byte) ([]byte, error) {
	return nil, &AuthError{Mechanism: m.Name(), Msg: "PLAIN does not expect a server challenge"}
}
