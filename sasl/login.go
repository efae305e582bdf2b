package sasl

// LoginMechanism implements the de facto "LOGIN" mechanism: the server
// sends two challenges (conventionally "Username:" and "Password:", though
// clients must not rely on the prompt text) and the client answers with the
// username then the password, in that order.
type LoginMechanism struct {
	Username string
	Password string

	step int
}

func (m *LoginMechanism) Name() string             { return "LOGIN" }
func (m *LoginMechanism) RequiresTLS() bool         { return true }
func (m *LoginMechanism) IsChallengeResponse() bool { return true }

func (m *LoginMechanism) InitialClientResponse() ([]byte, error) {
	return nil, nil
}

func (m *LoginMechanism) RespondToChallenge(challenge []byte) ([]byte, error) {
	switch m.step {
	case 0:
		m.step++
		return []byte(m.Username), nil
	case 1:
		m.step++
		return []byte(m.Password), nil
	default:
		return nil, &AuthError{Mechanism: m.Name(), Msg: "no further challenges expected"}
	}
}
