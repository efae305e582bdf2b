// Package sasl implements the client-side SASL mechanisms the
// IMAP/POP3/SMTP/NNTP adapters use for their authentication step: PLAIN, LOGIN,
// CRAM-MD5, SCRAM-SHA-256 and XOAUTH2. Every Mechanism exposes the same
// initial_client_response / respond_to_challenge operations the protocol
// adapters drive regardless of which mechanism the server negotiated.
package sasl

import "fmt"

// Mechanism is a single SASL authentication exchange in progress.
type Mechanism interface {
	// Name is the IANA SASL mechanism name, e.g. "CRAM-MD5".
	Name() string

	// RequiresTLS reports whether this mechanism must not be attempted over
	// a plaintext connection (PLAIN and LOGIN both expose the password
	// directly; XOAUTH2 exposes a bearer token).
	RequiresTLS() bool

	// IsChallengeResponse reports whether the server is expected to send
	// one or more intermediate challenges before the exchange completes.
	// PLAIN and XOAUTH2 are single-shot; LOGIN, CRAM-MD5 and SCRAM-SHA-256
	// are challenge/response.
	IsChallengeResponse() bool

	// InitialClientResponse returns the bytes to send as the first message
	// of the exchange (possibly empty, for mechanisms where the server
	// speaks first).
	InitialClientResponse() ([]byte, error)

	// RespondToChallenge returns the client's reply to one server
	// challenge. Called zero or more times depending on IsChallengeResponse
	// and the mechanism's own step count.
	RespondToChallenge(challenge []byte) ([]byte, error)
}

// AuthError wraps a mechanism-internal failure (malformed challenge,
// crypto failure) distinctly from the store/transport-level Auth.Rejected
// kind defined in the store package, which is raised only once the server itself
// rejects the completed exchange.
type AuthError struct {
	Mechanism string
	Msg       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("sasl: %s: %s", e.Mechanism, e.Msg)
}
