// Package auth implements the Authenticator component of spec.md §4.2:
// SCRAM-SHA-1/SCRAM-SHA-256 challenge/response, speculative-auth coalescing
// with the hello handshake, and salted-password caching. GSSAPI and
// MONGODB-AWS are represented as Mechanism implementations per
// SPEC_FULL.md's supplemented-features section but their network exchange
// is intentionally out of this core's budget (see gssapi.go, mongodbaws.go).
package auth

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// ErrAuthentication is returned, wrapped with detail, on nonce mismatch,
// too-low iteration count, signature mismatch, or a non-OK sasl* reply
// (spec.md §4.2, "Failure modes").
var ErrAuthentication = errors.New("authentication error")

// Credential names the identity an Authenticator proves.
type Credential struct {
	Username string
	Password string
	Source   string // authentication database, e.g. "admin"
	Mechanism string // "", "SCRAM-SHA-1", "SCRAM-SHA-256", "GSSAPI", "MONGODB-AWS"
}

// ConnectionHandshaker is the minimal surface auth needs from a connection:
// a single in-flight saslStart/saslContinue round trip. Implemented by
// connection.Connection; kept as an interface here so auth has no import
// dependency on connection (avoiding a cycle, since connection depends on
// auth for the handshake).
type ConnectionHandshaker interface {
	RunCommand(ctx context.Context, db string, body bsoncore.Document) (bsoncore.Document, error)
}

// Authenticator performs the mechanism-specific challenge/response.
type Authenticator interface {
	// Auth runs the full exchange. If speculative is non-nil, it is the
	// server's speculativeAuthenticate subdocument from the hello reply
	// and the exchange resumes from step 3 (spec.md §4.2).
	Auth(ctx context.Context, conn ConnectionHandshaker, speculative bsoncore.Document) error

	// SpeculativeAuthenticateDoc returns the document to embed in the
	// hello handshake's speculativeAuthenticate field, or nil if this
	// mechanism does not support speculative auth.
	SpeculativeAuthenticateDoc(source string) (bsoncore.Document, error)
}

// NegotiateMechanism implements spec.md §4.2 "Mechanism negotiation": when
// no mechanism was configured, pick SCRAM-SHA-256 if the server's
// saslSupportedMechs lists it, else SCRAM-SHA-1.
func NegotiateMechanism(cred Credential, saslSupportedMechs []string) (Credential, error) {
	if cred.Mechanism != "" {
		return cred, nil
	}
	if cred.Username == "" {
		return Credential{}, fmt.Errorf("auth: no mechanism configured and no username to negotiate one from")
	}
	for _, m := range saslSupportedMechs {
		if m == "SCRAM-SHA-256" {
			cred.Mechanism = "SCRAM-SHA-256"
			return cred, nil
		}
	}
	cred.Mechanism = "SCRAM-SHA-1"
	return cred, nil
}

// SaslSupportedMechsArg builds the "<source>.<user>" value the hello probe
// sends when no mechanism is configured (spec.md §4.2).
func SaslSupportedMechsArg(cred Credential) string {
	return cred.Source + "." + cred.Username
}

// NewAuthenticator constructs the Authenticator for cred.Mechanism.
func NewAuthenticator(cred Credential) (Authenticator, error) {
	switch cred.Mechanism {
	case "", "SCRAM-SHA-1":
		return newScramAuthenticator(cred, sha1Mechanism{})
	case "SCRAM-SHA-256":
		return newScramAuthenticator(cred, sha256Mechanism{})
	case "GSSAPI":
		return newGSSAPIAuthenticator(cred)
	case "MONGODB-AWS":
		return newMongoDBAWSAuthenticator(cred)
	default:
		return nil, fmt.Errorf("auth: unsupported mechanism %q", cred.Mechanism)
	}
}
