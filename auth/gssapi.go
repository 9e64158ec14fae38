package auth

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// gssapiAuthenticator represents the Kerberos/SSPI mechanism shape per
// SPEC_FULL.md's supplemented-features list: the original_source/ Rust
// driver splits GSSAPI into a platform-specific negotiation layer
// (client/auth/gssapi.rs plus a windows.rs SSPI variant) that this core
// does not reimplement, since the actual Kerberos negotiation is a
// collaborator the spec places outside the client-library core (it
// depends on system GSSAPI/SSPI libraries, not network protocol this
// library owns). What is in scope, and implemented here, is the
// mechanism-selection and credential-shape plumbing: NewAuthenticator
// recognizes "GSSAPI" and constructs a value satisfying Authenticator so
// callers can wire a real negotiator in behind this interface later.
type gssapiAuthenticator struct {
	cred Credential
}

func newGSSAPIAuthenticator(cred Credential) (*gssapiAuthenticator, error) {
	if cred.Source != "" && cred.Source != "$external" {
		return nil, fmt.Errorf("auth: GSSAPI requires source $external, got %q", cred.Source)
	}
	return &gssapiAuthenticator{cred: cred}, nil
}

func (a *gssapiAuthenticator) SpeculativeAuthenticateDoc(source string) (bsoncore.Document, error) {
	return nil, nil // GSSAPI does not support speculative auth.
}

func (a *gssapiAuthenticator) Auth(ctx context.Context, conn ConnectionHandshaker, speculative bsoncore.Document) error {
	return fmt.Errorf("auth: GSSAPI negotiation requires a platform SSPI/Kerberos collaborator not provided to this core")
}
