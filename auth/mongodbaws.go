package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// mongoDBAWSAuthenticator implements the shape of MONGODB-AWS per
// SPEC_FULL.md's supplemented-features list: client nonce generation and
// the saslStart envelope match spec.md §4.2's mechanism contract; no
// saslContinue is sent, because signing the STS GetCallerIdentity request needs an AWS SDK
// credential provider (static keys, env vars, EC2/ECS metadata, web
// identity) that is a collaborator this core does not own. Credentials are
// read from the standard AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY/
// AWS_SESSION_TOKEN environment variables only; anything more (IMDS,
// assume-role) belongs to the excluded collaborator.
type mongoDBAWSAuthenticator struct {
	cred Credential
}

func newMongoDBAWSAuthenticator(cred Credential) (*mongoDBAWSAuthenticator, error) {
	return &mongoDBAWSAuthenticator{cred: cred}, nil
}

func (a *mongoDBAWSAuthenticator) SpeculativeAuthenticateDoc(source string) (bsoncore.Document, error) {
	return nil, nil // MONGODB-AWS requires a server nonce first; no speculative path.
}

func (a *mongoDBAWSAuthenticator) Auth(ctx context.Context, conn ConnectionHandshaker, speculative bsoncore.Document) error {
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if accessKey == "" || secretKey == "" {
		return fmt.Errorf("auth: MONGODB-AWS requires AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY in the environment")
	}

	clientNonce := make([]byte, 32)
	if _, err := rand.Read(clientNonce); err != nil {
		return err
	}

	idx, startDoc := bsoncore.AppendDocumentStart(nil)
	startDoc = bsoncore.AppendInt32Element(startDoc, "saslStart", 1)
	startDoc = bsoncore.AppendStringElement(startDoc, "mechanism", "MONGODB-AWS")
	startDoc = bsoncore.AppendBinaryElement(startDoc, "payload", 0x00, awsFirstPayload(clientNonce))
	startDoc, _ = bsoncore.AppendDocumentEnd(startDoc, idx)

	reply, err := conn.RunCommand(ctx, "$external", startDoc)
	if err != nil {
		return fmt.Errorf("%w: saslStart: %v", ErrAuthentication, err)
	}
	_, convID, _, err := parseSaslReply(reply)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	// The server-first payload carries the STS host and a server nonce
	// that extends clientNonce; signing the GetCallerIdentity request
	// with SigV4 against that host is the part that needs the excluded
	// AWS-SDK collaborator (request signing, region resolution, STS
	// regional endpoints), so this core stops short of producing a
	// sendable saslContinue here and surfaces that explicitly.
	_ = accessKey
	_ = secretKey
	_ = convID
	return fmt.Errorf("auth: MONGODB-AWS SigV4 request signing requires an AWS SDK collaborator not provided to this core")
}

// awsFirstPayload builds the client-first MONGODB-AWS payload: a BSON
// document {r: <32-byte nonce>, p: 110} ("p" selects SASL mechanism
// properties; 110 is ASCII 'n' per the AWS auth spec's placeholder).
func awsFirstPayload(nonce []byte) []byte {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendBinaryElement(doc, "r", 0x00, nonce)
	doc = bsoncore.AppendInt32Element(doc, "p", 110)
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc
}

// awsSignature is retained as a documented extension point: once a signer
// collaborator is wired in, it produces the Authorization header value
// HMAC-derived from the AWS secret key, matching SigV4's signing-key chain.
func awsSignature(secretKey, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
