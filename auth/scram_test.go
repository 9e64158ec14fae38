package auth

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
	"golang.org/x/crypto/pbkdf2"

	"github.com/corekv/docdriver/internal/assert"
)

// fakeScramServer plays the server half of RFC 5802 against our client
// conversation, so the exchange can be tested without a real mongod
// (mirrors the teacher's practice of driving protocol state machines
// in-process, e.g. x/mongo/driver/operation/hello_test.go's encodeWithCallback).
type fakeScramServer struct {
	mechanism  scramMechanism
	salt       []byte
	iterations int
	convID     int32

	saltedPassword []byte
	authMessage    string
}

func newFakeScramServer(m scramMechanism, username, password string, salt []byte, iterations int) (*fakeScramServer, error) {
	processed, err := preprocessPassword(m, username, password)
	if err != nil {
		return nil, err
	}
	h := m.newHash()
	salted := pbkdf2.Key([]byte(processed), salt, iterations, h().Size(), h)
	return &fakeScramServer{mechanism: m, salt: salt, iterations: iterations, convID: 1, saltedPassword: salted}, nil
}

func (s *fakeScramServer) RunCommand(ctx context.Context, db string, body bsoncore.Document) (bsoncore.Document, error) {
	elems, err := body.Elements()
	if err != nil {
		return nil, err
	}

	var payload []byte
	for _, e := range elems {
		if e.Key() == "payload" {
			_, payload, _ = e.Value().BinaryOK()
		}
	}

	switch elems[0].Key() {
	case "saslStart":
		return s.handleStart(string(payload)), nil
	case "saslContinue":
		if len(payload) == 0 {
			return okSaslReply(s.convID, "", true), nil
		}
		return s.handleContinue(string(payload)), nil
	}
	return nil, nil
}

func (s *fakeScramServer) handleStart(clientFirst string) bsoncore.Document {
	bare := strings.TrimPrefix(clientFirst, "n,,")
	serverNonce := extractField(bare, 'r') + "servernonce"

	serverFirst := "r=" + serverNonce + ",s=" + base64.StdEncoding.EncodeToString(s.salt) + ",i=" + strconv.Itoa(s.iterations)
	s.authMessage = bare + "," + serverFirst

	return okSaslReply(s.convID, serverFirst, false)
}

func (s *fakeScramServer) handleContinue(clientFinal string) bsoncore.Document {
	clientFinalNoProof := clientFinal[:strings.Index(clientFinal, ",p=")]
	s.authMessage += "," + clientFinalNoProof

	h := s.mechanism.newHash()
	serverKey := hmacSum(h, s.saltedPassword, []byte("Server Key"))
	serverSignature := hmacSum(h, serverKey, []byte(s.authMessage))

	return okSaslReply(s.convID, "v="+base64.StdEncoding.EncodeToString(serverSignature), true)
}

func extractField(s string, key byte) string {
	for _, part := range strings.Split(s, ",") {
		if len(part) > 1 && part[0] == key && part[1] == '=' {
			return part[2:]
		}
	}
	return ""
}

func okSaslReply(convID int32, payload string, done bool) bsoncore.Document {
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendDoubleElement(doc, "ok", 1)
	doc = bsoncore.AppendInt32Element(doc, "conversationId", convID)
	doc = bsoncore.AppendBinaryElement(doc, "payload", 0x00, []byte(payload))
	doc = bsoncore.AppendBooleanElement(doc, "done", done)
	doc, _ = bsoncore.AppendDocumentEnd(doc, idx)
	return doc
}

func TestScramAuthenticator_FullConversation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mechanism scramMechanism
	}{
		{name: "SCRAM-SHA-1", mechanism: sha1Mechanism{}},
		{name: "SCRAM-SHA-256", mechanism: sha256Mechanism{}},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			cred := Credential{Username: "user", Password: "pencil", Source: "admin", Mechanism: test.mechanism.name()}
			auther, err := newScramAuthenticator(cred, test.mechanism)
			assert.Nil(t, err)
			auther.clientNonce = "clientnonce"

			server, err := newFakeScramServer(test.mechanism, cred.Username, cred.Password, []byte("somesalt"), 10000)
			assert.Nil(t, err)

			err = auther.Auth(context.Background(), server, nil)
			assert.Nil(t, err, "expected successful authentication, got %v", err)
		})
	}
}

func TestScramAuthenticator_RejectsLowIterationCount(t *testing.T) {
	t.Parallel()

	cred := Credential{Username: "user", Password: "pencil", Source: "admin", Mechanism: "SCRAM-SHA-256"}
	auther, err := newScramAuthenticator(cred, sha256Mechanism{})
	assert.Nil(t, err)
	auther.clientNonce = "clientnonce"

	server, err := newFakeScramServer(sha256Mechanism{}, cred.Username, cred.Password, []byte("somesalt"), 1000)
	assert.Nil(t, err)

	err = auther.Auth(context.Background(), server, nil)
	assert.NotNil(t, err, "expected an error for a too-low iteration count")
}

func TestScramAuthenticator_RejectsWrongPassword(t *testing.T) {
	t.Parallel()

	cred := Credential{Username: "user", Password: "pencil", Source: "admin", Mechanism: "SCRAM-SHA-256"}
	auther, err := newScramAuthenticator(cred, sha256Mechanism{})
	assert.Nil(t, err)
	auther.clientNonce = "clientnonce"

	server, err := newFakeScramServer(sha256Mechanism{}, cred.Username, "wrongpassword", []byte("somesalt"), 10000)
	assert.Nil(t, err)

	err = auther.Auth(context.Background(), server, nil)
	assert.NotNil(t, err, "expected a server signature mismatch for a wrong password")
}

func TestSaltedPasswordCache(t *testing.T) {
	t.Parallel()

	c := newSaltedPasswordCache()
	salt := []byte("salt")

	_, ok := c.get("SCRAM-SHA-256", "pw", salt, 10000)
	assert.False(t, ok, "expected a miss before any put")

	c.put("SCRAM-SHA-256", "pw", salt, 10000, []byte{1, 2, 3})
	got, ok := c.get("SCRAM-SHA-256", "pw", salt, 10000)
	assert.True(t, ok, "expected a hit after put")
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestNegotiateMechanism(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cred  Credential
		mechs []string
		want  string
	}{
		{
			name: "explicit mechanism wins",
			cred: Credential{Username: "u", Mechanism: "SCRAM-SHA-1"},
			mechs: []string{"SCRAM-SHA-256"},
			want:  "SCRAM-SHA-1",
		},
		{
			name:  "prefers SHA-256 when offered",
			cred:  Credential{Username: "u"},
			mechs: []string{"SCRAM-SHA-1", "SCRAM-SHA-256"},
			want:  "SCRAM-SHA-256",
		},
		{
			name:  "falls back to SHA-1",
			cred:  Credential{Username: "u"},
			mechs: []string{"SCRAM-SHA-1"},
			want:  "SCRAM-SHA-1",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got, err := NegotiateMechanism(test.cred, test.mechs)
			assert.Nil(t, err)
			assert.Equal(t, test.want, got.Mechanism)
		})
	}
}
