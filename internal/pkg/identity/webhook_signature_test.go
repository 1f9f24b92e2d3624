package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testWebhookSecret = "whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw"

func signLifecycleWebhook(t *testing.T, payload []byte, msgID string, at time.Time, secret string) (string, string) {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString(secret[len("whsec_"):])
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.", msgID, ts)
	mac.Write(payload)
	return ts, "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature_Valid(t *testing.T) {
	payload := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)
	ts, sig := signLifecycleWebhook(t, payload, "msg_1", time.Now(), testWebhookSecret)

	assert.True(t, VerifyWebhookSignature(payload, "msg_1", ts, sig, testWebhookSecret))
}

func TestVerifyWebhookSignature_MultipleCandidates(t *testing.T) {
	payload := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)
	ts, sig := signLifecycleWebhook(t, payload, "msg_1", time.Now(), testWebhookSecret)

	header := "v1,AAAA " + sig + " v2,ignored"
	assert.True(t, VerifyWebhookSignature(payload, "msg_1", ts, header, testWebhookSecret))
}

func TestVerifyWebhookSignature_WrongMessageID(t *testing.T) {
	payload := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)
	ts, sig := signLifecycleWebhook(t, payload, "msg_1", time.Now(), testWebhookSecret)

	assert.False(t, VerifyWebhookSignature(payload, "msg_2", ts, sig, testWebhookSecret))
}

func TestVerifyWebhookSignature_TamperedPayload(t *testing.T) {
	payload := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)
	ts, sig := signLifecycleWebhook(t, payload, "msg_1", time.Now(), testWebhookSecret)

	tampered := []byte(`{"type":"user.deleted","data":{"id":"user_1"}}`)
	assert.False(t, VerifyWebhookSignature(tampered, "msg_1", ts, sig, testWebhookSecret))
}

func TestVerifyWebhookSignature_StaleTimestamp(t *testing.T) {
	payload := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)
	ts, sig := signLifecycleWebhook(t, payload, "msg_1", time.Now().Add(-10*time.Minute), testWebhookSecret)

	assert.False(t, VerifyWebhookSignature(payload, "msg_1", ts, sig, testWebhookSecret))
}

func TestVerifyWebhookSignature_MissingPieces(t *testing.T) {
	payload := []byte(`{}`)
	ts, sig := signLifecycleWebhook(t, payload, "msg_1", time.Now(), testWebhookSecret)

	assert.False(t, VerifyWebhookSignature(payload, "", ts, sig, testWebhookSecret))
	assert.False(t, VerifyWebhookSignature(payload, "msg_1", "", sig, testWebhookSecret))
	assert.False(t, VerifyWebhookSignature(payload, "msg_1", ts, "", testWebhookSecret))
	assert.False(t, VerifyWebhookSignature(payload, "msg_1", ts, sig, ""))
	assert.False(t, VerifyWebhookSignature(payload, "msg_1", "yesterday", sig, testWebhookSecret))
	assert.False(t, VerifyWebhookSignature(payload, "msg_1", ts, sig, "whsec_%%%notbase64"))
}
