package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const signatureTimestampTolerance = 5 * time.Minute

// VerifyWebhookSignature checks the provider's signature header over the
// raw request body. The header has the form "t=<unix>,v1=<hex>[,v1=...]"
// and the signed content is "{t}.{body}".
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	header := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if header == "" || secret == "" {
		return false
	}

	var timestamp string
	var candidates [][]byte
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			sig, err := hex.DecodeString(kv[1])
			if err == nil {
				candidates = append(candidates, sig)
			}
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return false
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	drift := time.Since(time.Unix(unix, 0))
	if drift < -signatureTimestampTolerance || drift > signatureTimestampTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.", timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		if hmac.Equal(candidate, expected) {
			return true
		}
	}
	return false
}

// SignPayload produces a signature header for a payload; used by tests and
// the local webhook replay tool.
func SignPayload(payload []byte, webhookSecret string, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%s.", timestamp)
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}
