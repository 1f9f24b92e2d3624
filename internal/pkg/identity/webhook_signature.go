package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const webhookTimestampTolerance = 5 * time.Minute

// VerifyWebhookSignature checks an identity-provider lifecycle webhook.
// The signed content is "{id}.{timestamp}.{body}" with an HMAC-SHA256 key
// decoded from the base64 part of a "whsec_..." secret. The signature
// header carries space-separated "v1,<base64>" candidates; any match wins.
func VerifyWebhookSignature(payload []byte, msgID, timestamp, signatureHeader, webhookSecret string) bool {
	id := strings.TrimSpace(msgID)
	ts := strings.TrimSpace(timestamp)
	sigs := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if id == "" || ts == "" || sigs == "" || secret == "" {
		return false
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	drift := time.Since(time.Unix(unix, 0))
	if drift < -webhookTimestampTolerance || drift > webhookTimestampTolerance {
		return false
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.", id, ts)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range strings.Fields(sigs) {
		parts := strings.SplitN(candidate, ",", 2)
		if len(parts) != 2 || parts[0] != "v1" {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return true
		}
	}
	return false
}
