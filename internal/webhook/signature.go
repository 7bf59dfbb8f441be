package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const SignatureHeader = "X-Crux-Signature"

var ErrMalformedSignature = errors.New("webhook: malformed signature header")

// Sign returns the hex HMAC-SHA256 of "<unix ts>.<payload>".
func Sign(payload []byte, secret string, timestamp time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// FormatSignature renders the header value t=<unix>,v1=<hex>.
func FormatSignature(signature string, timestamp time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp.Unix(), signature)
}

func ParseSignature(header string) (signature string, timestamp time.Time, err error) {
	var ts int64
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if val, ok := strings.CutPrefix(part, "t="); ok {
			ts, err = strconv.ParseInt(val, 10, 64)
			if err != nil {
				return "", time.Time{}, fmt.Errorf("%w: invalid timestamp: %v", ErrMalformedSignature, err)
			}
		} else if val, ok := strings.CutPrefix(part, "v1="); ok {
			signature = val
		}
	}

	if signature == "" || ts == 0 {
		return "", time.Time{}, ErrMalformedSignature
	}
	return signature, time.Unix(ts, 0), nil
}

// Verify checks a signature header against payload. Timestamps older than
// tolerance are rejected.
func Verify(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	sig, ts, err := ParseSignature(header)
	if err != nil {
		return err
	}
	if now.Sub(ts) > tolerance {
		return fmt.Errorf("webhook: signature timestamp %s outside tolerance", ts.UTC().Format(time.RFC3339))
	}
	if !hmac.Equal([]byte(sig), []byte(Sign(payload, secret, ts))) {
		return errors.New("webhook: signature mismatch")
	}
	return nil
}
