package stepwise

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var signingKeyPrefix = regexp.MustCompile(`^signkey-.+-`)

// signatureSkew is the tolerated clock skew, in either direction, between
// the timestamp embedded in a signature and the verifier's clock.
const signatureSkew = 300 * time.Second

// hashedSigningKey re-digests a signing key for use as a bearer credential:
// the preserved prefix plus the SHA-256 of the raw bytes obtained by
// hex-decoding the key's payload.
func hashedSigningKey(key string) (string, error) {
	prefix := signingKeyPrefix.FindString(key)
	if prefix == "" {
		return "", BasicError("signing key missing signkey-{env}- prefix")
	}

	payload := normalizeSigningKey(key)
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return "", BasicError("signing key payload is not valid hex: %v", err)
	}

	sum := sha256.Sum256(raw)
	return prefix + hex.EncodeToString(sum[:]), nil
}

func normalizeSigningKey(key string) string {
	return signingKeyPrefix.ReplaceAllString(key, "")
}

// signRequest computes the X-Inngest-Signature header value for body,
// signed with key at unixTS.
func signRequest(unixTS int64, key string, body []byte) string {
	payload := normalizeSigningKey(key)
	mac := hmac.New(sha256.New, []byte(payload))
	mac.Write(body)
	mac.Write([]byte(strconv.FormatInt(unixTS, 10)))
	sum := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d&s=%s", unixTS, sum)
}

// verifySignature checks that sig was produced by signRequest for key and
// body within the tolerated clock skew. Set ignoreSkew to bypass the
// timestamp check (used by tests replaying a fixed signature).
func verifySignature(sig, key string, body []byte, ignoreSkew bool) error {
	fields := parseSigFields(sig)

	tsStr, ok := fields["t"]
	if !ok {
		return BasicError("signature missing t field")
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return BasicError("signature t field is not an integer")
	}

	if !ignoreSkew {
		skew := time.Since(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > signatureSkew {
			return BasicError("signature timestamp outside tolerated skew")
		}
	}

	expected := signRequest(ts, key, body)
	expectedFields := parseSigFields(expected)
	if fields["s"] != expectedFields["s"] {
		return BasicError("signature does not match")
	}

	return nil
}

// verifySignatureWithFallback checks sig against key first and, if that
// fails, against fallbackKey. This lets a signing key be rotated without
// downtime: the executor can be updated to sign with the new key while this
// handler still accepts requests signed with the old one. Returns the key
// that actually matched.
func verifySignatureWithFallback(sig, key, fallbackKey string, body []byte, ignoreSkew bool) (matched string, err error) {
	if key != "" {
		if err := verifySignature(sig, key, body, ignoreSkew); err == nil {
			return key, nil
		}
	}
	if fallbackKey != "" {
		if err := verifySignature(sig, fallbackKey, body, ignoreSkew); err == nil {
			return fallbackKey, nil
		}
	}
	return "", BasicError("signature does not match signing key or signing key fallback")
}

func parseSigFields(sig string) map[string]string {
	fields := map[string]string{}
	for _, pair := range strings.Split(sig, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		fields[k] = v
	}
	return fields
}
