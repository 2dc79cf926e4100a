// Package signing computes and checks HMAC-SHA256 signatures over
// "{timestamp}.{payload}". Signatures are lowercase hex on both sides.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// Reason explains why a verification failed.
type Reason string

const (
	ReasonOK                 Reason = ""
	ReasonMissingSecret      Reason = "missing_secret"
	ReasonMissingTimestamp   Reason = "missing_timestamp"
	ReasonInvalidTimestamp   Reason = "invalid_timestamp"
	ReasonStaleTimestamp     Reason = "stale_timestamp"
	ReasonMissingSignature   Reason = "missing_signature"
	ReasonMalformedSignature Reason = "malformed_signature"
	ReasonMismatch           Reason = "signature_mismatch"
)

// Sign returns the hex HMAC-SHA256 of timestamp + "." + payload.
func Sign(secret []byte, timestamp string, payload []byte) string {
	return hex.EncodeToString(mac(secret, timestamp, payload))
}

// Headers signs payload at now and returns the header values to send.
func Headers(secret []byte, now time.Time, payload []byte) (timestamp string, signature string) {
	timestamp = strconv.FormatInt(now.Unix(), 10)
	return timestamp, Sign(secret, timestamp, payload)
}

// Verify reports whether signature authenticates payload at timestamp and
// the timestamp is within ttl of now. It fails closed.
func Verify(secret []byte, timestamp string, payload []byte, signature string, ttl time.Duration, now time.Time) bool {
	return VerifyDetailed(secret, timestamp, payload, signature, ttl, now) == ReasonOK
}

// VerifyDetailed is Verify with the failure reason exposed for logging.
func VerifyDetailed(secret []byte, timestamp string, payload []byte, signature string, ttl time.Duration, now time.Time) Reason {
	if len(secret) == 0 {
		return ReasonMissingSecret
	}
	timestamp = strings.TrimSpace(timestamp)
	if timestamp == "" {
		return ReasonMissingTimestamp
	}
	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ReasonInvalidTimestamp
	}
	if ttl <= 0 {
		return ReasonStaleTimestamp
	}
	delta := now.Sub(time.Unix(seconds, 0))
	if delta < 0 {
		delta = -delta
	}
	if delta > ttl {
		return ReasonStaleTimestamp
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ReasonMissingSignature
	}
	supplied, ok := DecodeSignature(signature)
	if !ok {
		return ReasonMalformedSignature
	}
	if !hmac.Equal(supplied, mac(secret, timestamp, payload)) {
		return ReasonMismatch
	}
	return ReasonOK
}

// DecodeSignature accepts only the hex encoding produced by Sign.
func DecodeSignature(signature string) ([]byte, bool) {
	decoded, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil || len(decoded) != sha256.Size {
		return nil, false
	}
	return decoded, true
}

// Verifier binds a secret and TTL. Now defaults to the wall clock.
type Verifier struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewVerifier(secret string, ttl time.Duration) Verifier {
	return Verifier{Secret: []byte(secret), TTL: ttl}
}

func (v Verifier) Verify(timestamp string, payload []byte, signature string) bool {
	return v.Check(timestamp, payload, signature) == ReasonOK
}

func (v Verifier) Check(timestamp string, payload []byte, signature string) Reason {
	return VerifyDetailed(v.Secret, timestamp, payload, signature, v.TTL, v.now())
}

func (v Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func mac(secret []byte, timestamp string, payload []byte) []byte {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(timestamp))
	_, _ = h.Write([]byte("."))
	_, _ = h.Write(payload)
	return h.Sum(nil)
}
