package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const totpSecretBytes = 20 // 160 bits, RFC 4226 recommended minimum

// TOTP generates and verifies time-based one-time passwords.
type TOTP struct {
	Issuer string
	Period int
	Digits int
	// Skew is the number of accepted steps either side of the current one.
	// A code remains valid anywhere inside the window; replay within it is
	// an accepted tolerance.
	Skew int
}

// NewTOTP returns a verifier with the standard 30s/6-digit/±1 parameters.
func NewTOTP(issuer string) *TOTP {
	return &TOTP{Issuer: issuer, Period: 30, Digits: 6, Skew: 1}
}

// GenerateSecret returns a fresh base32-encoded (no padding) shared secret.
func (t *TOTP) GenerateSecret() (string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// ProvisioningURI renders the otpauth:// URI scannable by authenticator apps.
func (t *TOTP) ProvisioningURI(secret, account string) string {
	label := url.PathEscape(t.Issuer + ":" + account)
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", t.Issuer)
	v.Set("period", strconv.Itoa(t.Period))
	v.Set("digits", strconv.Itoa(t.Digits))
	v.Set("algorithm", "SHA1")
	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Verify checks a code against the secret at the given instant.
func (t *TOTP) Verify(secret, code string, now time.Time) bool {
	if len(code) != t.Digits || !isNumeric(code) {
		return false
	}
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		return false
	}
	base := now.Unix() / int64(t.Period)
	for step := -t.Skew; step <= t.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(t.code(key, uint64(counter))), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// CodeAt returns the code for the step containing the given instant.
func (t *TOTP) CodeAt(secret string, now time.Time) (string, error) {
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		return "", err
	}
	return t.code(key, uint64(now.Unix()/int64(t.Period))), nil
}

func (t *TOTP) code(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := int(sum[offset]&0x7f)<<24 |
		int(sum[offset+1])<<16 |
		int(sum[offset+2])<<8 |
		int(sum[offset+3])

	mod := 1
	for i := 0; i < t.Digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", t.Digits, bin%mod)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
