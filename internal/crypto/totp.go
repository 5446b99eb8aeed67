package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// Break-glass codes use a 5-minute step: long enough for an advocate to
// read the code off a push notification and type it in, short enough that
// a leaked code goes stale quickly.
const TOTPStep = 300 * time.Second

// TOTPCode derives the RFC 6238 code for the step containing at.
func TOTPCode(secret []byte, at time.Time) string {
	counter := uint64(at.Unix()) / uint64(TOTPStep.Seconds())
	return hotp(secret, counter)
}

// VerifyTOTP accepts the code for the current step or any step within
// skew steps on either side.
func VerifyTOTP(secret []byte, code string, at time.Time, skew int) bool {
	counter := int64(at.Unix()) / int64(TOTPStep.Seconds())
	for delta := -skew; delta <= skew; delta++ {
		c := counter + int64(delta)
		if c < 0 {
			continue
		}
		expected := hotp(secret, uint64(c))
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// HashOTP returns the hex SHA-256 of a code. Only hashes are persisted.
func HashOTP(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// hotp implements RFC 4226 dynamic truncation with HMAC-SHA1.
func hotp(secret []byte, counter uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%06d", value%1000000)
}
