// Package crypto provides AEAD encryption-at-rest for channel credentials
// and HMAC request signing for the signature verification middleware.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for master-password key derivation.
const (
	kdfTime    = 3
	kdfMemory  = 64 * 1024 // 64 MB
	kdfThreads = 4
	kdfKeyLen  = 32
)

// MinPasswordLen is the minimum master password length the spec requires.
const MinPasswordLen = 32

// Box performs AEAD encrypt/decrypt of string payloads using a key derived
// from a master password via Argon2id. It is safe for concurrent use: the
// derived key is immutable after construction.
type Box struct {
	key []byte
}

// New derives the AEAD key from password and salt. Password must be at
// least MinPasswordLen bytes. salt is typically a fixed, operator-supplied
// hex string (ENCRYPTION_SALT) so the derived key, and with it the ability to
// decrypt stored ciphertext, is stable across restarts.
func New(password string, salt []byte) (*Box, error) {
	if len(password) < MinPasswordLen {
		return nil, fmt.Errorf("master password must be at least %d bytes", MinPasswordLen)
	}
	if len(salt) == 0 {
		return nil, errors.New("salt must not be empty")
	}
	key := argon2.IDKey([]byte(password), salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
	return &Box{key: key}, nil
}

// Encrypt returns the ciphertext for plain as "iv:authTag:ct", hex-encoded.
// Each call uses a fresh random nonce, so two calls on the same input differ.
func (b *Box) Encrypt(plain string) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plain), nil)
	tagLen := gcm.Overhead()
	ct := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt reverses Encrypt. It fails with ErrBadCiphertext if the shape is
// wrong or the auth tag does not verify.
func (b *Box) Decrypt(ct string) (string, error) {
	iv, tag, data, err := splitCiphertext(ct)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(iv) != gcm.NonceSize() {
		return "", ErrBadCiphertext
	}

	sealed := append(append([]byte{}, data...), tag...)
	plain, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrBadCiphertext
	}
	return string(plain), nil
}

// ErrBadCiphertext is returned by Decrypt on length mismatch or tag failure.
var ErrBadCiphertext = errors.New("bad ciphertext")

// IsEncrypted reports whether s has the three-hex-segment "iv:tag:ct" shape.
func IsEncrypted(s string) bool {
	_, _, _, err := splitCiphertext(s)
	return err == nil
}

func splitCiphertext(s string) (iv, tag, ct []byte, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, nil, nil, ErrBadCiphertext
	}
	iv, err1 := hex.DecodeString(parts[0])
	tag, err2 := hex.DecodeString(parts[1])
	ct, err3 := hex.DecodeString(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, nil, nil, ErrBadCiphertext
	}
	return iv, tag, ct, nil
}

// Mask preserves the first and last n characters of s, replacing the middle
// with asterisks. Used for displaying credentials in admin responses.
func Mask(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) <= 2*n {
		return strings.Repeat("*", len(s))
	}
	return s[:n] + strings.Repeat("*", len(s)-2*n) + s[len(s)-n:]
}

// --- HMAC request signatures ---

// DefaultTimestampWindow is the default ±tolerance for signature timestamps.
const DefaultTimestampWindow = 5 * time.Minute

// SignString builds the canonical string-to-sign: one line per component,
// headers appended as "Key:Value" pairs in the order given.
func SignString(method, path, timestamp, body string, headers map[string]string, headerOrder []string) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(timestamp)
	b.WriteByte('\n')
	b.WriteString(body)
	for _, k := range headerOrder {
		b.WriteByte('\n')
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(headers[k])
	}
	return b.String()
}

// ComputeSignature returns the hex-encoded HMAC-SHA256 of msg under secret.
func ComputeSignature(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature constant-time compares the computed signature for msg
// against the provided signature.
func VerifySignature(secret, msg, signature string) bool {
	expected := ComputeSignature(secret, msg)
	if len(expected) != len(signature) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// VerifyTimestamp parses ts (unix seconds) and reports whether it falls
// within window of now. Used by the signature verifier middleware.
func VerifyTimestamp(ts string, now time.Time, window time.Duration) bool {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	t := time.Unix(sec, 0)
	delta := now.Sub(t)
	if delta < 0 {
		delta = -delta
	}
	return delta <= window
}
