// Package auth hashes the access passwords of protected QR codes and
// carries the owner resolved by the upstream gateway.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

// MinPasswordLength and MaxPasswordLength bound access passwords, in runes.
const (
	MinPasswordLength = 4
	MaxPasswordLength = 128
)

var (
	ErrInvalidHash         = errors.New("invalid password hash")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	ErrPasswordLength      = fmt.Errorf("password must be %d to %d characters", MinPasswordLength, MaxPasswordLength)
)

// argonParams are the cost settings embedded in a stored hash.
type argonParams struct {
	memory  uint32 // KiB
	passes  uint32
	threads uint8
}

// Every scan of a protected code pays for one verification, so new hashes
// use the OWASP floor of 19 MiB and 2 passes.
var currentParams = argonParams{memory: 19 * 1024, passes: 2, threads: 1}

// Stored hashes above these are refused rather than computed.
const (
	maxMemory  = 256 * 1024
	maxPasses  = 10
	maxThreads = 8
)

const (
	saltLen = 16
	keyLen  = 32
)

// ValidatePassword checks the length of a new access password.
func ValidatePassword(password string) error {
	if n := utf8.RuneCountInString(password); n < MinPasswordLength || n > MaxPasswordLength {
		return ErrPasswordLength
	}
	return nil
}

// HashPassword returns password hashed with Argon2id, encoded as a PHC
// string: $argon2id$v=19$m=19456,t=2,p=1$<salt>$<key>
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	p := currentParams
	key := argon2.IDKey([]byte(password), salt, p.passes, p.memory, p.threads, keyLen)

	enc := base64.RawStdEncoding
	return "$argon2id$v=" + strconv.Itoa(argon2.Version) + "$" + p.String() +
		"$" + enc.EncodeToString(salt) + "$" + enc.EncodeToString(key), nil
}

// VerifyPassword reports whether password produces encodedHash. The cost
// parameters come from the hash itself.
func VerifyPassword(password, encodedHash string) (bool, error) {
	p, salt, want, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, p.passes, p.memory, p.threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (p argonParams) String() string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", p.memory, p.passes, p.threads)
}

func decodeHash(encoded string) (argonParams, []byte, []byte, error) {
	var p argonParams

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return p, nil, nil, ErrInvalidHash
	}
	version, ok := strings.CutPrefix(fields[2], "v=")
	if !ok {
		return p, nil, nil, ErrInvalidHash
	}
	if version != strconv.Itoa(argon2.Version) {
		return p, nil, nil, ErrIncompatibleVersion
	}

	for _, kv := range strings.Split(fields[3], ",") {
		name, raw, _ := strings.Cut(kv, "=")
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return p, nil, nil, ErrInvalidHash
		}
		switch name {
		case "m":
			p.memory = uint32(n)
		case "t":
			p.passes = uint32(n)
		case "p":
			if n > 255 {
				return p, nil, nil, ErrInvalidHash
			}
			p.threads = uint8(n)
		default:
			return p, nil, nil, ErrInvalidHash
		}
	}
	if p.memory == 0 || p.memory > maxMemory || p.passes == 0 || p.passes > maxPasses ||
		p.threads == 0 || p.threads > maxThreads {
		return p, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(fields[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	return p, salt, key, nil
}
