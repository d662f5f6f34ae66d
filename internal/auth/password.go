// password.go

// PBKDF2-HMAC-SHA256 password hashing and verification.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltLen           = 32
	DigestLen         = 32
	MinIterations     = uint32(100_000)
	DefaultIterations = MinIterations
	// maxIterations bounds the work a stored credential can ask for.
	maxIterations = uint32(10_000_000)
)

// dummyPassword is hashed once per Hasher; unknown identifiers are verified
// against it so "no such user" costs the same as "wrong password".
const dummyPassword = "warden-timing-equaliser"

// Hasher derives and verifies password credentials. It holds no mutable
// state besides the lazily built dummy credential, so one Hasher may be
// shared across goroutines.
type Hasher struct {
	iterations uint32
	random     io.Reader
	log        *slog.Logger

	dummyMu sync.Mutex
	dummy   *HashedCredential
}

// NewHasher returns a Hasher producing credentials with the given iteration
// count. Counts below MinIterations are raised to MinIterations.
func NewHasher(iterations uint32, opts ...Option) *Hasher {
	o := buildOptions(opts)
	if iterations < MinIterations {
		iterations = MinIterations
	}
	if iterations > maxIterations {
		iterations = maxIterations
	}
	return &Hasher{iterations: iterations, random: o.random, log: o.log}
}

// Iterations returns the iteration count new credentials are hashed with.
func (h *Hasher) Iterations() uint32 {
	return h.iterations
}

// Hash derives a fresh credential from password with a new random salt.
// Returns an error wrapping ErrHashingUnavailable if the random source fails.
func (h *Hasher) Hash(password string) (HashedCredential, error) {
	salt := make([]byte, SaltLen)
	if _, err := io.ReadFull(h.random, salt); err != nil {
		return HashedCredential{}, fmt.Errorf("%w: generating salt: %w", ErrHashingUnavailable, err)
	}

	digest := pbkdf2.Key([]byte(password), salt, int(h.iterations), DigestLen, sha256.New)

	return HashedCredential{
		Digest:     hex.EncodeToString(digest),
		Salt:       hex.EncodeToString(salt),
		Algorithm:  AlgPBKDF2SHA256,
		Iterations: h.iterations,
	}, nil
}

// Verify checks password against c. Re-derives with the credential's own salt
// and iteration count so credentials hashed under older parameters keep working.
// Malformed or unknown credentials return false; Verify never errors.
func (h *Hasher) Verify(password string, c Credential) bool {
	if hc, ok := asHashed(c); ok {
		return verifyPBKDF2(password, hc)
	}
	switch c := c.(type) {
	case LegacyCredential:
		if c.Plaintext == "" {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(password), []byte(c.Plaintext)) == 1
	case ImportedCredential:
		switch c.Algorithm {
		case AlgArgon2id:
			ok, err := verifyArgon2id(password, c.Encoded)
			if err != nil {
				h.log.Debug("imported argon2id credential unverifiable", "error", err)
			}
			return ok
		case AlgBcrypt:
			return bcrypt.CompareHashAndPassword([]byte(c.Encoded), []byte(password)) == nil
		}
	}
	return false
}

// asHashed unwraps a HashedCredential held by value or by non-nil pointer.
func asHashed(c Credential) (HashedCredential, bool) {
	switch c := c.(type) {
	case HashedCredential:
		return c, true
	case *HashedCredential:
		if c != nil {
			return *c, true
		}
	}
	return HashedCredential{}, false
}

// NeedsRehash reports whether c should be replaced by a fresh credential under
// the current parameters.
func (h *Hasher) NeedsRehash(c Credential) bool {
	hc, ok := asHashed(c)
	if !ok {
		return true
	}
	return hc.Algorithm != AlgPBKDF2SHA256 || hc.Iterations < h.iterations
}

// Migrate upgrades c to a HashedCredential under the current parameters.
// One-way: password must verify against c first, otherwise ErrInvalidCredentials.
// A credential already current is returned unchanged.
func (h *Hasher) Migrate(password string, c Credential) (HashedCredential, error) {
	if !h.Verify(password, c) {
		return HashedCredential{}, ErrInvalidCredentials
	}
	if hc, ok := asHashed(c); ok && !h.NeedsRehash(hc) {
		return hc, nil
	}
	return h.Hash(password)
}

// VerifyDummy runs a full verification against a throwaway credential so
// callers can equalise timing when there is nothing real to verify.
// The credential is built on first use and retried until it succeeds; an
// error wraps ErrHashingUnavailable.
func (h *Hasher) VerifyDummy(password string) error {
	h.dummyMu.Lock()
	if h.dummy == nil {
		hc, err := h.Hash(dummyPassword)
		if err != nil {
			h.dummyMu.Unlock()
			return fmt.Errorf("building dummy credential: %w", err)
		}
		h.dummy = &hc
	}
	dummy := *h.dummy
	h.dummyMu.Unlock()

	_ = h.Verify(password, dummy)
	return nil
}

func verifyPBKDF2(password string, c HashedCredential) bool {
	if c.Algorithm != AlgPBKDF2SHA256 || c.Iterations == 0 || c.Iterations > maxIterations {
		return false
	}
	salt, err := hex.DecodeString(c.Salt)
	if err != nil || len(salt) == 0 {
		return false
	}
	expected, err := hex.DecodeString(c.Digest)
	if err != nil || len(expected) != DigestLen {
		return false
	}

	digest := pbkdf2.Key([]byte(password), salt, int(c.Iterations), DigestLen, sha256.New)

	// Constant time; never short-circuit on a partial match
	return subtle.ConstantTimeCompare(digest, expected) == 1
}

// verifyArgon2id checks password against a PHC-formatted Argon2id hash.
// Format: $argon2id$v=19$m=65536,t=3,p=2$<base64 salt>$<base64 hash>
func verifyArgon2id(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return false, fmt.Errorf("unsupported algorithm")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parsing hash version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version: %d", version)
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("parsing hash params: %w", err)
	}
	// Imported rows are not trusted to pick arbitrary cost
	if memory == 0 || time == 0 || threads == 0 || memory > 256*1024 || time > 16 {
		return false, fmt.Errorf("invalid hash params")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decoding salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decoding hash: %w", err)
	}
	if len(expected) == 0 {
		return false, fmt.Errorf("empty hash")
	}

	hash := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(hash, expected) == 1, nil
}
