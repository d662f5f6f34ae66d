// credential.go

// Stored credential shapes and their string encoding.
package auth

import (
	"fmt"
	"strings"
)

// Algorithm names the derivation behind a stored credential.
type Algorithm string

const (
	AlgUnknown      Algorithm = ""
	AlgPBKDF2SHA256 Algorithm = "pbkdf2-sha256"
	// Verify-only formats accepted from imported user tables.
	AlgArgon2id Algorithm = "argon2id"
	AlgBcrypt   Algorithm = "bcrypt"
)

// Credential is a stored password credential. The set of implementations is
// closed: HashedCredential, LegacyCredential, ImportedCredential.
type Credential interface {
	// Encode returns the storage form of the credential.
	Encode() string
	credential()
}

// HashedCredential is a PBKDF2 digest with the salt and parameters needed to re-derive it.
// Digest and Salt are hex-encoded.
type HashedCredential struct {
	Digest     string
	Salt       string
	Algorithm  Algorithm
	Iterations uint32
}

// LegacyCredential is an un-hashed password left over from before hashing was introduced.
// It verifies, but Coordinator migrates it to a HashedCredential on the next successful login.
type LegacyCredential struct {
	Plaintext string
}

// ImportedCredential is a hash produced by another system (argon2id PHC or bcrypt).
// Verify-only; migrated like LegacyCredential.
type ImportedCredential struct {
	Algorithm Algorithm
	Encoded   string
}

func (HashedCredential) credential()   {}
func (LegacyCredential) credential()   {}
func (ImportedCredential) credential() {}

// Encode returns $pbkdf2-sha256$i=<iterations>$<hex salt>$<hex digest>.
func (c HashedCredential) Encode() string {
	return fmt.Sprintf("$%s$i=%d$%s$%s", c.Algorithm, c.Iterations, c.Salt, c.Digest)
}

func (c LegacyCredential) Encode() string { return c.Plaintext }

func (c ImportedCredential) Encode() string { return c.Encoded }

// ParseCredential decodes a stored credential string. It never fails: anything
// starting with "$" that is not a recognised format comes back as a
// HashedCredential with AlgUnknown, which never verifies. Only strings without
// a leading "$" are treated as legacy plaintext.
func ParseCredential(s string) Credential {
	switch {
	case s == "":
		return HashedCredential{}
	case strings.HasPrefix(s, "$"+string(AlgPBKDF2SHA256)+"$"):
		return parsePBKDF2(s)
	case strings.HasPrefix(s, "$argon2id$"):
		return ImportedCredential{Algorithm: AlgArgon2id, Encoded: s}
	case strings.HasPrefix(s, "$2a$"), strings.HasPrefix(s, "$2b$"), strings.HasPrefix(s, "$2y$"):
		return ImportedCredential{Algorithm: AlgBcrypt, Encoded: s}
	case strings.HasPrefix(s, "$"):
		return HashedCredential{}
	default:
		return LegacyCredential{Plaintext: s}
	}
}

// parsePBKDF2 splits $pbkdf2-sha256$i=N$salt$digest. Malformed input yields AlgUnknown.
func parsePBKDF2(s string) HashedCredential {
	parts := strings.Split(s, "$")
	if len(parts) != 5 {
		return HashedCredential{}
	}
	var iterations uint32
	if _, err := fmt.Sscanf(parts[2], "i=%d", &iterations); err != nil {
		return HashedCredential{}
	}
	return HashedCredential{
		Digest:     parts[4],
		Salt:       parts[3],
		Algorithm:  AlgPBKDF2SHA256,
		Iterations: iterations,
	}
}
