package identity

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TokenSize is the length of a public key token in bytes
const TokenSize = 8

// neutralCulture is how an empty culture is spelled in canonical form
const neutralCulture = "neutral"

// ErrInvalid is wrapped by every parse error returned from Parse
var ErrInvalid = errors.New("invalid component identity")

// Version is a component version with two to four numeric parts
type Version struct {
	Major    uint16
	Minor    uint16
	Build    uint16
	Revision uint16

	// Parts is the number of components that were specified (2-4)
	Parts int
}

// NewVersion creates a fully specified four-part version
func NewVersion(major, minor, build, revision uint16) Version {
	return Version{Major: major, Minor: minor, Build: build, Revision: revision, Parts: 4}
}

// ParseVersion parses "a.b[.c[.d]]"
func ParseVersion(s string) (Version, error) {
	fields := strings.Split(strings.TrimSpace(s), ".")
	if len(fields) < 2 || len(fields) > 4 {
		return Version{}, fmt.Errorf("%w: version %q must have 2 to 4 parts", ErrInvalid, s)
	}

	var parts [4]uint16
	for i, f := range fields {
		n, err := strconv.ParseUint(f, 10, 16)
		if err != nil {
			return Version{}, fmt.Errorf("%w: version %q: %v", ErrInvalid, s, err)
		}
		parts[i] = uint16(n)
	}

	return Version{
		Major:    parts[0],
		Minor:    parts[1],
		Build:    parts[2],
		Revision: parts[3],
		Parts:    len(fields),
	}, nil
}

func (v Version) String() string {
	all := []uint16{v.Major, v.Minor, v.Build, v.Revision}
	n := v.Parts
	if n == 0 {
		n = 4
	}
	out := make([]string, 0, n)
	for _, p := range all[:n] {
		out = append(out, strconv.FormatUint(uint64(p), 10))
	}
	return strings.Join(out, ".")
}

// Identity is the canonical identity of a loadable component: name, version,
// culture and public key token. The zero value is not a valid identity.
type Identity struct {
	name    string
	version Version
	culture string
	token   []byte

	hasVersion bool
	hasCulture bool
	hasToken   bool
}

// New creates a fully specified identity as read from a binary record.
// An empty or nil token is formatted as "null".
func New(name string, version Version, culture string, token []byte) Identity {
	if version.Parts == 0 {
		version.Parts = 4
	}
	if strings.EqualFold(culture, neutralCulture) {
		culture = ""
	}
	return Identity{
		name:       name,
		version:    version,
		culture:    culture,
		token:      cloneToken(token),
		hasVersion: true,
		hasCulture: true,
		hasToken:   true,
	}
}

// Parse parses a textual identity such as
// "Acme.Dep, Version=1.0.0.0, Culture=neutral, PublicKeyToken=null".
// Keys are case-insensitive; unrecognised keys are ignored.
func Parse(s string) (Identity, error) {
	if strings.TrimSpace(s) == "" {
		return Identity{}, fmt.Errorf("%w: empty identity", ErrInvalid)
	}

	elements := strings.Split(s, ",")
	id := Identity{name: strings.TrimSpace(elements[0])}
	if id.name == "" {
		return Identity{}, fmt.Errorf("%w: %q has no name", ErrInvalid, s)
	}

	seen := make(map[string]bool, len(elements))
	for _, element := range elements[1:] {
		key, value, ok := strings.Cut(element, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if !ok || key == "" {
			return Identity{}, fmt.Errorf("%w: malformed element %q in %q", ErrInvalid, strings.TrimSpace(element), s)
		}
		if seen[key] {
			return Identity{}, fmt.Errorf("%w: duplicate key %q in %q", ErrInvalid, key, s)
		}
		seen[key] = true

		switch key {
		case "version":
			v, err := ParseVersion(value)
			if err != nil {
				return Identity{}, err
			}
			id.version = v
			id.hasVersion = true
		case "culture":
			if strings.EqualFold(value, neutralCulture) {
				value = ""
			}
			id.culture = value
			id.hasCulture = true
		case "publickeytoken":
			token, err := parseToken(value)
			if err != nil {
				return Identity{}, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
			}
			id.token = token
			id.hasToken = true
		case "publickey":
			key, err := hex.DecodeString(value)
			if err != nil || len(key) == 0 {
				return Identity{}, fmt.Errorf("%w: %q: malformed public key", ErrInvalid, s)
			}
			id.token = TokenFromPublicKey(key)
			id.hasToken = true
		}
	}

	return id, nil
}

// MustParse is like Parse but panics on error
func MustParse(s string) Identity {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func parseToken(value string) ([]byte, error) {
	if strings.EqualFold(value, "null") || value == "" {
		return nil, nil
	}
	if len(value) != TokenSize*2 {
		return nil, fmt.Errorf("public key token %q must be %d hex digits", value, TokenSize*2)
	}
	token, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("public key token %q: %v", value, err)
	}
	return token, nil
}

// TokenFromPublicKey derives the 8 byte public key token: the last eight
// bytes of the SHA-1 hash of the key, in reverse order.
func TokenFromPublicKey(key []byte) []byte {
	if len(key) == 0 {
		return nil
	}
	sum := sha1.Sum(key)
	token := make([]byte, TokenSize)
	for i := 0; i < TokenSize; i++ {
		token[i] = sum[len(sum)-1-i]
	}
	return token
}

func cloneToken(token []byte) []byte {
	if len(token) == 0 {
		return nil
	}
	out := make([]byte, len(token))
	copy(out, token)
	return out
}

// Name returns the simple component name
func (id Identity) Name() string { return id.name }

// Version returns the version and whether it was specified
func (id Identity) Version() (Version, bool) { return id.version, id.hasVersion }

// Culture returns the culture ("" for neutral) and whether it was specified
func (id Identity) Culture() (string, bool) { return id.culture, id.hasCulture }

// PublicKeyToken returns a copy of the token (nil for "null") and whether it was specified
func (id Identity) PublicKeyToken() ([]byte, bool) { return cloneToken(id.token), id.hasToken }

// IsZero reports whether id is the zero value
func (id Identity) IsZero() bool { return id.name == "" }

// String returns the canonical form used for equality
func (id Identity) String() string {
	if id.name == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString(id.name)
	if id.hasVersion {
		b.WriteString(", Version=")
		b.WriteString(id.version.String())
	}
	if id.hasCulture {
		b.WriteString(", Culture=")
		if id.culture == "" {
			b.WriteString(neutralCulture)
		} else {
			b.WriteString(id.culture)
		}
	}
	if id.hasToken {
		b.WriteString(", PublicKeyToken=")
		if len(id.token) == 0 {
			b.WriteString("null")
		} else {
			b.WriteString(hex.EncodeToString(id.token))
		}
	}
	return b.String()
}

// Equal reports whether both identities have the same canonical form
func (id Identity) Equal(other Identity) bool {
	return id.String() == other.String()
}

// MarshalText encodes the canonical form
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the display form; empty text yields the zero Identity
func (id *Identity) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = Identity{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
