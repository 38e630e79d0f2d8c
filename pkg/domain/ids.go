// Package domain holds the primitive identifiers and value types shared by
// the registry. Each primitive is validated at parse time so that code past
// the trust boundary never sees a malformed value.
package domain

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"

	dErrors "propledger/pkg/domain-errors"
)

// PrincipalID is a 20-byte account address. The zero value is the nil
// address and is never a valid principal.
type PrincipalID [20]byte

// ParsePrincipalID parses a 0x-prefixed, 40 hex digit address. All-lowercase
// and all-uppercase inputs are accepted as-is; mixed-case inputs must carry a
// valid EIP-55 checksum.
func ParsePrincipalID(s string) (PrincipalID, error) {
	var p PrincipalID
	s = strings.TrimSpace(s)
	if len(s) != 42 || (s[:2] != "0x" && s[:2] != "0X") {
		return p, dErrors.New(dErrors.CodeInvalidInput, "principal must be a 0x-prefixed 40 hex digit address")
	}
	digits := s[2:]
	if _, err := hex.Decode(p[:], []byte(digits)); err != nil {
		return PrincipalID{}, dErrors.New(dErrors.CodeInvalidInput, "principal contains non-hex characters")
	}
	if p.IsNil() {
		return PrincipalID{}, dErrors.New(dErrors.CodeInvalidInput, "principal must not be the zero address")
	}
	if hasMixedCase(digits) && p.checksumHex() != digits {
		return PrincipalID{}, dErrors.New(dErrors.CodeInvalidInput, "principal checksum mismatch")
	}
	return p, nil
}

// MustPrincipalID parses s and panics on error. Intended for tests and
// compile-time constants.
func MustPrincipalID(s string) PrincipalID {
	p, err := ParsePrincipalID(s)
	if err != nil {
		panic(err)
	}
	return p
}

// IsNil reports whether p is the zero address.
func (p PrincipalID) IsNil() bool {
	return p == PrincipalID{}
}

// String returns the EIP-55 checksummed form.
func (p PrincipalID) String() string {
	return "0x" + p.checksumHex()
}

func (p PrincipalID) checksumHex() string {
	lower := hex.EncodeToString(p[:])
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	sum := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' {
			continue
		}
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

func hasMixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}

func (p PrincipalID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PrincipalID) UnmarshalText(b []byte) error {
	parsed, err := ParsePrincipalID(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Value stores the checksummed text form.
func (p PrincipalID) Value() (driver.Value, error) {
	return p.String(), nil
}

func (p *PrincipalID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return p.UnmarshalText([]byte(v))
	case []byte:
		return p.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into PrincipalID", src)
	}
}

// PropertyID identifies a property record. IDs start at 1; zero is unset.
type PropertyID uint64

// ReportID identifies an inspection report. IDs start at 1; zero is unset.
type ReportID uint64

func ParsePropertyID(s string) (PropertyID, error) {
	n, err := parseSequenceID(s, "property")
	return PropertyID(n), err
}

func ParseReportID(s string) (ReportID, error) {
	n, err := parseSequenceID(s, "report")
	return ReportID(n), err
}

func parseSequenceID(s, kind string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || n == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid %s id", kind))
	}
	return n, nil
}

func (id PropertyID) String() string { return strconv.FormatUint(uint64(id), 10) }
func (id PropertyID) IsNil() bool    { return id == 0 }
func (id ReportID) String() string   { return strconv.FormatUint(uint64(id), 10) }
func (id ReportID) IsNil() bool      { return id == 0 }
