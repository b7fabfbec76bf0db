package plan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/beim/sdm/pkg/sdmerr"
)

// RepeatableVersion is the version literal carried by repeatable plans.
const RepeatableVersion = "R"

// Initial is the signature of the first migration plan of every project.
var Initial = Signature{Version: "0000", Name: "init"}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Signature identifies a migration plan by version and name. Signatures
// are value types; two signatures are equal when both fields are equal.
type Signature struct {
	Version string `json:"version"`
	Name    string `json:"name,omitempty"`
}

// String returns the serialized "{version}_{name}" form.
func (s Signature) String() string {
	return fmt.Sprintf("%s_%s", s.Version, s.Name)
}

// Dict returns the canonical map form used for checksums and log snapshots.
func (s Signature) Dict() map[string]any {
	obj := map[string]any{"version": s.Version}
	if s.Name != "" {
		obj["name"] = s.Name
	}
	return obj
}

// ParseSignature parses "{version}_{name}" into a Signature, zero-padding
// numeric versions to width 4. The name part may be absent.
func ParseSignature(s string) (Signature, error) {
	if s == "" {
		return Signature{}, sdmerr.Usagef("invalid version or name %q", s)
	}
	split := strings.Split(s, "_")
	sig := Signature{
		Version: PadVersion(split[0]),
		Name:    strings.Join(split[1:], "_"),
	}
	if err := sig.Validate(Type(""), false); err != nil {
		return Signature{}, err
	}
	return sig, nil
}

// PadVersion zero-pads a numeric version string to width 4. Non-numeric
// versions (the repeatable literal) pass through unchanged.
func PadVersion(v string) string {
	if _, err := strconv.Atoi(v); err != nil {
		return v
	}
	for len(v) < 4 {
		v = "0" + v
	}
	return v
}

// Validate checks the version against the plan type (any type when t is
// empty) and the name against the allowed character set. When requireName
// is false an absent name is accepted.
func (s Signature) Validate(t Type, requireName bool) error {
	switch t {
	case TypeSchema, TypeData:
		if !isNonNegativeInt(s.Version) {
			return sdmerr.Usagef("invalid version %q", s.Version)
		}
	case TypeRepeatable:
		if s.Version != RepeatableVersion {
			return sdmerr.Usagef("invalid version %q", s.Version)
		}
	case "":
		if !isNonNegativeInt(s.Version) && s.Version != RepeatableVersion {
			return sdmerr.Usagef("invalid version %q", s.Version)
		}
	default:
		return sdmerr.Usagef("invalid type %q", t)
	}

	if s.Name == "" {
		if requireName {
			return sdmerr.Usagef("missing name for version %q", s.Version)
		}
		return nil
	}
	if !namePattern.MatchString(s.Name) {
		return sdmerr.Usagef("invalid name %q, only alphanumeric and _ allowed", s.Name)
	}
	return nil
}

func isNonNegativeInt(v string) bool {
	n, err := strconv.Atoi(v)
	return err == nil && n >= 0
}
