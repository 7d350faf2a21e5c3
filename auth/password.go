package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinPasswordLen is the minimum password length, counted in characters.
const MinPasswordLen = 12

// MaxPasswordBytes is the longest password bcrypt accepts, measured after
// normalisation.
const MaxPasswordBytes = 72

// PasswordSymbols is the set of characters accepted by the symbol rule.
const PasswordSymbols = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// PasswordRule identifies a single password policy rule. Rules are checked
// in declaration order.
type PasswordRule int

const (
	RuleStartsWithLetter PasswordRule = iota + 1
	RuleMinLength
	RuleUppercase
	RuleLowercase
	RuleDigit
	RuleSymbol
	RuleMaxBytes
)

func (r PasswordRule) String() string {
	switch r {
	case RuleStartsWithLetter:
		return "starts_with_letter"
	case RuleMinLength:
		return "min_length"
	case RuleUppercase:
		return "uppercase"
	case RuleLowercase:
		return "lowercase"
	case RuleDigit:
		return "digit"
	case RuleSymbol:
		return "symbol"
	case RuleMaxBytes:
		return "max_bytes"
	default:
		return fmt.Sprintf("rule(%d)", int(r))
	}
}

// PolicyViolation reports the first password rule a candidate failed.
type PolicyViolation struct {
	Rule   PasswordRule
	Reason string
}

func (v *PolicyViolation) Error() string {
	return v.Reason
}

func (v *PolicyViolation) Unwrap() error {
	return ErrWeakPassword
}

type passwordCheck struct {
	rule   PasswordRule
	reason string
	ok     func(string) bool
}

var passwordChecks = []passwordCheck{
	{RuleStartsWithLetter, "Password must start with an alphabet", func(p string) bool {
		r, _ := utf8.DecodeRuneInString(p)
		return p != "" && unicode.IsLetter(r)
	}},
	{RuleMinLength, fmt.Sprintf("Password must be at least %d characters long", MinPasswordLen), func(p string) bool {
		return utf8.RuneCountInString(p) >= MinPasswordLen
	}},
	{RuleUppercase, "Password must contain at least one uppercase letter", func(p string) bool {
		return strings.IndexFunc(p, unicode.IsUpper) >= 0
	}},
	{RuleLowercase, "Password must contain at least one lowercase letter", func(p string) bool {
		return strings.IndexFunc(p, unicode.IsLower) >= 0
	}},
	{RuleDigit, "Password must contain at least one digit", func(p string) bool {
		return strings.IndexFunc(p, unicode.IsDigit) >= 0
	}},
	{RuleSymbol, "Password must contain at least one symbol", func(p string) bool {
		return strings.ContainsAny(p, PasswordSymbols)
	}},
	{RuleMaxBytes, fmt.Sprintf("Password must be at most %d bytes long", MaxPasswordBytes), func(p string) bool {
		return len(normalizePassword(p)) <= MaxPasswordBytes
	}},
}

// ValidatePassword checks password against the policy and returns a
// *PolicyViolation for the first rule it breaks, or nil.
func ValidatePassword(password string) error {
	for _, c := range passwordChecks {
		if !c.ok(password) {
			return &PolicyViolation{Rule: c.rule, Reason: c.reason}
		}
	}
	return nil
}
