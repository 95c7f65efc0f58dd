package domainbay

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IsAddress reports whether s is a hex encoded 20 byte account address.
// CAIP-10 style "eip155:1:0x..." identifiers are accepted.
func IsAddress(s string) bool {
	return common.IsHexAddress(stripCAIP(s))
}

// NormalizeAddress returns the EIP-55 checksum form of an address, or the
// input unchanged when it is not an address.
func NormalizeAddress(s string) string {
	raw := stripCAIP(strings.TrimSpace(s))
	if !common.IsHexAddress(raw) {
		return s
	}
	return common.HexToAddress(raw).Hex()
}

// SameAddress compares two identities case-insensitively after normalization.
func SameAddress(a, b string) bool {
	return strings.EqualFold(NormalizeAddress(a), NormalizeAddress(b))
}

func stripCAIP(s string) string {
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// NormalizeName lower-cases and trims a fully-qualified domain name.
func NormalizeName(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

func TLD(name string) string {
	name = NormalizeName(name)
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

func hasChar(s string, c byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return true
		}
	}
	return false
}

// IsDomainName is a cheap shape check, not a registry lookup.
func IsDomainName(name string) bool {
	name = NormalizeName(name)
	if len(name) < 3 || !hasChar(name, '.') {
		return false
	}
	return !strings.HasPrefix(name, ".") && !strings.Contains(name, "..") && !hasChar(name, ' ')
}
