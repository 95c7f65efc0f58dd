// Package querykey derives deterministic cache keys from query parameters.
//
// A Key is an immutable (scope, params...) tuple. Params are kept sorted by
// name so the order they are passed in never affects equality, and every
// value is stored in a canonical JSON encoding so that two keys are equal iff
// all their fields are.
package querykey

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/totegamma/domainbay"
)

type Scope string

const (
	ScopeNames        Scope = "names"
	ScopeOwnedNames   Scope = "owned-names"
	ScopeName         Scope = "name"
	ScopeTokenStats   Scope = "token-stats"
	ScopeTokenOffers  Scope = "token-offers"
	ScopeWatchedNames Scope = "watched-names"
)

const (
	ParamPage     = "page"
	ParamPageSize = "take"
	ParamListed   = "listed"
	ParamTLDs     = "tlds"
	ParamName     = "name"
	ParamOwner    = "owner"
	ParamTokenID  = "tokenId"
	ParamStatus   = "status"
	ParamSort     = "sortOrder"
	ParamNames    = "names"
)

// required lists the params a scope cannot be fetched without.
var required = map[Scope][]string{
	ScopeOwnedNames:  {ParamOwner},
	ScopeName:        {ParamName},
	ScopeTokenStats:  {ParamTokenID},
	ScopeTokenOffers: {ParamTokenID},
}

type Param struct {
	Name  string
	value string
	empty bool
}

func (p Param) Value() string {
	return p.value
}

type Key struct {
	scope  Scope
	params []Param
}

// Build is pure and total. Zero-value params (as returned by optional
// builders given nil) are dropped; a repeated param name keeps the last value.
func Build(scope Scope, params ...Param) Key {
	byName := make(map[string]Param, len(params))
	for _, p := range params {
		if p.Name == "" {
			continue
		}
		byName[p.Name] = p
	}

	sorted := make([]Param, 0, len(byName))
	for _, p := range byName {
		sorted = append(sorted, p)
	}
	slices.SortFunc(sorted, func(a, b Param) int {
		return strings.Compare(a.Name, b.Name)
	})

	return Key{scope: scope, params: sorted}
}

func (k Key) Scope() Scope {
	return k.scope
}

func (k Key) Params() []Param {
	return slices.Clone(k.params)
}

func (k Key) Get(name string) (string, bool) {
	for _, p := range k.params {
		if p.Name == name {
			return p.value, true
		}
	}
	return "", false
}

// Int decodes an integer param, falling back to def when absent.
func (k Key) Int(name string, def int) int {
	raw, ok := k.Get(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// Strings decodes a list param.
func (k Key) Strings(name string) []string {
	raw, ok := k.Get(name)
	if !ok {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// Text decodes a string param.
func (k Key) Text(name string) string {
	raw, ok := k.Get(name)
	if !ok {
		return ""
	}
	var out string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return ""
	}
	return out
}

// Bool decodes an optional boolean param.
func (k Key) Bool(name string) *bool {
	raw, ok := k.Get(name)
	if !ok {
		return nil
	}
	b := raw == "true"
	return &b
}

// Without returns a copy of k with the named params removed.
func (k Key) Without(names ...string) Key {
	params := make([]Param, 0, len(k.params))
	for _, p := range k.params {
		if slices.Contains(names, p.Name) {
			continue
		}
		params = append(params, p)
	}
	return Key{scope: k.scope, params: params}
}

// With returns a copy of k with p set.
func (k Key) With(p Param) Key {
	params := append(k.Params(), p)
	return Build(k.scope, params...)
}

// Series is the key shared by every page of one logical query.
func (k Key) Series() Key {
	return k.Without(ParamPage)
}

// Enabled is false when a param the scope requires is missing or empty.
func (k Key) Enabled() bool {
	for _, name := range required[k.scope] {
		found := false
		for _, p := range k.params {
			if p.Name == name {
				found = !p.empty
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (k Key) String() string {
	var b strings.Builder
	b.WriteString(string(k.scope))
	for i, p := range k.params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(p.value)
	}
	return b.String()
}

func (k Key) Equal(other Key) bool {
	return k.String() == other.String()
}

func (k Key) Hash() uint64 {
	return xxh3.HashString(k.String())
}

func encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// only plain strings, ints, bools and string slices reach here
		panic(err)
	}
	return string(b)
}

func Int(name string, v int) Param {
	return Param{Name: name, value: strconv.Itoa(v)}
}

func String(name, v string) Param {
	return Param{Name: name, value: encode(v), empty: v == ""}
}

func Page(n int) Param {
	return Int(ParamPage, n)
}

func PageSize(n int) Param {
	return Int(ParamPageSize, n)
}

// Listed returns a zero Param for nil so that "unset" and "false" differ.
func Listed(v *bool) Param {
	if v == nil {
		return Param{}
	}
	return Param{Name: ParamListed, value: strconv.FormatBool(*v)}
}

// set normalizes a membership list: lower-cased, de-duplicated, sorted.
func set(name string, values []string, normalize func(string) string) Param {
	if values == nil {
		return Param{}
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = normalize(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	slices.Sort(out)
	out = slices.Compact(out)
	return Param{Name: name, value: encode(out), empty: len(out) == 0}
}

func TLDs(tlds []string) Param {
	return set(ParamTLDs, tlds, func(s string) string {
		return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
	})
}

func Names(names []string) Param {
	return set(ParamNames, names, domainbay.NormalizeName)
}

func Name(v string) Param {
	return String(ParamName, v)
}

// Owner keys on the checksum form so case variants of one address collide.
func Owner(addr string) Param {
	return String(ParamOwner, domainbay.NormalizeAddress(strings.TrimSpace(addr)))
}

func TokenID(v string) Param {
	return String(ParamTokenID, v)
}

func Status(v string) Param {
	if v == "" {
		return Param{}
	}
	return String(ParamStatus, v)
}

func Sort(v string) Param {
	if v == "" {
		return Param{}
	}
	return String(ParamSort, strings.ToUpper(v))
}
