// Package keyexpr derives cache keys from declarative patterns.
//
// A pattern is literal text interspersed with #{selector} tokens, where a
// selector is an argument index ("0"), a dotted path from an argument
// ("0.user.id"), the word "result", or a dotted path from the result
// ("result.id"). Each distinct pattern is parsed once into a token stream
// and cached; evaluation is pure and safe under arbitrary concurrency.
package keyexpr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	apperrors "cachetier/internal/common/errors"
)

type selectorKind int

const (
	selectorArg selectorKind = iota
	selectorResult
	selectorInvalid
)

type selector struct {
	kind  selectorKind
	index int
	path  []string
}

type token struct {
	literal string
	sel     *selector
}

// Pattern is a parsed key pattern, safe for concurrent reuse.
type Pattern struct {
	raw       string
	tokens    []token
	hasResult bool
}

var patternCache sync.Map // raw pattern -> *Pattern

// Parse tokenizes a key pattern. Results are cached per distinct pattern so
// repeated call sites never re-parse. The only parse failure is an
// unterminated #{ token; malformed selectors inside a terminated token
// evaluate to the empty string instead of failing.
func Parse(pattern string) (*Pattern, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*Pattern), nil
	}

	p := &Pattern{raw: pattern}
	rest := pattern
	for {
		start := strings.Index(rest, "#{")
		if start < 0 {
			if rest != "" {
				p.tokens = append(p.tokens, token{literal: rest})
			}
			break
		}
		if start > 0 {
			p.tokens = append(p.tokens, token{literal: rest[:start]})
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return nil, apperrors.ConfigError("unterminated #{ selector in key pattern").
				WithContext("pattern", pattern)
		}
		sel := parseSelector(rest[start+2 : start+end])
		if sel.kind == selectorResult {
			p.hasResult = true
		}
		p.tokens = append(p.tokens, token{sel: sel})
		rest = rest[start+end+1:]
	}

	patternCache.Store(pattern, p)
	return p, nil
}

// MustParse is like Parse but panics on a malformed pattern. Intended for
// wrap-time configuration of caching verbs.
func MustParse(pattern string) *Pattern {
	p, err := Parse(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

func parseSelector(raw string) *selector {
	raw = strings.TrimSpace(raw)
	if raw == "result" {
		return &selector{kind: selectorResult}
	}
	if strings.HasPrefix(raw, "result.") {
		path := splitPath(raw[len("result."):])
		if path == nil {
			return &selector{kind: selectorInvalid}
		}
		return &selector{kind: selectorResult, path: path}
	}

	head := raw
	var path []string
	if dot := strings.Index(raw, "."); dot >= 0 {
		head = raw[:dot]
		path = splitPath(raw[dot+1:])
		if path == nil {
			return &selector{kind: selectorInvalid}
		}
	}
	index, err := strconv.Atoi(head)
	if err != nil || index < 0 {
		return &selector{kind: selectorInvalid}
	}
	return &selector{kind: selectorArg, index: index, path: path}
}

func splitPath(raw string) []string {
	parts := strings.Split(raw, ".")
	for _, part := range parts {
		if part == "" {
			return nil
		}
	}
	return parts
}

// HasResultSelector reports whether any token resolves against the result
// value. Fetch-or-cache call sites have no result yet and must reject such
// patterns at wrap time.
func (p *Pattern) HasResultSelector() bool {
	return p.hasResult
}

// String returns the raw pattern text.
func (p *Pattern) String() string {
	return p.raw
}

// Derive evaluates the pattern against call arguments and an optional
// result value. Unresolvable or malformed selectors contribute the empty
// string; Derive never fails.
func (p *Pattern) Derive(args []interface{}, result interface{}) string {
	var b strings.Builder
	for _, tok := range p.tokens {
		if tok.sel == nil {
			b.WriteString(tok.literal)
			continue
		}
		b.WriteString(tok.sel.resolve(args, result))
	}
	return b.String()
}

func (s *selector) resolve(args []interface{}, result interface{}) string {
	var root interface{}
	switch s.kind {
	case selectorArg:
		if s.index >= len(args) {
			return ""
		}
		root = args[s.index]
	case selectorResult:
		root = result
	default:
		return ""
	}

	value := walkPath(root, s.path)
	return stringify(value)
}

// walkPath follows a dotted path through maps, structs, pointers and
// slices, short-circuiting to nil on any absent or nil step.
func walkPath(root interface{}, path []string) interface{} {
	current := root
	for _, part := range path {
		if current == nil {
			return nil
		}
		current = resolveStep(current, part)
	}
	return current
}

func resolveStep(value interface{}, name string) interface{} {
	if m, ok := value.(map[string]interface{}); ok {
		return m[name]
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		entry := rv.MapIndex(reflect.ValueOf(name))
		if !entry.IsValid() {
			return nil
		}
		return entry.Interface()

	case reflect.Struct:
		if field := structField(rv, name); field.IsValid() {
			return field.Interface()
		}
		return nil

	case reflect.Slice, reflect.Array:
		index, err := strconv.Atoi(name)
		if err != nil || index < 0 || index >= rv.Len() {
			return nil
		}
		return rv.Index(index).Interface()

	default:
		return nil
	}
}

func structField(rv reflect.Value, name string) reflect.Value {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		tag := strings.Split(field.Tag.Get("json"), ",")[0]
		if tag == name || (tag == "" && strings.EqualFold(field.Name, name)) {
			return rv.Field(i)
		}
	}
	return reflect.Value{}
}

// stringify renders a resolved value for key interpolation: scalars
// directly, composites as canonical JSON, nil as the empty string.
func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	}

	return canonicalJSON(value)
}

// canonicalJSON serializes composites deterministically (encoding/json
// sorts map keys); anything unserializable falls back to fmt.
func canonicalJSON(value interface{}) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

// DeriveDefault builds a key for call sites without a pattern: the method
// identity plus a fixed-width content hash of the arguments. Structurally
// equal arguments always hash equal; unserializable arguments degrade to
// their fmt rendering instead of failing.
func DeriveDefault(method string, args []interface{}) string {
	h := sha256.New()
	for _, arg := range args {
		h.Write([]byte(canonicalJSON(arg)))
		h.Write([]byte{0x1f}) // unit separator, prevents boundary collisions
	}
	sum := h.Sum(nil)
	return method + ":" + hex.EncodeToString(sum[:8])
}
