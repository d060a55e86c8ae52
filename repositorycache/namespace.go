package repositorycache

import (
	"reflect"
	"strings"
	"unicode"
)

// namespaceFor derives the key namespace from the record type: *NodeRow and
// NodeRow both give "node_row".
func namespaceFor[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	// Instantiated generic types carry their arguments: "Page[main.Meta]".
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	if ns := snakeName(name); ns != "" {
		return ns
	}
	return "repository"
}

// snakeName lowercases an identifier, splitting words at case changes.
// Anything that is not a letter or digit becomes a single underscore.
func snakeName(s string) string {
	runes := []rune(s)
	var b strings.Builder
	sep := false
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			sep = b.Len() > 0
			continue
		}
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			acronymEnd := unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || acronymEnd {
				sep = true
			}
		}
		if sep && b.Len() > 0 {
			b.WriteByte('_')
		}
		sep = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
