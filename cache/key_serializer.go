package cache

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// maxArgsLength is the length past which the argument segment is replaced by
// its hash.
const maxArgsLength = 64

type generationKeySerializer struct {
	namespace string
}

// NewGenerationKeySerializer returns the default serializer. Keys look like
// "<namespace>::g<generation>::<method>::<args>".
func NewGenerationKeySerializer(namespace string) KeySerializer {
	return &generationKeySerializer{namespace: namespace}
}

func (s *generationKeySerializer) GenerationPrefix(generation uint64) string {
	return s.namespace + KeySeparator + "g" + strconv.FormatUint(generation, 10) + KeySeparator
}

func (s *generationKeySerializer) SerializeKey(generation uint64, method string, args ...any) string {
	prefix := s.GenerationPrefix(generation) + method
	if len(args) == 0 {
		return prefix
	}

	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = serializeArg(arg)
	}
	joined := strings.Join(parts, KeySeparator)
	if len(joined) > maxArgsLength {
		joined = "h" + strconv.FormatUint(xxhash.Sum64String(joined), 16)
	}
	return prefix + KeySeparator + joined
}

func serializeArg(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}
