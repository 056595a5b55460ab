// Package idgen generates short, human-readable identifiers for requests
// that arrive without a caller-supplied trace_id/correlation_id. IDs use a
// mixed-case alphanumeric alphabet with leading/trailing-character repair
// so they never start or end on a separator, which would look like
// truncation in a log line.
package idgen

import (
	"math/rand"

	"github.com/teris-io/shortid"
)

const alphabet = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var generator = shortid.MustNew(4, alphabet, 1)

// New generates a short, mostly-alphanumeric identifier suitable as a
// default trace_id or correlation_id when a request omits one.
func New() string {
	id := generator.MustGenerate()
	var head, tail string
	if !isAlpha(id[0]) {
		head = string(rune('a' + rand.Intn(26)))
	}
	if last := id[len(id)-1]; last == '-' || last == '_' {
		tail = string(rune('a' + rand.Intn(26)))
	}
	return head + id + tail
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
