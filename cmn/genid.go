package cmn

import (
	"math/rand"

	"github.com/teris-io/shortid"
)

// alphabet mirrors the teacher's own uuid alphabet choice: a 64-symbol set
// whose length lets bit-shift tricks pick symbols without modulo bias.
const idABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var sid = shortid.MustNew(1 /*worker*/, idABC, uint64(rand.Int63()))

// GenID returns a short, human-readable, effectively-unique identifier for
// job runs, upload sessions and similar short-lived records.
func GenID() string {
	id := sid.MustGenerate()
	if !isAlphaByte(id[0]) {
		id = string(rune('a'+rand.Int()%26)) + id
	}
	return id
}

func isAlphaByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
