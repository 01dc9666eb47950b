package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Signature derives a stable identifier for a documentation query from the
// equipment identity and the question text. The serial is excluded so that
// two units of the same model share feedback. Inputs are lowercased and
// trimmed so cosmetic differences do not fragment the feedback history.
func Signature(manufacturer, model, question string) string {
	h := sha256.New()
	for _, part := range []string{manufacturer, model, question} {
		h.Write([]byte(strings.ToLower(strings.TrimSpace(part))))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
