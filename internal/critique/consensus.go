package critique

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Consensus reduces a round's findings to a verdict. Pure function:
// any standing critical finding forces NOGO, any standing high finding
// mandates revision (CONDITIONAL), everything else is GO. Medium and
// low findings are advisory and never block. Retraction rows and the
// findings they supersede are excluded from the tally.
func Consensus(findings []Finding) Verdict {
	retracted := make(map[uuid.UUID]struct{})
	for _, f := range findings {
		if f.Supersedes != nil {
			retracted[*f.Supersedes] = struct{}{}
		}
	}

	verdict := VerdictGo
	for _, f := range findings {
		if f.Supersedes != nil {
			continue
		}
		if _, gone := retracted[f.ID]; gone {
			continue
		}
		switch f.Severity {
		case SeverityCritical:
			return VerdictNoGo
		case SeverityHigh:
			verdict = VerdictConditional
		}
	}
	return verdict
}

// HashContent returns the hex SHA-256 of the artifact under review.
// The hash pins the session to the exact bytes that were examined.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
