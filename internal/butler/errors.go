package butler

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/zjrosen/butler/internal/dataid"
)

// OverwriteConflictError reports a put whose value differs from the dataset
// already stored under the same type and identifier.
type OverwriteConflictError struct {
	DatasetType string
	DataID      dataid.DataID
	Locations   []string
	// Diff summarizes the difference, stored content first.
	Diff string
}

func (e *OverwriteConflictError) Error() string {
	msg := fmt.Sprintf("dataset type %s with data id %s already exists at %s with different content",
		e.DatasetType, e.DataID, strings.Join(e.Locations, ", "))
	if e.Diff != "" {
		msg += ":\n" + e.Diff
	}
	return msg
}

// UnknownAliasError reports an @alias that was never defined.
type UnknownAliasError struct {
	Alias string
}

func (e *UnknownAliasError) Error() string {
	return fmt.Sprintf("unknown dataset type alias %s", e.Alias)
}

const maxDiffLines = 20

// diffSummary renders the changed lines between stored and candidate,
// deletions prefixed "-" and insertions "+".
func diffSummary(stored, candidate string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(stored, candidate)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out []string
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		default:
			continue
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out = append(out, prefix+" "+strings.TrimSuffix(line, "\n"))
		}
	}
	if len(out) > maxDiffLines {
		more := len(out) - maxDiffLines
		out = append(out[:maxDiffLines], fmt.Sprintf("... %d more changed lines", more))
	}
	return strings.Join(out, "\n")
}
