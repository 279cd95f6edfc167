package changes

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultSeparator marks skipped lines between hunks.
const DefaultSeparator = "..."

// Renderer turns two specs into a compact, human-readable change summary.
type Renderer struct {
	// Context is the number of unchanged lines shown around each change.
	Context int
	// LineNumbers prefixes every line with its old and new line number.
	LineNumbers bool
	// Separator is inserted wherever lines were skipped. Empty disables separators.
	Separator string
}

// NewRenderer returns a Renderer with the default separator.
func NewRenderer(context int, lineNumbers bool) Renderer {
	return Renderer{Context: context, LineNumbers: lineNumbers, Separator: DefaultSeparator}
}

// Render returns the diff between old and new, or "" when cs is empty.
func (r Renderer) Render(old, new map[string]interface{}, cs ChangeSet) (string, error) {
	if cs.Empty() {
		return "", nil
	}
	a, err := Canonicalize(old)
	if err != nil {
		return "", err
	}
	b, err := Canonicalize(new)
	if err != nil {
		return "", err
	}

	context, sep := r.Context, r.Separator
	if cs.IsTerse() {
		context, sep = 0, ""
	}
	return renderLines(a, b, context, sep, r.LineNumbers)
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// row is one rendered output line. old/new are 1-based, 0 means not present.
type row struct {
	old, new  int
	text      string
	separator bool
}

func renderLines(a, b string, context int, sep string, numbers bool) (string, error) {
	aLines, bLines := splitLines(a), splitLines(b)
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        aLines,
		B:        bLines,
		FromFile: "old",
		ToFile:   "new",
		Context:  context,
	})
	if err != nil {
		return "", fmt.Errorf("compute diff: %w", err)
	}

	var (
		rows             []row
		lastOld, lastNew int
		oldNext, newNext int
		inHunk           bool
	)
	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		switch {
		case line == "":
			continue
		case !inHunk && (strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ")):
			// File headers only precede the first hunk.
			continue
		case strings.HasPrefix(line, "@@"):
			inHunk = true
			m := hunkHeader.FindStringSubmatch(line)
			if m == nil {
				return "", fmt.Errorf("malformed hunk header %q", line)
			}
			oldNext = hunkStart(m[1], m[2])
			newNext = hunkStart(m[3], m[4])
			if oldNext > lastOld+1 || newNext > lastNew+1 {
				rows = append(rows, row{separator: true})
			}
		case line[0] == ' ':
			rows = append(rows, row{old: oldNext, new: newNext, text: line})
			lastOld, lastNew = oldNext, newNext
			oldNext++
			newNext++
		case line[0] == '-':
			rows = append(rows, row{old: oldNext, text: line})
			lastOld = oldNext
			oldNext++
		case line[0] == '+':
			rows = append(rows, row{new: newNext, text: line})
			lastNew = newNext
			newNext++
		}
	}
	if len(rows) == 0 {
		return "", nil
	}
	if max(lastOld, lastNew) < max(len(aLines), len(bLines)) {
		rows = append(rows, row{separator: true})
	}

	return formatRows(rows, sep, numbers), nil
}

// hunkStart returns the first line number a hunk covers. Zero-length ranges
// point at the line before the hunk.
func hunkStart(start, length string) int {
	n, _ := strconv.Atoi(start)
	if length == "0" {
		return n + 1
	}
	return n
}

func formatRows(rows []row, sep string, numbers bool) string {
	width := 0
	if numbers {
		maxNum := 0
		for _, r := range rows {
			maxNum = max(maxNum, r.old, r.new)
		}
		width = len(strconv.Itoa(maxNum))
	}

	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.separator {
			if sep != "" {
				out = append(out, sep)
			}
			continue
		}
		if !numbers {
			out = append(out, r.text)
			continue
		}
		out = append(out, fmt.Sprintf("%*s %*s %s", width, lineNo(r.old), width, lineNo(r.new), r.text))
	}
	return strings.Join(out, "\n")
}

func lineNo(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// splitLines splits s into newline-terminated lines without a trailing empty line.
func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] += "\n"
	}
	return lines
}

// Merge appends next to accumulated under a timestamp marker. When either side
// is empty the other is returned as is.
func Merge(accumulated, next string, at time.Time) string {
	if accumulated == "" {
		return next
	}
	if next == "" {
		return accumulated
	}
	return accumulated + "\n" + Marker(at) + "\n" + next
}

// Marker is the line that separates merged change descriptions.
func Marker(at time.Time) string {
	return "── " + at.UTC().Format("2006-01-02 15:04:05 MST") + " ──"
}
