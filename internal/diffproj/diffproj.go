// Package diffproj projects unified diffs onto source-line ranges. It parses
// hunk headers into inclusive 1-based ranges on the old (source) side, tests
// symbol ranges for overlap, and extracts the patch slice that falls inside a
// symbol's range.
package diffproj

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LineRange is an inclusive 1-based range of source-side lines.
type LineRange struct {
	Start int
	End   int
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// looseHunkRe tolerates imprecise diffs whose new-side header is malformed.
var looseHunkRe = regexp.MustCompile(`(?m)^@@ -(\d+)(?:,(\d+))? \+`)

// ParseHunks converts a unified diff into source-side line ranges. A strict
// line-counting parse runs first; when the diff body is inconsistent with its
// headers the loose header-only scan takes over.
func ParseHunks(diff string) []LineRange {
	ranges, err := parseStrict(diff)
	if err == nil {
		return ranges
	}
	return parseLoose(diff)
}

// parseStrict validates that each hunk body carries exactly the line counts
// its header declares.
func parseStrict(diff string) ([]LineRange, error) {
	var ranges []LineRange
	lines := strings.Split(diff, "\n")

	i := 0
	for i < len(lines) {
		line := lines[i]
		if !strings.HasPrefix(line, "@@") {
			i++
			continue
		}
		m := hunkHeaderRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("malformed hunk header: %q", line)
		}
		srcStart, _ := strconv.Atoi(m[1])
		srcLen := 1
		if m[2] != "" {
			srcLen, _ = strconv.Atoi(m[2])
		}
		dstLen := 1
		if m[4] != "" {
			dstLen, _ = strconv.Atoi(m[4])
		}

		srcRemaining, dstRemaining := srcLen, dstLen
		i++
		for i < len(lines) && (srcRemaining > 0 || dstRemaining > 0) {
			body := lines[i]
			switch {
			case strings.HasPrefix(body, "\\"):
				// "\ No newline at end of file" consumes nothing
			case strings.HasPrefix(body, "-"):
				srcRemaining--
			case strings.HasPrefix(body, "+"):
				dstRemaining--
			case body == "" || strings.HasPrefix(body, " "):
				srcRemaining--
				dstRemaining--
			default:
				return nil, fmt.Errorf("unexpected line in hunk body: %q", body)
			}
			i++
		}
		if srcRemaining != 0 || dstRemaining != 0 {
			return nil, fmt.Errorf("hunk body shorter than header declares at line %d", i)
		}

		end := srcStart + max(srcLen, 1) - 1
		ranges = append(ranges, LineRange{Start: srcStart, End: end})
	}
	return ranges, nil
}

// parseLoose recovers ranges from hunk headers alone.
func parseLoose(diff string) []LineRange {
	var ranges []LineRange
	for _, m := range looseHunkRe.FindAllStringSubmatch(diff, -1) {
		start, _ := strconv.Atoi(m[1])
		length := 1
		if m[2] != "" {
			length, _ = strconv.Atoi(m[2])
		}
		ranges = append(ranges, LineRange{Start: start, End: start + max(length, 1) - 1})
	}
	return ranges
}

// Overlaps reports whether [nodeStart, nodeEnd] intersects any hunk range.
// Touching at a single boundary line counts as overlap.
func Overlaps(nodeStart, nodeEnd int, ranges []LineRange) bool {
	for _, r := range ranges {
		if nodeStart <= r.End && nodeEnd >= r.Start {
			return true
		}
	}
	return false
}

// ExtractPatchText returns the + and - diff lines whose source position falls
// inside [nodeStart, nodeEnd]. The source counter advances through removed
// and context lines only; added lines sit at the current source position.
// File headers and "\ No newline" markers are never emitted.
func ExtractPatchText(diff string, nodeStart, nodeEnd int) string {
	var out []string
	sourceLine := -1

	for _, raw := range strings.Split(diff, "\n") {
		if strings.HasPrefix(raw, "@@") {
			if m := hunkHeaderRe.FindStringSubmatch(raw); m != nil {
				sourceLine, _ = strconv.Atoi(m[1])
			} else if m := looseHunkRe.FindStringSubmatch(raw); m != nil {
				sourceLine, _ = strconv.Atoi(m[1])
			}
			continue
		}
		if sourceLine < 0 {
			continue
		}
		switch {
		case strings.HasPrefix(raw, "+++"), strings.HasPrefix(raw, "---"):
		case strings.HasPrefix(raw, "\\"):
		case strings.HasPrefix(raw, "-"):
			if nodeStart <= sourceLine && sourceLine <= nodeEnd {
				out = append(out, raw)
			}
			sourceLine++
		case strings.HasPrefix(raw, "+"):
			if nodeStart <= sourceLine && sourceLine <= nodeEnd {
				out = append(out, raw)
			}
		default:
			sourceLine++
		}
	}
	return strings.Join(out, "\n")
}

// IsFileAdded reports whether the diff introduces a new file.
func IsFileAdded(diff string) bool {
	return strings.Contains(diff, "--- /dev/null")
}

// IsFileDeleted reports whether the diff removes the file entirely.
func IsFileDeleted(diff string) bool {
	return strings.Contains(diff, "+++ /dev/null")
}

// SourceSlice returns the inclusive 1-based [start, end] lines of text.
// Out-of-range bounds are clipped.
func SourceSlice(text string, start, end int) string {
	lines := strings.Split(text, "\n")
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}
