package verify

import (
	"bufio"
	"strings"
)

// DigestExtractor summarizes the underlying error of a collection or import
// failure for downstream consumers. Extraction failure is never fatal to the
// verification result.
type DigestExtractor interface {
	Extract(output []byte) (string, error)
}

// TailDigest keeps the error-looking tail of the output, capped for storage.
type TailDigest struct {
	MaxChars int
}

const defaultDigestChars = 500

// Extract collects error lines, falling back to the last non-empty lines.
func (d TailDigest) Extract(output []byte) (string, error) {
	maxChars := d.MaxChars
	if maxChars <= 0 {
		maxChars = defaultDigestChars
	}

	var errorLines, tail []string
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		tail = append(tail, line)
		if len(tail) > 10 {
			tail = tail[1:]
		}
		if strings.HasPrefix(line, "E ") ||
			strings.Contains(line, "Error") ||
			strings.Contains(line, "error during collection") ||
			strings.Contains(line, "errors during collection") {
			errorLines = append(errorLines, strings.TrimSpace(line))
		}
	}

	lines := errorLines
	if len(lines) == 0 {
		lines = tail
	}
	digest := strings.Join(lines, "\n")
	if len(digest) > maxChars {
		digest = digest[:maxChars]
	}
	return digest, nil
}
