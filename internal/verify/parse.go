package verify

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// counts aggregates the line-parsed test-runner summary. Collection errors
// (the runner failed to even discover tests) are kept distinct from
// per-test errors.
type counts struct {
	Passed           int
	Failed           int
	Errors           int
	CollectionErrors int
}

func (c counts) Total() int { return c.Passed + c.Failed + c.Errors + c.CollectionErrors }

var (
	passedRe     = regexp.MustCompile(`(\d+) passed`)
	failedRe     = regexp.MustCompile(`(\d+) failed`)
	errorRe      = regexp.MustCompile(`(\d+) errors?\b`)
	collectionRe = regexp.MustCompile(`(\d+) errors? during collection`)
)

// parseOutput scans combined runner output line by line for summary counts.
func parseOutput(output []byte) counts {
	var c counts
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := collectionRe.FindStringSubmatch(line); m != nil {
			c.CollectionErrors = atoiOrZero(m[1])
			continue
		}
		if m := passedRe.FindStringSubmatch(line); m != nil {
			c.Passed = atoiOrZero(m[1])
		}
		if m := failedRe.FindStringSubmatch(line); m != nil {
			c.Failed = atoiOrZero(m[1])
		}
		if m := errorRe.FindStringSubmatch(line); m != nil {
			c.Errors = atoiOrZero(m[1])
		}
	}
	return c
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
