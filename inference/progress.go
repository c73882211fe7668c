package inference

import (
	"regexp"
	"strconv"
)

var percentPattern = regexp.MustCompile(`(\d{1,3})\s*%`)

// percentFromLogs scans a batch of log lines for percentage figures and
// returns the last one found. The upstream lines are free text, so this is an
// accepted approximation: values may repeat or regress and no monotonicity is
// implied.
func percentFromLogs(lines []string) (int, bool) {
	percent := 0
	found := false
	for _, line := range lines {
		matches := percentPattern.FindAllStringSubmatch(line, -1)
		if len(matches) == 0 {
			continue
		}
		last := matches[len(matches)-1][1]
		parsed, err := strconv.Atoi(last)
		if err != nil || parsed > 100 {
			continue
		}
		percent = parsed
		found = true
	}
	return percent, found
}
