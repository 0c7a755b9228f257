package jobs

import (
	"bufio"
	"os"
)

// TailLog returns the last tail lines of the file at path along with the
// total line count. A tail of zero or less returns all lines. A missing log
// file yields an empty tail, since a pending job has not produced output yet.
func TailLog(path string, tail int) ([]string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if tail <= 0 {
		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		return lines, len(lines), scanner.Err()
	}

	ring := make([]string, tail)
	total := 0
	for scanner.Scan() {
		ring[total%tail] = scanner.Text()
		total++
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}
	n := tail
	if total < tail {
		n = total
	}
	lines := make([]string, 0, n)
	for i := total - n; i < total; i++ {
		lines = append(lines, ring[i%tail])
	}
	return lines, total, nil
}
