package detections

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadLabels reads a newline-delimited class-name file into an ordered table.
// Line i names class id i. Surrounding whitespace is stripped so CRLF files
// work; blank trailing lines are dropped.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels file: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels file: %w", err)
	}
	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}
	return labels, nil
}

// Label resolves a class id against the table. Ids past the end of the table
// get a synthetic name instead of an error, so a model exporting more classes
// than the file covers still produces usable records.
func Label(labels []string, classID int) string {
	if classID >= 0 && classID < len(labels) {
		return labels[classID]
	}
	return fmt.Sprintf("class_%d", classID)
}
