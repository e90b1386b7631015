// Package keys loads primary key lists and partitions them into chunks.
package keys

import (
	"bufio"
	"os"
	"strings"
)

// FromFile reads a newline separated list of primary keys.
// Surrounding whitespace is trimmed. Keys are not deduplicated and
// empty lines are kept as empty keys, they get processed like any other.
func FromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		keys = append(keys, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
