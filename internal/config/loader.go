package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Load reads a sources.list-style repository list. Blank lines and lines
// whose first non-whitespace character is "#" are ignored.
func Load(path string) ([]*Repository, error) {
	if path == "" {
		path = DefaultPath
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var repos []*Repository
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		repo, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		repos = append(repos, repo)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("%s: no repositories configured", path)
	}

	return repos, nil
}
