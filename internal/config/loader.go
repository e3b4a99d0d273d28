package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// LoadDictionary reads an AFL-style dictionary file: one double-quoted,
// backslash-escaped token per line, blank lines and '#' comments
// ignored.
func LoadDictionary(path string) ([][]byte, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open dictionary %s: %w", path, err)
	}
	defer f.Close()

	var tokens [][]byte
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if eq := strings.IndexByte(line, '='); eq >= 0 {
			line = line[eq+1:]
		}
		line = strings.TrimSpace(line)
		tok, err := strconv.Unquote(line)
		if err != nil {
			continue // not a quoted token, skip rather than fail the whole file
		}
		tokens = append(tokens, []byte(tok))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read dictionary %s: %w", path, err)
	}
	return tokens, nil
}

// LoadBlacklist reads one "signal:pc:backtrace_hash" fingerprint per
// line, matching what CrashClassifier reports for an already-known,
// intentionally-ignored crash.
func LoadBlacklist(path string) (map[types.Fingerprint]struct{}, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open blacklist %s: %w", path, err)
	}
	defer f.Close()

	out := make(map[types.Fingerprint]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("config: blacklist %s: malformed line %q", path, line)
		}
		sig, err := strconv.ParseInt(parts[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: blacklist %s: bad signal %q: %w", path, parts[0], err)
		}
		pc, err := strconv.ParseUint(parts[1], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("config: blacklist %s: bad pc %q: %w", path, parts[1], err)
		}
		bt, err := strconv.ParseUint(parts[2], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("config: blacklist %s: bad backtrace hash %q: %w", path, parts[2], err)
		}
		out[types.Fingerprint{Signal: types.Signal(sig), PC: pc, BacktraceHash: bt}] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read blacklist %s: %w", path, err)
	}
	return out, nil
}
