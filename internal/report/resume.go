package report

import (
	"bufio"
	"fmt"
	"os"

	"github.com/tidwall/gjson"

	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// ReadResumeCounters re-reads a previous run's report file (pointed at
// by --resume-from / output.resume_from) and extracts just the six run-level counters from
// its last summary line, using gjson.GetBytes rather than a full
// struct unmarshal.
func ReadResumeCounters(path string) (types.RunCounters, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.RunCounters{}, fmt.Errorf("report: resume: open %s: %w", path, err)
	}
	defer f.Close()

	var last []byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		last = append(last[:0], line...)
	}
	if err := scanner.Err(); err != nil {
		return types.RunCounters{}, fmt.Errorf("report: resume: scan %s: %w", path, err)
	}
	if last == nil {
		return types.RunCounters{}, fmt.Errorf("report: resume: %s has no summary line", path)
	}

	return types.RunCounters{
		MutationsCnt:       gjson.GetBytes(last, "MutationsCnt").Int(),
		CrashesCnt:         gjson.GetBytes(last, "CrashesCnt").Int(),
		UniqueCrashesCnt:   gjson.GetBytes(last, "UniqueCrashesCnt").Int(),
		VerifiedCrashesCnt: gjson.GetBytes(last, "VerifiedCrashesCnt").Int(),
		BlCrashesCnt:       gjson.GetBytes(last, "BlCrashesCnt").Int(),
		TimeoutedCnt:       gjson.GetBytes(last, "TimeoutedCnt").Int(),
	}, nil
}
