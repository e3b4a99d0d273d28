package mutator

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// runExternalMutator delegates mutation to an external command: the
// command line is split on whitespace, invoked with stdin bound to
// parent, and stdout captured as the mutated buffer. This mirrors
// honggfuzz's externalMutate callout and its auxiliary process
// spawning style.
func runExternalMutator(commandLine string, parent []byte) ([]byte, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return parent, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Stdin = bytes.NewReader(parent)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
