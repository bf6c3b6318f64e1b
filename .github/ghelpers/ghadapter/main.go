package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
)

// ghadapter runs a command that prints one JSON object, such as griddiff or
// capture, and exposes its fields as GitHub Actions step outputs.
func main() {
	if len(os.Args) < 2 {
		os.Exit(1)
	}

	cmd := exec.Command(os.Args[1], os.Args[2:]...)
	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr

	output, err := cmd.Output()
	if err != nil {
		os.Exit(1)
	}
	_, _ = os.Stdout.Write(output)

	var result map[string]json.RawMessage
	if err := json.Unmarshal(output, &result); err != nil {
		return
	}

	githubOutput := os.Getenv("GITHUB_OUTPUT")
	if githubOutput == "" {
		return
	}
	f, err := os.OpenFile(githubOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	keys := make([]string, 0, len(result))
	for key := range result {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		_, _ = fmt.Fprintf(f, "%s=%s\n", key, outputValue(result[key]))
	}
}

// outputValue unquotes strings; matrices and other values stay compact JSON
// so that fromJSON can read them back in a workflow.
func outputValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
