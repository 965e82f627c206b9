package tools

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how oversized output is cut.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

const defaultCharLimit = 30000

// Per-tool character limits. Tools absent here use defaultCharLimit.
var toolCharLimits = map[string]int{
	"read_file":   50000,
	"run_command": 30000,
	"run_tests":   30000,
	"search_code": 20000,
	"glob":        20000,
	"git_diff":    20000,
	"write_file":  1000,
}

var toolTruncationModes = map[string]TruncationMode{
	"read_file":   TruncateHeadTail,
	"run_command": TruncateHeadTail,
	"run_tests":   TruncateHeadTail,
	"search_code": TruncateTail,
	"glob":        TruncateTail,
	"git_diff":    TruncateTail,
	"write_file":  TruncateTail,
}

// Line limits applied after character truncation.
var toolLineLimits = map[string]int{
	"run_command": 256,
	"run_tests":   256,
	"search_code": 200,
	"glob":        500,
}

// TruncateOutput applies character-based truncation.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}

	removed := len(output) - maxChars
	switch mode {
	case TruncateTail:
		return fmt.Sprintf("[output truncated: first %d characters removed]\n\n", removed) +
			output[len(output)-maxChars:]
	default:
		half := maxChars / 2
		return output[:half] +
			fmt.Sprintf("\n\n[output truncated: %d characters removed from the middle; re-run with narrower parameters to see more]\n\n", removed) +
			output[len(output)-half:]
	}
}

// TruncateLines applies line-based truncation with a head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateForTool applies the character then line truncation pipeline using
// the per-tool limits.
func TruncateForTool(output, toolName string) string {
	maxChars, ok := toolCharLimits[toolName]
	if !ok {
		maxChars = defaultCharLimit
	}
	mode, ok := toolTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}

	result := TruncateOutput(output, maxChars, mode)

	if maxLines, ok := toolLineLimits[toolName]; ok {
		result = TruncateLines(result, maxLines)
	}
	return result
}
