// Package router implements the Task Router (spec.md §4.6): a pure,
// deterministic classifier over user text that decides whether the
// Orchestrator answers directly or runs the full decomposition pipeline.
// Grounded on core/task_router.py:classify_task, with the signal tables
// carried over as data (spec.md §4.6 requires exactly this: rules applied
// in a fixed order, exercised branch by branch in tests).
package router

import "strings"

// Route is the classifier's decision.
type Route string

const (
	DirectAnswer Route = "DirectAnswer"
	Pipeline     Route = "Pipeline"
)

// multiStepSignals require task decomposition — presence always routes to
// Pipeline regardless of any other signal.
var multiStepSignals = []string{
	" and then ", "first ", "then ", "step 1", "step one",
}

// actionSignals indicate a need for tools, files, or execution.
var actionSignals = []string{
	"write", "create", "generate", "build", "code", "file", "run",
	"execute", "search", "download", "analyse", "analyze", "compute",
	"calculate", "deploy", "install", "configure", "screenshot",
	"browser", "edit", "delete", "upload", "compare", "report",
	"script", "database", "website", "translate",
}

// questionSignals indicate simple knowledge Q&A.
var questionSignals = []string{
	"what is", "explain", "define", "describe", "tell me about",
	"how does", "what does", "meaning of",
}

const (
	shortInputThreshold        = 5
	shortQuestionLengthLimit   = 50
)

// Classify applies spec.md §4.6's six ordered rules to input and returns
// the resulting Route. Rules are evaluated in order and the first match
// wins; rule 6 (Pipeline) is the conservative default when nothing else
// matched.
func Classify(input string) Route {
	trimmed := strings.TrimSpace(input)
	lower := strings.ToLower(trimmed)

	// 1. Trimmed input length < 5 -> DirectAnswer.
	if len(trimmed) < shortInputThreshold {
		return DirectAnswer
	}

	// 2. Multi-step marker -> Pipeline.
	if containsAny(lower, multiStepSignals) {
		return Pipeline
	}

	// 3. Action/tool-need signal -> Pipeline.
	if containsAny(lower, actionSignals) {
		return Pipeline
	}

	// 4. Question signal -> DirectAnswer.
	if containsAny(lower, questionSignals) {
		return DirectAnswer
	}

	// 5. Short question mark -> DirectAnswer.
	if strings.Contains(trimmed, "?") && len(trimmed) < shortQuestionLengthLimit {
		return DirectAnswer
	}

	// 6. Conservative default.
	return Pipeline
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
