// Package hitl implements the Human-in-the-Loop action pipeline of §4.6:
// a deterministic proposal parser, an approve/reject service over
// row-locked transactions, and an Action Executor worker dispatching
// approved actions against the commerce backend.
package hitl

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// proposedActionBlock matches one [PROPOSED_ACTION] ... [/PROPOSED_ACTION]
// block, non-greedy so multiple blocks in the same text are each matched
// individually rather than collapsed into one.
var proposedActionBlock = regexp.MustCompile(`(?s)\[PROPOSED_ACTION\](.*?)\[/PROPOSED_ACTION\]`)

// proposedActionField matches one "key: value" line inside a block.
var proposedActionField = regexp.MustCompile(`(?m)^\s*([a-zA-Z_]+)\s*:\s*(.+)$`)

// Draft is a successfully parsed proposal, ready to be inserted as a
// ProposedAction row once the caller supplies tenant/request context.
type Draft struct {
	ActionType  string
	Description string
	Parameters  string // raw JSON object text, validated but not decoded here
}

// ParseProposedActions scans text for [PROPOSED_ACTION] blocks and
// extracts action_type/description/parameters from each. A block missing
// any required field is logged by the caller and skipped; other blocks
// in the same text are still processed, per §4.6.
func ParseProposedActions(text string) ([]Draft, []error) {
	var drafts []Draft
	var errs []error

	matches := proposedActionBlock.FindAllStringSubmatch(text, -1)
	for i, m := range matches {
		draft, err := parseBlock(m[1])
		if err != nil {
			errs = append(errs, fmt.Errorf("proposed action block %d: %w", i, err))
			continue
		}
		drafts = append(drafts, draft)
	}

	return drafts, errs
}

func parseBlock(block string) (Draft, error) {
	fields := map[string]string{}
	for _, m := range proposedActionField.FindAllStringSubmatch(block, -1) {
		key := strings.ToLower(strings.TrimSpace(m[1]))
		fields[key] = strings.TrimSpace(m[2])
	}

	actionType, ok := fields["action_type"]
	if !ok || actionType == "" {
		return Draft{}, fmt.Errorf("missing required field action_type")
	}
	description, ok := fields["description"]
	if !ok || description == "" {
		return Draft{}, fmt.Errorf("missing required field description")
	}
	parameters, ok := fields["parameters"]
	if !ok || parameters == "" {
		return Draft{}, fmt.Errorf("missing required field parameters")
	}
	if !strings.HasPrefix(parameters, "{") || !strings.HasSuffix(parameters, "}") || !json.Valid([]byte(parameters)) {
		return Draft{}, fmt.Errorf("parameters field is not a JSON object: %q", parameters)
	}

	return Draft{ActionType: actionType, Description: description, Parameters: parameters}, nil
}
