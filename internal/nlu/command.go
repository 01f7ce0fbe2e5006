// Package nlu maps transcripts to assistant commands.
package nlu

import (
	"fmt"
	"strings"
)

type Action int

const (
	ActionNone Action = iota
	ActionStop
	ActionSleep
	ActionWake
	ActionMute
	ActionUnmute
	ActionGenerateReport
	ActionShutdown
	ActionStatus
)

var actionNames = map[Action]string{
	ActionNone:           "none",
	ActionStop:           "stop",
	ActionSleep:          "sleep",
	ActionWake:           "wake",
	ActionMute:           "mute",
	ActionUnmute:         "unmute",
	ActionGenerateReport: "report",
	ActionShutdown:       "shutdown",
	ActionStatus:         "status",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", int(a))
}

type rule struct {
	action  Action
	phrases []string
	// unless suppresses the rule when any of these also appear.
	unless []string
}

// Order matters: first match wins.
var rules = []rule{
	{action: ActionStop, phrases: []string{"stop", "quit"}},
	{action: ActionSleep, phrases: []string{"sleep", "pause"}},
	{action: ActionWake, phrases: []string{"wake", "resume"}},
	{action: ActionMute, phrases: []string{"mute"}, unless: []string{"unmute"}},
	{action: ActionUnmute, phrases: []string{"unmute"}},
	{action: ActionGenerateReport, phrases: []string{"generate report", "summarise today", "summarize today", "summary"}},
	{action: ActionShutdown, phrases: []string{"shut down", "stop listening"}},
	{action: ActionStatus, phrases: []string{"status"}},
}

// Interpret returns the first action whose phrase occurs in transcript, or
// ActionNone when the transcript should go to the AI pipeline.
func Interpret(transcript string) Action {
	text := strings.ToLower(transcript)
	if strings.TrimSpace(text) == "" {
		return ActionNone
	}

	for _, r := range rules {
		if containsAny(text, r.unless) {
			continue
		}
		if containsAny(text, r.phrases) {
			return r.action
		}
	}

	return ActionNone
}

// ParseAction resolves a control command name such as "sleep" or "report".
func ParseAction(name string) (Action, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for a, s := range actionNames {
		if a != ActionNone && s == name {
			return a, nil
		}
	}
	return ActionNone, fmt.Errorf("unknown command %q", name)
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
