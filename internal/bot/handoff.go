package bot

import (
	"strings"

	"github.com/modavia/celia/internal/store"
)

// FallbackStabilityText is the reply of last resort: the user hears this
// instead of silence whenever the backend failed or produced nothing.
const FallbackStabilityText = "Tivemos um problema de estabilidade, pode repetir sua pergunta?"

// normalizeForExactMatch collapses runs of whitespace and casefolds, so hint
// comparison survives formatting drift in the agent's fulfillment texts.
func normalizeForExactMatch(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// handoffRequested decides whether the agent asked for a human, in order:
// an explicit marker substring, an exact match against the configured hint
// phrases, and a truthy handoff parameter. The parameter check only applies
// while the conversation is still bot-handled (allowParam), so a stale flag
// carried in session state cannot re-trigger handoff from other states.
func handoffRequested(texts []string, params store.Params, allowParam bool, s Settings) bool {
	if s.HandoffMarker != "" {
		for _, t := range texts {
			if strings.Contains(t, s.HandoffMarker) {
				return true
			}
		}
	}

	for _, t := range texts {
		norm := normalizeForExactMatch(t)
		for _, hint := range s.HandoffTextHints {
			if hint != "" && norm == normalizeForExactMatch(hint) {
				return true
			}
		}
	}

	if allowParam && s.HandoffParam != "" {
		if p, ok := params[s.HandoffParam]; ok && p.Truthy() {
			return true
		}
	}
	return false
}

// joinBotTexts merges the agent's reply lines into one outbound body.
func joinBotTexts(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if s := strings.TrimSpace(t); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return ""
}

// savedUserName digs the persisted display name out of the stored session
// parameters; older documents carried it nested one level down.
func savedUserName(params store.Params) string {
	raw, ok := params["user_name"]
	if !ok {
		return ""
	}
	switch raw.Kind {
	case store.ParamString:
		return raw.Str
	case store.ParamMap:
		if inner, ok := raw.Map["user_name"]; ok {
			return inner.String()
		}
	}
	return ""
}
