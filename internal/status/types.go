package status

import "strings"

// Presence is the coarse availability indicator, distinct from the custom
// status text. Empty means "leave the current presence alone".
type Presence string

const (
	PresenceUnset     Presence = ""
	PresenceOnline    Presence = "online"
	PresenceIdle      Presence = "idle"
	PresenceDND       Presence = "dnd"
	PresenceInvisible Presence = "invisible"
)

// ParsePresence maps a config string to a Presence. Unknown values come back
// as (PresenceUnset, false); config validation should have caught them.
func ParsePresence(s string) (Presence, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PresenceUnset, true
	case "online":
		return PresenceOnline, true
	case "idle":
		return PresenceIdle, true
	case "dnd", "do_not_disturb":
		return PresenceDND, true
	case "invisible":
		return PresenceInvisible, true
	default:
		return PresenceUnset, false
	}
}

// Emoji identifies either a unicode emoji (Name only) or a custom emoji
// (Name + ID). Absence of an emoji is a nil *Emoji on the Step, never a
// sentinel; sentinel encoding happens only at the transport boundary.
type Emoji struct {
	Name     string
	ID       string
	Animated bool
}

// Step is one rotation entry.
//
// A step with empty Text and nil Emoji is permitted but meaningless (it
// renders as a blank status); nothing rejects it.
type Step struct {
	Text     string
	Emoji    *Emoji
	Category string
	Presence Presence
}

// InCategory reports whether the step carries the given category tag.
// Categories compare case-insensitively; an empty filter matches every step.
func (s Step) InCategory(category string) bool {
	if category == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(s.Category), strings.TrimSpace(category))
}

// Label is a short human-readable form for logs and notifications.
func (s Step) Label() string {
	if s.Text != "" {
		return s.Text
	}
	if s.Emoji != nil {
		return ":" + s.Emoji.Name + ":"
	}
	return "(blank)"
}

// Filter returns the steps matching category, preserving order.
func Filter(steps []Step, category string) []Step {
	if category == "" {
		return steps
	}
	out := make([]Step, 0, len(steps))
	for _, st := range steps {
		if st.InCategory(category) {
			out = append(out, st)
		}
	}
	return out
}
