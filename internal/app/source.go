package app

import (
	"strings"

	"statusloop/internal/config"
	"statusloop/internal/rotation"
	"statusloop/internal/status"
)

// configSource adapts the config manager to the scheduler's Source
// interface. The scheduler reads it fresh on every tick, so hot-reloaded
// edits are visible at the next tick without scheduler-side caching.
//
// A nil committed config (unreadable at boot) yields an empty step set: the
// scheduler then reports "nothing to rotate" instead of crashing, which is
// the recovery path for malformed persisted configuration.
type configSource struct {
	mgr *config.Manager
}

func (s *configSource) Steps() []status.Step {
	cfg := s.mgr.Get()
	if cfg == nil {
		return nil
	}
	return stepsFromConfig(cfg.Rotation.Steps)
}

func (s *configSource) Settings() rotation.Settings {
	cfg := s.mgr.Get()
	if cfg == nil {
		return rotation.Settings{}
	}
	return rotation.Settings{
		IntervalSeconds: cfg.Rotation.IntervalSeconds,
		Randomize:       cfg.Rotation.Randomize,
		AutoStart:       cfg.Rotation.AutoStart,
		ActiveCategory:  strings.ToLower(strings.TrimSpace(cfg.Rotation.ActiveCategory)),
	}
}

func stepsFromConfig(in []config.StepConfig) []status.Step {
	out := make([]status.Step, 0, len(in))
	for _, sc := range in {
		st := status.Step{
			Text:     sc.Text,
			Category: strings.ToLower(strings.TrimSpace(sc.Category)),
		}
		if sc.Emoji != nil {
			st.Emoji = &status.Emoji{
				Name:     sc.Emoji.Name,
				ID:       sc.Emoji.ID,
				Animated: sc.Emoji.Animated,
			}
		}
		// Validation upstream rejected unknown presence values, so a failed
		// parse here just leaves the presence unchanged.
		st.Presence, _ = status.ParsePresence(sc.Presence)
		out = append(out, st)
	}
	return out
}
