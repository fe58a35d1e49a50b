package server

import (
	"fmt"
	"strings"

	"github.com/danmuck/replica/internal/entity"
)

type VisibilityPolicy uint8

const (
	// PolicyAll replicates every entity.
	PolicyAll VisibilityPolicy = iota
	// PolicyBlacklist replicates everything not explicitly hidden.
	PolicyBlacklist
	// PolicyWhitelist replicates only explicitly shown entities.
	PolicyWhitelist
)

func ParseVisibilityPolicy(raw string) (VisibilityPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "all":
		return PolicyAll, nil
	case "blacklist":
		return PolicyBlacklist, nil
	case "whitelist":
		return PolicyWhitelist, nil
	default:
		return PolicyAll, fmt.Errorf("server: unknown visibility policy %q", raw)
	}
}

func (p VisibilityPolicy) String() string {
	switch p {
	case PolicyBlacklist:
		return "blacklist"
	case PolicyWhitelist:
		return "whitelist"
	default:
		return "all"
	}
}

type VisibilityState uint8

const (
	Hidden VisibilityState = iota
	Visible
	// Gained means visible since this step; the entity is written in full.
	Gained
)

// Visibility holds one client's visibility decisions. It does not compute
// them; the application calls Set.
type Visibility struct {
	policy VisibilityPolicy
	listed map[entity.Entity]struct{}
	gained map[entity.Entity]struct{}
	lost   map[entity.Entity]struct{}
}

func NewVisibility(policy VisibilityPolicy) *Visibility {
	return &Visibility{
		policy: policy,
		listed: make(map[entity.Entity]struct{}),
		gained: make(map[entity.Entity]struct{}),
		lost:   make(map[entity.Entity]struct{}),
	}
}

func (v *Visibility) Policy() VisibilityPolicy {
	return v.policy
}

// Set changes the visibility of e. Ignored under PolicyAll.
func (v *Visibility) Set(e entity.Entity, visible bool) {
	switch v.policy {
	case PolicyBlacklist:
		_, hidden := v.listed[e]
		if visible && hidden {
			delete(v.listed, e)
			v.markGained(e)
		} else if !visible && !hidden {
			v.listed[e] = struct{}{}
			v.markLost(e)
		}
	case PolicyWhitelist:
		_, shown := v.listed[e]
		if visible && !shown {
			v.listed[e] = struct{}{}
			v.markGained(e)
		} else if !visible && shown {
			delete(v.listed, e)
			v.markLost(e)
		}
	}
}

func (v *Visibility) markGained(e entity.Entity) {
	if _, ok := v.lost[e]; ok {
		// hidden and shown again within one step
		delete(v.lost, e)
		return
	}
	v.gained[e] = struct{}{}
}

func (v *Visibility) markLost(e entity.Entity) {
	if _, ok := v.gained[e]; ok {
		delete(v.gained, e)
		return
	}
	v.lost[e] = struct{}{}
}

func (v *Visibility) IsVisible(e entity.Entity) bool {
	_, listed := v.listed[e]
	switch v.policy {
	case PolicyBlacklist:
		return !listed
	case PolicyWhitelist:
		return listed
	default:
		return true
	}
}

func (v *Visibility) State(e entity.Entity) VisibilityState {
	if !v.IsVisible(e) {
		return Hidden
	}
	if _, ok := v.gained[e]; ok {
		return Gained
	}
	return Visible
}

// drainLost hands out entities that became hidden since the last step.
func (v *Visibility) drainLost(fn func(e entity.Entity)) {
	for e := range v.lost {
		fn(e)
	}
	clear(v.lost)
}

func (v *Visibility) endStep() {
	clear(v.gained)
}

// forget drops all state for a despawned entity.
func (v *Visibility) forget(e entity.Entity) {
	delete(v.listed, e)
	delete(v.gained, e)
	delete(v.lost, e)
}
