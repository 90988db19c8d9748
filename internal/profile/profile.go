// Package profile defines the named timing profiles an operator picks
// between. A profile supplies both the daily caps and the pacing used
// between sends.
package profile

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/LeventeLantos/outreach-engine/internal/model"
	"github.com/LeventeLantos/outreach-engine/internal/pacing"
)

const Default = "moderate"

type Profile struct {
	Name   string
	Caps   map[model.Kind]int
	Pacing pacing.Profile
}

var profiles = map[string]Profile{
	"conservative": {
		Name: "conservative",
		Caps: map[model.Kind]int{
			model.KindConnection: 10,
			model.KindInMail:     5,
			model.KindMessage:    20,
		},
		Pacing: pacing.Profile{
			MinDelay:   90 * time.Second,
			MaxDelay:   180 * time.Second,
			BreakEvery: 3,
			BreakMin:   10 * time.Minute,
			BreakMax:   20 * time.Minute,
			Tick:       time.Second,
		},
	},
	"moderate": {
		Name: "moderate",
		Caps: map[model.Kind]int{
			model.KindConnection: 20,
			model.KindInMail:     10,
			model.KindMessage:    40,
		},
		Pacing: pacing.Profile{
			MinDelay:   45 * time.Second,
			MaxDelay:   120 * time.Second,
			BreakEvery: 5,
			BreakMin:   5 * time.Minute,
			BreakMax:   10 * time.Minute,
			Tick:       time.Second,
		},
	},
	"aggressive": {
		Name: "aggressive",
		Caps: map[model.Kind]int{
			model.KindConnection: 40,
			model.KindInMail:     20,
			model.KindMessage:    80,
		},
		Pacing: pacing.Profile{
			MinDelay:   20 * time.Second,
			MaxDelay:   60 * time.Second,
			BreakEvery: 8,
			BreakMin:   3 * time.Minute,
			BreakMax:   6 * time.Minute,
			Tick:       time.Second,
		},
	},
}

// Lookup returns a copy of the named profile.
func Lookup(name string) (Profile, error) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("unknown timing profile %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	caps := make(map[model.Kind]int, len(p.Caps))
	for k, v := range p.Caps {
		caps[k] = v
	}
	p.Caps = caps
	return p, nil
}

func Names() []string {
	out := make([]string, 0, len(profiles))
	for name := range profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
