// Package reducer folds tool observations into the slot patch the workflow
// engine applies to its store. Pure functions, no I/O.
package reducer

import (
	"strings"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
)

// Reduce builds the patch for one turn:
//
//  1. slots_set starts as the extractor's slot patch.
//  2. Each ok observation merges the fields its tool declares as produces;
//     later observations win on collision.
//  3. Failed observations never unset existing values. Stale data beats an
//     empty slot here.
//  4. Ok observations of side-effecting tools contribute their manifest
//     invalidates templates, with {placeholder} values taken from the
//     observation data, then the merged slot view.
//  5. internal carries reserved-slot updates (offence counters and the like);
//     they ride in slots_set but are stripped before planner and NLG see the
//     state.
func Reduce(snapSlots, extracted, internal dialog.SlotMap, observations []dialog.Observation, m *manifest.Manifest) dialog.Patch {
	patch := dialog.NewPatch()
	for k, v := range extracted {
		patch.SlotsSet[k] = v
	}

	for _, obs := range observations {
		if !obs.OK() {
			continue
		}
		tool, ok := m.Tool(obs.Tool)
		if !ok {
			continue
		}
		for _, field := range tool.Produces {
			if v, present := obs.Data[field]; present {
				patch.SlotsSet[field] = v
			}
		}
	}

	merged := snapSlots.Merge(patch.SlotsSet)
	for _, obs := range observations {
		if !obs.OK() {
			continue
		}
		tool, ok := m.Tool(obs.Tool)
		if !ok || !tool.SideEffect {
			continue
		}
		for _, tmpl := range tool.Invalidates {
			if key, ok := resolveTemplate(tmpl, obs.Data, merged); ok {
				patch.CacheInvalidationKeys = append(patch.CacheInvalidationKeys, key)
			}
		}
	}

	for k, v := range internal {
		patch.SlotsSet[k] = v
	}
	return patch
}

// resolveTemplate substitutes {name} placeholders from data, then slots.
// Returns false when any placeholder has no value; a half-resolved cache key
// would evict nothing.
func resolveTemplate(tmpl string, data map[string]any, slots dialog.SlotMap) (string, bool) {
	var b strings.Builder
	rest := tmpl
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), true
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			b.WriteString(rest)
			return b.String(), true
		}
		b.WriteString(rest[:open])
		name := rest[open+1 : open+closing]
		v, ok := data[name]
		if !ok {
			v, ok = slots[name]
		}
		if !ok {
			return "", false
		}
		b.WriteString(dialog.Stringify(v))
		rest = rest[open+closing+1:]
	}
}
