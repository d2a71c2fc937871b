package update

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ironpike/modloader/internal/manifest"
	"github.com/ironpike/modloader/internal/state"
)

// Action is one planned operation for a single package.
type Action string

const (
	ActionInstall Action = "install"
	ActionUpdate  Action = "update"
	ActionSkip    Action = "skip"
	ActionRemove  Action = "remove"
)

// PlanEntry pairs a package with the action the diff chose for it. For Remove
// the manifest entry carries only the ID; the rest comes from local state.
type PlanEntry struct {
	Action Action
	Entry  manifest.Entry
	Reason string
}

// BuildPlan diffs the remote manifest against local state and produces one
// action per package. Manifest entries keep their catalog order; removals, if
// pruning is enabled, follow in ID order so plans are deterministic.
//
// A package updates when the manifest version is newer, or when the version is
// equal but the content digest changed (re-released archive under the same
// version). Installed packages absent from the manifest are left alone unless
// pruneMissing is set.
func BuildPlan(entries []manifest.Entry, st state.LocalState, pruneMissing bool) []PlanEntry {
	plan := make([]PlanEntry, 0, len(entries))
	inManifest := make(map[string]struct{}, len(entries))

	for _, e := range entries {
		inManifest[e.ID] = struct{}{}

		rec, installed := st.Records[e.ID]
		switch {
		case !installed:
			plan = append(plan, PlanEntry{Action: ActionInstall, Entry: e, Reason: "not installed"})
		case manifest.CompareVersions(e.Version, rec.Version) > 0:
			plan = append(plan, PlanEntry{
				Action: ActionUpdate,
				Entry:  e,
				Reason: fmt.Sprintf("version %s -> %s", rec.Version, e.Version),
			})
		case manifest.CompareVersions(e.Version, rec.Version) == 0 && !strings.EqualFold(e.SHA256, rec.SHA256):
			plan = append(plan, PlanEntry{Action: ActionUpdate, Entry: e, Reason: "content changed"})
		default:
			plan = append(plan, PlanEntry{Action: ActionSkip, Entry: e, Reason: "up to date"})
		}
	}

	if pruneMissing {
		var missing []string
		for id := range st.Records {
			if _, ok := inManifest[id]; !ok {
				missing = append(missing, id)
			}
		}
		sort.Strings(missing)
		for _, id := range missing {
			plan = append(plan, PlanEntry{
				Action: ActionRemove,
				Entry:  manifest.Entry{ID: id},
				Reason: "absent from manifest",
			})
		}
	}
	return plan
}
