package scene

import (
	"fmt"

	"github.com/gwillem/nfconsole/pkg/wire"
)

// TargetList holds the latest target list plus the operator's selection
// and hover. Each update replaces the list; selection and hover are kept by
// id.
type TargetList struct {
	targets  []wire.Target
	selected string
	hovered  string

	OnSelect func(id string)
	OnHover  func(id string)
}

// Update replaces the list.
func (l *TargetList) Update(targets []wire.Target) {
	l.targets = append(l.targets[:0:0], targets...)
}

// Targets returns a copy of the current list.
func (l *TargetList) Targets() []wire.Target {
	return append([]wire.Target(nil), l.targets...)
}

// Get looks up a target by id.
func (l *TargetList) Get(id string) (wire.Target, bool) {
	for _, t := range l.targets {
		if t.ID == id {
			return t, true
		}
	}
	return wire.Target{}, false
}

// Selected returns the selected id, or "" for none.
func (l *TargetList) Selected() string { return l.selected }

// Hovered returns the hovered id, or "" for none.
func (l *TargetList) Hovered() string { return l.hovered }

// SetSelected changes the selection and notifies OnSelect if it changed.
// Pass "" to clear.
func (l *TargetList) SetSelected(id string) {
	if l.selected == id {
		return
	}
	l.selected = id
	if l.OnSelect != nil {
		l.OnSelect(id)
	}
}

// SetHovered changes the hover and notifies OnHover if it changed.
func (l *TargetList) SetHovered(id string) {
	if l.hovered == id {
		return
	}
	l.hovered = id
	if l.OnHover != nil {
		l.OnHover(id)
	}
}

// MoveHover steps the hover by delta positions through the list, wrapping.
// With nothing hovered it starts at the first or last entry.
func (l *TargetList) MoveHover(delta int) {
	n := len(l.targets)
	if n == 0 {
		l.SetHovered("")
		return
	}
	idx := -1
	for i, t := range l.targets {
		if t.ID == l.hovered {
			idx = i
			break
		}
	}
	switch {
	case idx < 0 && delta >= 0:
		idx = 0
	case idx < 0:
		idx = n - 1
	default:
		idx = ((idx+delta)%n + n) % n
	}
	l.SetHovered(l.targets[idx].ID)
}

// SelectHovered selects the hovered target, or clears the selection when
// nothing is hovered.
func (l *TargetList) SelectHovered() {
	l.SetSelected(l.hovered)
}

// DeleteSelected returns the control item that asks the robot to drop the
// selected target, and clears the selection.
func (l *TargetList) DeleteSelected() (wire.ControlItem, bool) {
	if l.selected == "" {
		return nil, false
	}
	item := &wire.DeleteTarget{TargetID: l.selected}
	l.SetSelected("")
	return item, true
}

// Label formats a target as "(source) shortid (x, y)".
func Label(t wire.Target) string {
	id := t.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("(%s) %s (%.2f, %.2f)", t.Source, id, t.Position.X, t.Position.Y)
}
