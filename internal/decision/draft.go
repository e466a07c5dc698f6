package decision

import (
	"strconv"
	"strings"

	"github.com/Aidin1998/vendorpulse/pkg/models"
)

// Line is one editable line of a draft. Max is the quantity originally
// pushed and bounds every edit of this line.
type Line struct {
	No   int              `json:"line"`
	Item models.OrderItem `json:"item"`
	Max  int              `json:"maxQuantity"`
}

// Draft is the vendor's working copy of an order's items
type Draft struct {
	lines []Line
}

// NewDraft deep-copies items into numbered lines starting at 1
func NewDraft(items []models.OrderItem) *Draft {
	d := &Draft{lines: make([]Line, 0, len(items))}
	for i, it := range items {
		d.lines = append(d.lines, Line{No: i + 1, Item: it, Max: it.Quantity})
	}
	return d
}

// Lines returns a copy of the remaining lines
func (d *Draft) Lines() []Line {
	return append([]Line(nil), d.lines...)
}

// SetQuantity applies a quantity typed by the vendor. Input that is not a
// whole number in [0, Max] is ignored and reported as not applied.
func (d *Draft) SetQuantity(no int, input string) bool {
	idx := d.index(no)
	if idx < 0 {
		return false
	}
	q, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || q < 0 || q > d.lines[idx].Max {
		return false
	}
	d.lines[idx].Item.Quantity = q
	return true
}

// RemoveLine drops a line together with its ceiling
func (d *Draft) RemoveLine(no int) bool {
	idx := d.index(no)
	if idx < 0 {
		return false
	}
	d.lines = append(d.lines[:idx], d.lines[idx+1:]...)
	return true
}

// Confirmable reports whether at least one line has a positive quantity
func (d *Draft) Confirmable() bool {
	for _, l := range d.lines {
		if l.Item.Quantity > 0 {
			return true
		}
	}
	return false
}

// Items returns the lines with a positive quantity
func (d *Draft) Items() []models.OrderItem {
	out := make([]models.OrderItem, 0, len(d.lines))
	for _, l := range d.lines {
		if l.Item.Quantity > 0 {
			out = append(out, l.Item)
		}
	}
	return out
}

// rebase carries the vendor's edits from prev onto d for products present in
// both payloads. prevItems is the payload prev was seeded from. Lines the
// vendor removed stay removed; edited quantities are clamped to the new ceiling.
func (d *Draft) rebase(prev *Draft, prevItems []models.OrderItem) {
	pushed := make(map[string]int, len(prevItems))
	for _, it := range prevItems {
		if _, seen := pushed[it.ProductID]; it.ProductID != "" && !seen {
			pushed[it.ProductID] = it.Quantity
		}
	}
	edited := make(map[string]int, len(prev.lines))
	for _, l := range prev.lines {
		if _, seen := edited[l.Item.ProductID]; l.Item.ProductID != "" && !seen {
			edited[l.Item.ProductID] = l.Item.Quantity
		}
	}

	lines := make([]Line, 0, len(d.lines))
	for _, l := range d.lines {
		orig, known := pushed[l.Item.ProductID]
		if !known {
			lines = append(lines, l)
			continue
		}
		q, kept := edited[l.Item.ProductID]
		if !kept {
			continue
		}
		if q != orig {
			if q > l.Max {
				q = l.Max
			}
			l.Item.Quantity = q
		}
		lines = append(lines, l)
	}
	d.lines = lines
}

func (d *Draft) index(no int) int {
	for i := range d.lines {
		if d.lines[i].No == no {
			return i
		}
	}
	return -1
}
