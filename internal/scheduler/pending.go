package scheduler

import "spacecal/internal/model"

// pendingSet holds undismissed alarm notifications, one per event id, in
// firing order. Not safe for concurrent use; Scheduler guards it.
type pendingSet struct {
	order []string
	byID  map[string]model.Event
}

func newPendingSet() *pendingSet {
	return &pendingSet{byID: make(map[string]model.Event)}
}

// add inserts ev unless its id is already pending.
func (p *pendingSet) add(ev model.Event) bool {
	if _, ok := p.byID[ev.ID]; ok {
		return false
	}
	p.byID[ev.ID] = ev
	p.order = append(p.order, ev.ID)
	return true
}

func (p *pendingSet) remove(id string) bool {
	if _, ok := p.byID[id]; !ok {
		return false
	}
	delete(p.byID, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

func (p *pendingSet) has(id string) bool {
	_, ok := p.byID[id]
	return ok
}

func (p *pendingSet) list() []model.Event {
	out := make([]model.Event, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	return out
}
