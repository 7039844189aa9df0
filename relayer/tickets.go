package relayer

import (
	"sync"
)

// TicketStatus is the state of a queued submission.
type TicketStatus string

const (
	TicketPending TicketStatus = "pending"
	TicketDone    TicketStatus = "done"
	TicketFailed  TicketStatus = "failed"
)

// TicketResult is what a ticket lookup returns.
type TicketResult struct {
	Ticket   string       `json:"ticket"`
	Status   TicketStatus `json:"status"`
	Receipts []Receipt    `json:"receipts,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// Tickets keeps the most recent submission results in memory, evicting the
// oldest once full.
type Tickets struct {
	mu      sync.Mutex
	limit   int
	order   []string
	results map[string]*TicketResult
}

// NewTickets keeps up to limit tickets, 1024 if limit is not positive.
func NewTickets(limit int) *Tickets {
	if limit <= 0 {
		limit = 1024
	}
	return &Tickets{limit: limit, results: make(map[string]*TicketResult)}
}

// Pending records a ticket whose submission is queued.
func (t *Tickets) Pending(ticket string) {
	t.put(&TicketResult{Ticket: ticket, Status: TicketPending})
}

// Done records the receipts of a processed submission.
func (t *Tickets) Done(ticket string, receipts []Receipt) {
	t.put(&TicketResult{Ticket: ticket, Status: TicketDone, Receipts: receipts})
}

// Fail records a submission that could not be processed.
func (t *Tickets) Fail(ticket string, err error) {
	t.put(&TicketResult{Ticket: ticket, Status: TicketFailed, Error: err.Error()})
}

// Forget drops a ticket, e.g. one whose publish failed.
func (t *Tickets) Forget(ticket string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.results[ticket]; !ok {
		return
	}
	delete(t.results, ticket)
	for i, queued := range t.order {
		if queued == ticket {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of the ticket's result.
func (t *Tickets) Get(ticket string) (TicketResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.results[ticket]
	if !ok {
		return TicketResult{}, false
	}
	out := *r
	out.Receipts = append([]Receipt(nil), r.Receipts...)
	return out, true
}

func (t *Tickets) put(r *TicketResult) {
	if r.Ticket == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.results[r.Ticket]; !ok {
		t.order = append(t.order, r.Ticket)
	}
	t.results[r.Ticket] = r
	for len(t.results) > t.limit && len(t.order) > 0 {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.results, oldest)
	}
}
