package sync

import (
	"slices"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// Outcome reports what ApplyInbound did with a message.
type Outcome int

const (
	// Discarded: wrong room or missing id.
	Discarded Outcome = iota
	// Duplicate: an entry with the permanent id already exists.
	Duplicate
	// Appended: added at the end of the list.
	Appended
	// Promoted: replaced the optimistic entry with the same LocalID.
	Promoted
)

func (o Outcome) String() string {
	switch o {
	case Discarded:
		return "discarded"
	case Duplicate:
		return "duplicate"
	case Appended:
		return "appended"
	case Promoted:
		return "promoted"
	default:
		return "unknown"
	}
}

// Reconciler merges optimistic, REST and push copies of messages into one
// list kept in receipt order. It is not safe for concurrent use; the room
// session serializes every call.
type Reconciler struct {
	chatID string
	msgs   []model.Message
}

// NewReconciler creates an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Reset clears the list and binds it to chatID.
func (r *Reconciler) Reset(chatID string) {
	r.chatID = model.NormalizeChatID(chatID)
	r.msgs = nil
}

// ChatID returns the normalized id of the bound chat.
func (r *Reconciler) ChatID() string { return r.chatID }

// Len returns the number of entries.
func (r *Reconciler) Len() int { return len(r.msgs) }

// Load replaces the list with history. Entries that are not part of history
// (sends waiting for an ack, pushes received during the fetch) are kept after
// it so nothing in flight is lost. Duplicate ids collapse to their first
// occurrence.
func (r *Reconciler) Load(history []model.Message) {
	out := make([]model.Message, 0, len(history)+len(r.msgs))
	seen := make(map[model.ID]bool, len(history))
	for _, m := range history {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		m.LocalID = ""
		if m.ChatID == "" {
			m.ChatID = model.ID(r.chatID)
		}
		if m.Status == "" {
			m.Status = model.StatusSent
		}
		out = append(out, m.Clone())
	}
	for _, m := range r.msgs {
		if m.ID != "" && seen[m.ID] {
			continue
		}
		out = append(out, m)
	}
	r.msgs = out
}

// AppendOptimistic adds a local entry awaiting its permanent id. An entry
// with the same LocalID is replaced in place instead.
func (r *Reconciler) AppendOptimistic(m model.Message) bool {
	if m.LocalID == "" || m.ID != "" {
		return false
	}
	if m.Status == "" {
		m.Status = model.StatusSending
	}
	if i := r.indexLocal(m.LocalID); i >= 0 {
		r.msgs[i] = m.Clone()
		return true
	}
	r.msgs = append(r.msgs, m.Clone())
	return true
}

// Promote swaps the optimistic entry for localID with its acknowledged copy.
// When the permanent id already arrived through another path, the optimistic
// entry is dropped and the existing one keeps its position. Reports whether
// any entry changed.
func (r *Reconciler) Promote(localID string, ack model.Message) bool {
	if ack.ID == "" {
		return false
	}
	li := r.indexLocal(localID)
	if ii := r.indexID(ack.ID); ii >= 0 {
		existing := &r.msgs[ii]
		existing.Status = existing.Status.Advance(ackStatus(ack.Status))
		if li >= 0 {
			r.msgs = slices.Delete(r.msgs, li, li+1)
		}
		return true
	}
	if li < 0 {
		return false
	}
	r.msgs[li] = merge(r.msgs[li], ack)
	return true
}

// MarkFailed flags the optimistic entry for localID as failed.
func (r *Reconciler) MarkFailed(localID string) bool {
	i := r.indexLocal(localID)
	if i < 0 {
		return false
	}
	r.msgs[i].Status = model.StatusFailed
	return true
}

// MarkSending flags a failed optimistic entry as sending again.
func (r *Reconciler) MarkSending(localID string) bool {
	i := r.indexLocal(localID)
	if i < 0 || r.msgs[i].Status != model.StatusFailed {
		return false
	}
	r.msgs[i].Status = model.StatusSending
	return true
}

// ApplyInbound merges a message delivered by push.
func (r *Reconciler) ApplyInbound(m model.Message) Outcome {
	if r.chatID == "" || m.ID == "" {
		return Discarded
	}
	if model.NormalizeChatID(m.ChatID) != r.chatID {
		return Discarded
	}
	if r.indexID(m.ID) >= 0 {
		return Duplicate
	}
	if m.LocalID != "" && r.indexLocal(m.LocalID) >= 0 {
		r.Promote(m.LocalID, m)
		return Promoted
	}
	m.LocalID = ""
	if m.Status == "" {
		m.Status = model.StatusSent
	}
	r.msgs = append(r.msgs, m.Clone())
	return Appended
}

// UpdateStatus advances the delivery status of a reconciled entry. Statuses
// never move backwards.
func (r *Reconciler) UpdateStatus(id model.ID, status model.Status) bool {
	i := r.indexID(id)
	if i < 0 {
		return false
	}
	next := r.msgs[i].Status.Advance(status)
	if next == r.msgs[i].Status {
		return false
	}
	r.msgs[i].Status = next
	return true
}

// SetReactions overwrites the reactions of an entry with the canonical set.
func (r *Reconciler) SetReactions(id model.ID, rs []model.Reaction) bool {
	i := r.indexID(id)
	if i < 0 {
		return false
	}
	r.msgs[i].Reactions = slices.Clone(rs)
	return true
}

// ToggleReaction adds or removes userID's emoji on an entry. ok is false
// when no entry has that id.
func (r *Reconciler) ToggleReaction(id model.ID, emoji, userID string, now time.Time) (added, ok bool) {
	i := r.indexID(id)
	if i < 0 {
		return false, false
	}
	r.msgs[i].Reactions, added = model.ToggleReaction(r.msgs[i].Reactions, emoji, userID, now)
	return added, true
}

// Find returns the reconciled entry with the permanent id.
func (r *Reconciler) Find(id model.ID) (model.Message, bool) {
	if i := r.indexID(id); i >= 0 {
		return r.msgs[i].Clone(), true
	}
	return model.Message{}, false
}

// FindLocal returns the optimistic entry with localID.
func (r *Reconciler) FindLocal(localID string) (model.Message, bool) {
	if i := r.indexLocal(localID); i >= 0 {
		return r.msgs[i].Clone(), true
	}
	return model.Message{}, false
}

// Snapshot returns a copy of the list in receipt order.
func (r *Reconciler) Snapshot() []model.Message {
	out := make([]model.Message, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Clone()
	}
	return out
}

func (r *Reconciler) indexID(id model.ID) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(r.msgs, func(m model.Message) bool { return m.ID == id })
}

func (r *Reconciler) indexLocal(localID string) int {
	if localID == "" {
		return -1
	}
	return slices.IndexFunc(r.msgs, func(m model.Message) bool {
		return m.Optimistic() && m.LocalID == localID
	})
}

// merge builds the reconciled entry from its optimistic copy and the ack.
// Fields the ack leaves empty keep their optimistic value.
func merge(opt, ack model.Message) model.Message {
	out := ack.Clone()
	out.LocalID = ""
	if out.ChatID == "" {
		out.ChatID = opt.ChatID
	}
	if out.SenderID == "" {
		out.SenderID = opt.SenderID
	}
	if out.Kind == "" {
		out.Kind = opt.Kind
	}
	if out.Content.Text == "" && len(out.Content.Attachments) == 0 {
		out.Content = opt.Clone().Content
	}
	if out.ReplyToID == "" {
		out.ReplyToID = opt.ReplyToID
	}
	if out.Reactions == nil {
		out.Reactions = slices.Clone(opt.Reactions)
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = opt.CreatedAt
	}
	out.Status = model.StatusSending.Advance(ackStatus(ack.Status))
	return out
}

// ackStatus treats an ack without a status as sent.
func ackStatus(s model.Status) model.Status {
	if s == "" || s == model.StatusSending || s == model.StatusFailed {
		return model.StatusSent
	}
	return s
}
