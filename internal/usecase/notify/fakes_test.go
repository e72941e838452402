package notify_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"school-notify/internal/domain/entity"
	"school-notify/internal/repository"
)

/*──────────────────── in-memory stubs ────────────────────*/

type memNotifications struct {
	mu        sync.Mutex
	rows      map[string]*entity.Notification
	seq       int
	createErr error
}

func newMemNotifications() *memNotifications {
	return &memNotifications{rows: map[string]*entity.Notification{}}
}

func (m *memNotifications) Create(_ context.Context, n *entity.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.seq++
	n.ID = uuid.NewString()
	// strictly increasing timestamps keep ordering deterministic
	n.CreatedAt = time.Date(2026, 1, 1, 0, 0, m.seq, 0, time.UTC)
	if len(n.Payload.Data) == 0 {
		n.Payload = entity.EmptyPayload()
	}
	cp := *n
	m.rows[n.ID] = &cp
	return nil
}

func (m *memNotifications) Get(_ context.Context, id string) (*entity.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (m *memNotifications) matching(recipientID string, f entity.NotificationFilter, now time.Time) []*entity.Notification {
	var out []*entity.Notification
	for _, n := range m.rows {
		if n.RecipientID != recipientID || n.Expired(now) {
			continue
		}
		if f.Type != nil && n.Type != *f.Type {
			continue
		}
		if f.Read != nil && n.Read != *f.Read {
			continue
		}
		if f.Priority != nil && n.Priority != *f.Priority {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memNotifications) List(_ context.Context, recipientID string, f entity.NotificationFilter, now time.Time) ([]*entity.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.matching(recipientID, f, now)
	if f.Offset >= len(all) {
		return nil, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	return all, nil
}

func (m *memNotifications) Count(_ context.Context, recipientID string, f entity.NotificationFilter, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.matching(recipientID, f, now))), nil
}

func (m *memNotifications) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return nil
	}
	n.Read = true
	if n.ReadAt == nil {
		at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		n.ReadAt = &at
	}
	return nil
}

func (m *memNotifications) MarkAllRead(_ context.Context, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed int64
	for _, n := range m.rows {
		if n.RecipientID == recipientID && !n.Read {
			n.Read = true
			changed++
		}
	}
	return changed, nil
}

func (m *memNotifications) Stats(_ context.Context, recipientID string) (*entity.NotificationStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &entity.NotificationStats{
		ByType:     map[entity.NotificationType]int64{},
		ByPriority: map[entity.Priority]int64{},
	}
	for _, n := range m.rows {
		if n.RecipientID != recipientID {
			continue
		}
		st.Total++
		st.ByType[n.Type]++
		if !n.Read {
			st.Unread++
			st.ByPriority[n.Priority]++
		}
	}
	return st, nil
}

func (m *memNotifications) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, row := range m.rows {
		if row.Expired(before) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

type gateKey struct {
	user string
	t    entity.NotificationType
}

type stubGate struct {
	flags map[gateKey]entity.ChannelFlags
	err   error
}

func (g *stubGate) Lookup(ctx context.Context, userID string, t entity.NotificationType) (entity.ChannelFlags, error) {
	if err := ctx.Err(); err != nil {
		return entity.ChannelFlags{}, err
	}
	if g.err != nil {
		return entity.ChannelFlags{}, g.err
	}
	if f, ok := g.flags[gateKey{userID, t}]; ok {
		return f, nil
	}
	return entity.DefaultChannelFlags, nil
}

func (g *stubGate) CanSend(ctx context.Context, userID string, t entity.NotificationType, ch entity.Channel) (bool, error) {
	f, err := g.Lookup(ctx, userID, t)
	if err != nil {
		return false, err
	}
	return f.Allows(ch), nil
}

type stubContacts map[string]*entity.Contact

func (c stubContacts) Get(_ context.Context, userID string) (*entity.Contact, error) {
	return c[userID], nil
}

type stubPushSubs struct {
	mu   sync.Mutex
	subs map[string][]*entity.PushSubscription
}

func (p *stubPushSubs) Upsert(_ context.Context, sub *entity.PushSubscription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs == nil {
		p.subs = map[string][]*entity.PushSubscription{}
	}
	p.subs[sub.UserID] = append(p.subs[sub.UserID], sub)
	return nil
}

func (p *stubPushSubs) ListByUser(ctx context.Context, userID string) ([]*entity.PushSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subs[userID], nil
}

func (p *stubPushSubs) Delete(_ context.Context, userID, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subs[userID] {
		if s.Token == token {
			p.subs[userID] = append(p.subs[userID][:i], p.subs[userID][i+1:]...)
			return nil
		}
	}
	return entity.ErrNotFound
}

type stubDeliveryLog struct {
	events []*entity.DeliveryEvent
}

func (l *stubDeliveryLog) Append(_ context.Context, ev *entity.DeliveryEvent) error {
	l.events = append(l.events, ev)
	return nil
}

func (l *stubDeliveryLog) Summary(_ context.Context, since time.Time) (map[entity.Channel]map[entity.DeliveryEventKind]int64, error) {
	out := map[entity.Channel]map[entity.DeliveryEventKind]int64{}
	for _, ev := range l.events {
		if ev.OccurredAt.Before(since) {
			continue
		}
		if out[ev.Channel] == nil {
			out[ev.Channel] = map[entity.DeliveryEventKind]int64{}
		}
		out[ev.Channel][ev.Event]++
	}
	return out, nil
}

type recordingBroadcaster struct {
	mu        sync.Mutex
	published []string
}

func (b *recordingBroadcaster) Publish(userID string, _ *entity.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, userID)
}

// failingQueue wraps a queue and refuses every enqueue.
type failingQueue struct {
	repository.DeliveryQueue
}

func (failingQueue) Enqueue(context.Context, *entity.DeliveryJob, int) (int64, error) {
	return 0, errors.New("queue unavailable")
}

// hangUpAfterCreate cancels the request context once the record is stored,
// like a client disconnecting mid-request.
type hangUpAfterCreate struct {
	*memNotifications
	cancel context.CancelFunc
}

func (h hangUpAfterCreate) Create(ctx context.Context, n *entity.Notification) error {
	err := h.memNotifications.Create(ctx, n)
	h.cancel()
	return err
}
