package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"chat-plugin/internal/jobs"
	"chat-plugin/internal/models"
	"chat-plugin/internal/repositories"
)

// memStore implements every repository in memory with the semantics of the
// sqlx implementations.
type memStore struct {
	mu  sync.Mutex
	now func() time.Time

	users       map[int]models.User
	groups      []models.Group
	groupUsers  map[int][]int
	channels    map[int]*models.Channel
	dmUsers     map[int]map[int]bool
	memberships []*models.Membership
	messages    map[int]*models.Message
	revisions   []models.MessageRevision
	reactions   []models.Reaction
	notes       map[int]*models.Notification
	mentions    []models.Mention
	archives    map[int]*models.ChannelArchive
	topics      map[int]models.Topic
	posts       []models.Post
	reviewables map[int]*models.Reviewable
	flags       map[[2]int]bool

	seq int
	// failBatch, when set, is consulted before each archive batch commits.
	failBatch func(batch int) error
	batches   int
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now:         now,
		users:       map[int]models.User{},
		groupUsers:  map[int][]int{},
		channels:    map[int]*models.Channel{},
		dmUsers:     map[int]map[int]bool{},
		messages:    map[int]*models.Message{},
		notes:       map[int]*models.Notification{},
		archives:    map[int]*models.ChannelArchive{},
		topics:      map[int]models.Topic{},
		reviewables: map[int]*models.Reviewable{},
		flags:       map[[2]int]bool{},
	}
}

func (m *memStore) store() Store {
	return Store{
		Channels:      m,
		Memberships:   m,
		Messages:      m,
		Mentions:      m,
		Notifications: m,
		Reactions:     m,
		Users:         m,
		Archives:      m,
		Reviewables:   m,
	}
}

func (m *memStore) nextID() int {
	m.seq++
	return m.seq
}

// seeding

func (m *memStore) addUser(u models.User) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.nextID()
	}
	m.users[u.ID] = u
	return u
}

func (m *memStore) addGroup(name string, members ...int) models.Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := models.Group{ID: m.nextID(), Name: name, Mentionable: true}
	m.groups = append(m.groups, g)
	m.groupUsers[g.ID] = members
	return g
}

func (m *memStore) addChannel(ch models.Channel) models.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch.ID == 0 {
		ch.ID = m.nextID()
	}
	if ch.Status == "" {
		ch.Status = models.ChannelOpen
	}
	if ch.ChatableType == "" {
		ch.ChatableType = models.ChatableCategory
	}
	c := ch
	m.channels[ch.ID] = &c
	return ch
}

func (m *memStore) addTopic(title string) models.Topic {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := models.Topic{ID: m.nextID(), Title: title}
	m.topics[t.ID] = t
	return t
}

func (m *memStore) channel(id int) models.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.channels[id]
}

func (m *memStore) message(id int) models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.messages[id]
}

func (m *memStore) notificationsFor(userID int, kind models.NotificationType) []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.notes {
		if n.UserID == userID && n.NotificationType == kind {
			out = append(out, *n)
		}
	}
	return out
}

func (m *memStore) mentionedUsers(messageID int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mentionedLocked(messageID)
}

func (m *memStore) mentionedLocked(messageID int) []int {
	var out []int
	for _, mn := range m.mentions {
		if mn.ChatMessageID == messageID {
			out = append(out, mn.UserID)
		}
	}
	sort.Ints(out)
	return out
}

// channels

func (m *memStore) GetChannel(_ context.Context, channelID int) (models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok || ch.DeletedAt != nil {
		return models.Channel{}, repositories.ErrChannelNotFound
	}
	return *ch, nil
}

func (m *memStore) CreateChannel(_ context.Context, ch models.Channel) (models.Channel, error) {
	return m.addChannel(ch), nil
}

func (m *memStore) UpdateStatus(_ context.Context, channelID int, status models.ChannelStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return repositories.ErrChannelNotFound
	}
	ch.Status = status
	return nil
}

func (m *memStore) MarkUserCountStale(_ context.Context, channelID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok || ch.UserCountStale {
		return false, nil
	}
	ch.UserCountStale = true
	return true, nil
}

func (m *memStore) RefreshUserCount(_ context.Context, channelID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return 0, repositories.ErrChannelNotFound
	}
	count := 0
	for _, ms := range m.memberships {
		if ms.ChatChannelID == channelID && ms.Following {
			count++
		}
	}
	ch.UserCount, ch.UserCountStale = count, false
	return count, nil
}

func (m *memStore) SoftDeleteChannel(_ context.Context, channelID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok || ch.DeletedAt != nil {
		return repositories.ErrChannelNotFound
	}
	now := m.now()
	ch.DeletedAt = &now
	return nil
}

func (m *memStore) IsDirectMessageUser(_ context.Context, channelID int, userID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dmUsers[channelID][userID], nil
}

func (m *memStore) AddDirectMessageUsers(_ context.Context, channelID int, userIDs []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dmUsers[channelID] == nil {
		m.dmUsers[channelID] = map[int]bool{}
	}
	for _, id := range userIDs {
		m.dmUsers[channelID][id] = true
	}
	return nil
}

// memberships

func (m *memStore) findMembership(userID, channelID int) *models.Membership {
	for _, ms := range m.memberships {
		if ms.UserID == userID && ms.ChatChannelID == channelID {
			return ms
		}
	}
	return nil
}

func (m *memStore) GetMembership(_ context.Context, userID int, channelID int) (models.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.findMembership(userID, channelID)
	if ms == nil {
		return models.Membership{}, repositories.ErrMembershipNotFound
	}
	return *ms, nil
}

func (m *memStore) CreateMembership(_ context.Context, in models.Membership) (models.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms := m.findMembership(in.UserID, in.ChatChannelID); ms != nil {
		return *ms, nil
	}
	in.ID = m.nextID()
	ms := in
	m.memberships = append(m.memberships, &ms)
	return in, nil
}

func (m *memStore) membershipByID(id int) *models.Membership {
	for _, ms := range m.memberships {
		if ms.ID == id {
			return ms
		}
	}
	return nil
}

func (m *memStore) SetFollowing(_ context.Context, membershipID int, following bool) (models.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.membershipByID(membershipID)
	if ms == nil {
		return models.Membership{}, repositories.ErrMembershipNotFound
	}
	ms.Following = following
	return *ms, nil
}

func (m *memStore) UpdateSettings(_ context.Context, membershipID int, muted bool, desktop, mobile models.NotificationLevel) (models.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.membershipByID(membershipID)
	if ms == nil {
		return models.Membership{}, repositories.ErrMembershipNotFound
	}
	ms.Muted, ms.DesktopNotificationLevel, ms.MobileNotificationLevel = muted, desktop, mobile
	return *ms, nil
}

func (m *memStore) UnfollowAll(_ context.Context, channelID int, lastMessageID *int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, ms := range m.memberships {
		if ms.ChatChannelID == channelID && ms.Following {
			ms.Following = false
			ms.LastReadMessageID = lastMessageID
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListFollowing(_ context.Context, channelID int) ([]models.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Membership
	for _, ms := range m.memberships {
		if ms.ChatChannelID == channelID && ms.Following {
			out = append(out, *ms)
		}
	}
	return out, nil
}

func (m *memStore) ListForUsers(_ context.Context, channelID int, userIDs []int) ([]models.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := toSet(userIDs)
	var out []models.Membership
	for _, ms := range m.memberships {
		if ms.ChatChannelID == channelID && want[ms.UserID] {
			out = append(out, *ms)
		}
	}
	return out, nil
}

func (m *memStore) AdvanceLastRead(_ context.Context, userID int, channelID int, messageID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.findMembership(userID, channelID)
	if ms == nil || (ms.LastReadMessageID != nil && *ms.LastReadMessageID >= messageID) {
		return false, nil
	}
	id := messageID
	ms.LastReadMessageID = &id
	return true, nil
}

func (m *memStore) trackingLocked(ms *models.Membership) models.ChannelTracking {
	t := models.ChannelTracking{ChatChannelID: ms.ChatChannelID, Muted: ms.Muted, LastReadID: ms.LastReadMessageID}
	cursor := 0
	if ms.LastReadMessageID != nil {
		cursor = *ms.LastReadMessageID
	}
	for _, msg := range m.messages {
		if msg.ChatChannelID != ms.ChatChannelID || msg.Deleted() || msg.ID <= cursor {
			continue
		}
		if msg.UserID != ms.UserID {
			t.UnreadCount++
		}
	}
	for _, mn := range m.mentions {
		msg := m.messages[mn.ChatMessageID]
		if mn.UserID != ms.UserID || msg.ChatChannelID != ms.ChatChannelID || msg.Deleted() || msg.ID <= cursor {
			continue
		}
		if !m.notes[mn.NotificationID].Read {
			t.UnreadMentions++
		}
	}
	return t
}

func (m *memStore) TrackingState(_ context.Context, userID int) ([]models.ChannelTracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChannelTracking
	for _, ms := range m.memberships {
		if ms.UserID == userID && ms.Following && m.channels[ms.ChatChannelID].DeletedAt == nil {
			out = append(out, m.trackingLocked(ms))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatChannelID < out[j].ChatChannelID })
	return out, nil
}

func (m *memStore) ChannelTracking(_ context.Context, userID int, channelID int) (models.ChannelTracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.findMembership(userID, channelID)
	if ms == nil || !ms.Following {
		return models.ChannelTracking{}, repositories.ErrMembershipNotFound
	}
	return m.trackingLocked(ms), nil
}

// messages

func (m *memStore) CreateMessage(_ context.Context, msg models.Message) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.nextID()
	msg.CreatedAt, msg.UpdatedAt = m.now(), m.now()
	if msg.UploadIDs == nil {
		msg.UploadIDs = pq.Int64Array{}
	}
	stored := msg
	m.messages[msg.ID] = &stored
	return msg, nil
}

func (m *memStore) GetMessage(_ context.Context, messageID int) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return *msg, nil
}

func (m *memStore) GetMessages(_ context.Context, messageIDs []int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, id := range messageIDs {
		if msg, ok := m.messages[id]; ok {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *memStore) visibleLocked(q models.PageQuery) []models.Message {
	var out []models.Message
	for _, msg := range m.messages {
		if msg.ChatChannelID != q.ChannelID {
			continue
		}
		if msg.Deleted() && !q.IncludeDeleted && msg.UserID != q.ViewerID {
			continue
		}
		out = append(out, *msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) ListPage(_ context.Context, q models.PageQuery) ([]models.Message, models.PageMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.visibleLocked(q)
	// start and end bound the selected window inside all.
	var start, end int
	switch {
	case q.AnchorID == 0:
		end = len(all)
		start = max(0, end-q.PageSize)
	case q.Direction == models.DirectionFuture:
		start = sort.Search(len(all), func(i int) bool { return all[i].ID > q.AnchorID })
		end = min(len(all), start+q.PageSize)
	case q.Direction == models.DirectionAround:
		pivot := sort.Search(len(all), func(i int) bool { return all[i].ID >= q.AnchorID })
		start = max(0, pivot-q.PageSize/2)
		end = min(len(all), pivot+(q.PageSize-(pivot-start)))
	default:
		end = sort.Search(len(all), func(i int) bool { return all[i].ID >= q.AnchorID })
		start = max(0, end-q.PageSize)
	}
	meta := models.PageMeta{CanLoadMorePast: start > 0, CanLoadMoreFuture: end < len(all)}
	return append([]models.Message{}, all[start:end]...), meta, nil
}

func (m *memStore) UpdateContent(_ context.Context, messageID int, editorID int, raw, cooked string, uploadIDs []int64) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	m.revisions = append(m.revisions, models.MessageRevision{ChatMessageID: messageID, OldMessage: msg.Message, NewMessage: raw, UserID: editorID})
	msg.Message, msg.Cooked, msg.UploadIDs = raw, cooked, uploadIDs
	msg.Revision++
	return *msg, nil
}

func (m *memStore) SoftDelete(_ context.Context, messageID int, actorID int) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.Deleted() {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	now, actor := m.now(), actorID
	msg.DeletedAt, msg.DeletedByID = &now, &actor
	msg.Revision++
	return *msg, nil
}

func (m *memStore) Restore(_ context.Context, messageID int) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || !msg.Deleted() {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	msg.DeletedAt, msg.DeletedByID = nil, nil
	msg.Revision++
	return *msg, nil
}

func (m *memStore) CountDeletedBy(_ context.Context, userID int, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, msg := range m.messages {
		if msg.Deleted() && msg.UserID == userID && *msg.DeletedByID == userID && !msg.DeletedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) LastMessageID(_ context.Context, channelID int) (*int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *int
	for id, msg := range m.messages {
		if msg.ChatChannelID == channelID && (last == nil || id > *last) {
			v := id
			last = &v
		}
	}
	return last, nil
}

func (m *memStore) CountLive(_ context.Context, channelID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.liveLocked(channelID)), nil
}

func (m *memStore) liveLocked(channelID int) []models.Message {
	var out []models.Message
	for _, msg := range m.messages {
		if msg.ChatChannelID == channelID && !msg.Deleted() {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) NextLiveBatch(_ context.Context, channelID int, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := m.liveLocked(channelID)
	return live[:min(limit, len(live))], nil
}

// mentions and notifications

func (m *memStore) ListMentionedUserIDs(_ context.Context, messageID int) ([]int, error) {
	return m.mentionedUsers(messageID), nil
}

func (m *memStore) Reconcile(_ context.Context, rec repositories.MentionReconcile) (models.MentionDiff, []models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[rec.MessageID]
	if !ok {
		return models.MentionDiff{}, nil, repositories.ErrMessageNotFound
	}
	if msg.Revision != rec.Revision {
		return models.MentionDiff{}, nil, repositories.ErrStaleRevision
	}
	desired := rec.Desired
	if msg.Deleted() {
		desired = nil
	}
	diff := models.DiffMentions(m.mentionedLocked(msg.ID), desired)

	drop := toSet(diff.Destroy)
	kept := m.mentions[:0]
	for _, mn := range m.mentions {
		if mn.ChatMessageID == msg.ID && drop[mn.UserID] {
			delete(m.notes, mn.NotificationID)
			continue
		}
		kept = append(kept, mn)
	}
	m.mentions = kept

	var created []models.Notification
	for _, id := range diff.Create {
		kind, ok := rec.Types[id]
		if !ok {
			kind = models.NotificationChatMention
		}
		n := models.Notification{ID: m.nextID(), UserID: id, NotificationType: kind, Data: rec.Data, CreatedAt: m.now()}
		m.notes[n.ID] = &n
		m.mentions = append(m.mentions, models.Mention{ID: m.nextID(), ChatMessageID: msg.ID, UserID: id, NotificationID: n.ID})
		created = append(created, n)
	}
	return diff, created, nil
}

func (m *memStore) CreateNotification(_ context.Context, userID int, kind models.NotificationType, data any) (models.Notification, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return models.Notification{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := models.Notification{ID: m.nextID(), UserID: userID, NotificationType: kind, Data: raw, CreatedAt: m.now()}
	m.notes[n.ID] = &n
	return n, nil
}

func (m *memStore) MarkMentionsRead(_ context.Context, userID int, channelID int, upTo int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, mn := range m.mentions {
		msg := m.messages[mn.ChatMessageID]
		note := m.notes[mn.NotificationID]
		if mn.UserID == userID && msg.ChatChannelID == channelID && msg.ID <= upTo && !note.Read {
			note.Read = true
			n++
		}
	}
	return n, nil
}

// reactions

func (m *memStore) ListReactions(_ context.Context, messageIDs []int) ([]models.Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := toSet(messageIDs)
	var out []models.Reaction
	for _, r := range m.reactions {
		if want[r.ChatMessageID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) AddReaction(_ context.Context, messageID int, userID int, emoji string, maxDistinct int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	distinct := map[string]bool{}
	for _, r := range m.reactions {
		if r.ChatMessageID != messageID {
			continue
		}
		if r.UserID == userID && r.Emoji == emoji {
			return false, nil
		}
		distinct[r.Emoji] = true
	}
	if !distinct[emoji] && len(distinct) >= maxDistinct {
		return false, repositories.ErrTooManyReactions
	}
	m.reactions = append(m.reactions, models.Reaction{ID: m.nextID(), ChatMessageID: messageID, UserID: userID, Emoji: emoji})
	return true, nil
}

func (m *memStore) RemoveReaction(_ context.Context, messageID int, userID int, emoji string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.reactions {
		if r.ChatMessageID == messageID && r.UserID == userID && r.Emoji == emoji {
			m.reactions = append(m.reactions[:i], m.reactions[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// users

func (m *memStore) GetUser(_ context.Context, userID int) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return models.User{}, repositories.ErrUserNotFound
	}
	return u, nil
}

func (m *memStore) GetUsers(_ context.Context, userIDs []int) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, id := range userIDs {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) FindByUsernames(_ context.Context, usernames []string) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		for _, name := range usernames {
			if strings.EqualFold(u.Username, name) {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (m *memStore) FindMentionableGroups(_ context.Context, names []string) ([]models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Group
	for _, g := range m.groups {
		for _, name := range names {
			if g.Mentionable && strings.EqualFold(g.Name, name) {
				out = append(out, g)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) GroupMemberIDs(_ context.Context, groupIDs []int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[int]bool{}
	var out []int
	for _, gid := range groupIDs {
		for _, id := range m.groupUsers[gid] {
			if !seen[id] && m.users[id].ChatEnabled {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Ints(out)
	return out, nil
}

func (m *memStore) StaffIDs(_ context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for _, u := range m.users {
		if u.IsStaff() {
			out = append(out, u.ID)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (m *memStore) Silence(_ context.Context, userID int, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	if u.SilencedTill == nil || u.SilencedTill.Before(until) {
		u.SilencedTill = &until
	}
	m.users[userID] = u
	return nil
}

func (m *memStore) TouchLastSeen(_ context.Context, userID int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.LastSeenAt = &at
	m.users[userID] = u
	return nil
}

// Touch lets memStore stand in for presence.
func (m *memStore) Touch(ctx context.Context, userID int, at time.Time) error {
	return m.TouchLastSeen(ctx, userID, at)
}

func (m *memStore) SeenSince(_ context.Context, userIDs []int, since time.Time) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for _, id := range userIDs {
		if u, ok := m.users[id]; ok && u.LastSeenAt != nil && !u.LastSeenAt.Before(since) {
			out = append(out, id)
		}
	}
	return out, nil
}

// archives

func (m *memStore) CreateArchive(_ context.Context, a models.ChannelArchive) (models.ChannelArchive, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.archives {
		if existing.ChatChannelID == a.ChatChannelID {
			return *existing, false, nil
		}
	}
	a.ID = m.nextID()
	stored := a
	m.archives[a.ID] = &stored
	return a, true, nil
}

func (m *memStore) GetArchive(_ context.Context, archiveID int) (models.ChannelArchive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.archives[archiveID]
	if !ok {
		return models.ChannelArchive{}, repositories.ErrArchiveNotFound
	}
	return *a, nil
}

func (m *memStore) GetArchiveByChannel(_ context.Context, channelID int) (models.ChannelArchive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.archives {
		if a.ChatChannelID == channelID {
			return *a, nil
		}
	}
	return models.ChannelArchive{}, repositories.ErrArchiveNotFound
}

func (m *memStore) EnsureDestinationTopic(_ context.Context, archiveID int, firstPost string) (models.ChannelArchive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.archives[archiveID]
	if !ok {
		return models.ChannelArchive{}, repositories.ErrArchiveNotFound
	}
	if a.DestinationTopicID != nil {
		if _, ok := m.topics[*a.DestinationTopicID]; !ok {
			return models.ChannelArchive{}, repositories.ErrTopicNotFound
		}
		return *a, nil
	}
	t := models.Topic{ID: m.nextID(), Title: a.DestinationTopicTitle, UserID: a.ArchivedByID}
	m.topics[t.ID] = t
	m.posts = append(m.posts, models.Post{ID: m.nextID(), TopicID: t.ID, UserID: a.ArchivedByID, PostNumber: 1, Raw: firstPost})
	a.DestinationTopicID = &t.ID
	return *a, nil
}

func (m *memStore) ArchiveBatch(_ context.Context, archiveID int, topicID int, userID int, messageIDs []int, transcript string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	if m.failBatch != nil {
		if err := m.failBatch(m.batches); err != nil {
			return 0, err
		}
	}
	affected := 0
	now := m.now()
	for _, id := range messageIDs {
		if msg := m.messages[id]; msg != nil && !msg.Deleted() {
			actor := userID
			msg.DeletedAt, msg.DeletedByID = &now, &actor
			affected++
		}
	}
	if affected == 0 {
		return 0, nil
	}
	number := 0
	for _, p := range m.posts {
		if p.TopicID == topicID && p.PostNumber > number {
			number = p.PostNumber
		}
	}
	m.posts = append(m.posts, models.Post{ID: m.nextID(), TopicID: topicID, UserID: userID, PostNumber: number + 1, Raw: transcript})
	m.archives[archiveID].ArchivedMessages += affected
	return affected, nil
}

func (m *memStore) CompleteArchive(_ context.Context, archiveID int) (models.ChannelArchive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.archives[archiveID]
	if !ok {
		return models.ChannelArchive{}, repositories.ErrArchiveNotFound
	}
	now := m.now()
	a.CompletedAt, a.ArchiveError = &now, nil
	return *a, nil
}

func (m *memStore) FailArchive(_ context.Context, archiveID int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.archives[archiveID]
	if !ok {
		return repositories.ErrArchiveNotFound
	}
	a.ArchiveError = &reason
	return nil
}

func (m *memStore) ClearError(_ context.Context, archiveID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.archives[archiveID]
	if !ok {
		return repositories.ErrArchiveNotFound
	}
	a.ArchiveError = nil
	return nil
}

func (m *memStore) TopicExists(_ context.Context, topicID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.topics[topicID]
	return ok, nil
}

func (m *memStore) topicPosts(topicID int) []models.Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Post
	for _, p := range m.posts {
		if p.TopicID == topicID {
			out = append(out, p)
		}
	}
	return out
}

// reviewables

func (m *memStore) AddFlag(_ context.Context, msg models.Message, userID int, flagType models.FlagType, weight float64) (models.Reviewable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rv *models.Reviewable
	for _, r := range m.reviewables {
		if r.ChatMessageID == msg.ID {
			rv = r
		}
	}
	if rv == nil {
		rv = &models.Reviewable{ID: m.nextID(), ChatMessageID: msg.ID, ChatChannelID: msg.ChatChannelID, TargetCreatedByID: msg.UserID}
		m.reviewables[rv.ID] = rv
	}
	if m.flags[[2]int{rv.ID, userID}] {
		return models.Reviewable{}, repositories.ErrAlreadyFlagged
	}
	m.flags[[2]int{rv.ID, userID}] = true
	rv.Status = models.ReviewPending
	rv.Score += weight
	return *rv, nil
}

func (m *memStore) GetReviewable(_ context.Context, reviewableID int) (models.Reviewable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rv, ok := m.reviewables[reviewableID]
	if !ok {
		return models.Reviewable{}, repositories.ErrReviewableNotFound
	}
	return *rv, nil
}

func (m *memStore) SetStatus(_ context.Context, reviewableID int, status models.ReviewableStatus) (models.Reviewable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rv, ok := m.reviewables[reviewableID]
	if !ok {
		return models.Reviewable{}, repositories.ErrReviewableNotFound
	}
	rv.Status = status
	return *rv, nil
}

func toSet(ids []int) map[int]bool {
	out := make(map[int]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

type publishedEvent struct {
	Topic   string
	Data    any
	UserIDs []int
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, data any, userIDs []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: topic, Data: data, UserIDs: userIDs})
}

func (p *recordingPublisher) on(topic string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) chatEvents(topic, kind string) []publishedEvent {
	var out []publishedEvent
	for _, e := range p.on(topic) {
		if ev, ok := e.Data.(models.ChatEvent); ok && ev.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// recordingQueue holds enqueued jobs until a test drains them.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) take() []jobs.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.jobs
	q.jobs = nil
	return out
}

func (q *recordingQueue) kinds() []jobs.Kind {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []jobs.Kind
	for _, j := range q.jobs {
		out = append(out, j.Kind)
	}
	return out
}
