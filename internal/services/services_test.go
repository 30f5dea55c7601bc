package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-plugin/internal/apperrors"
	"chat-plugin/internal/config"
	"chat-plugin/internal/jobs"
	"chat-plugin/internal/models"
)

type harness struct {
	t     *testing.T
	ctx   context.Context
	now   time.Time
	store *memStore
	pub   *recordingPublisher
	queue *recordingQueue
	reg   *jobs.Registry
	svc   *Services
}

func testLimits() config.Chat {
	return config.Chat{
		MaxMessageLength: 6000,
		MaxReactions:     30,
		MaxDeletesPerDay: 10,
		HereWindow:       5 * time.Minute,
		NotifyDelay:      5 * time.Second,
		UserCountDelay:   5 * time.Second,
		ArchiveBatchSize: 100,
		DefaultPageSize:  50,
		MaxPageSize:      100,
		AutoSilenceScore: 3,
		AutoSilenceFor:   time.Hour,
		StaffFlagWeight:  5,
		SpamSilenceTrust: 3,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		pub:   &recordingPublisher{},
		queue: &recordingQueue{},
		reg:   jobs.NewRegistry(),
	}
	clock := func() time.Time { return h.now }
	h.store = newMemStore(clock)
	h.svc = New(Deps{
		Store:     h.store.store(),
		Publisher: h.pub,
		Jobs:      h.queue,
		Presence:  h.store,
		Limits:    testLimits(),
		Logger:    slogt.New(t),
		Now:       clock,
	})
	require.NoError(t, h.svc.RegisterJobs(h.reg))
	return h
}

// drain runs queued jobs, including the ones they enqueue, and returns the
// handler errors.
func (h *harness) drain() []error {
	var errs []error
	for {
		batch := h.queue.take()
		if len(batch) == 0 {
			return errs
		}
		for _, job := range batch {
			handler, ok := h.reg.Lookup(job.Kind)
			require.True(h.t, ok, "no handler for %s", job.Kind)
			if err := handler(h.ctx, job.Payload); err != nil {
				errs = append(errs, err)
			}
		}
	}
}

func (h *harness) mustDrain() {
	h.t.Helper()
	for _, err := range h.drain() {
		require.NoError(h.t, err)
	}
}

func (h *harness) user(name string, opts ...func(*models.User)) models.User {
	u := models.User{Username: name, ChatEnabled: true, TrustLevel: 1}
	for _, opt := range opts {
		opt(&u)
	}
	return h.store.addUser(u)
}

func staff(u *models.User) { u.Moderator = true }

func (h *harness) channel(opts ...func(*models.Channel)) models.Channel {
	ch := models.Channel{Name: "general"}
	for _, opt := range opts {
		opt(&ch)
	}
	return h.store.addChannel(ch)
}

func (h *harness) follow(u models.User, ch models.Channel) models.Membership {
	h.t.Helper()
	m, err := h.svc.Memberships.Follow(h.ctx, u, ch)
	require.NoError(h.t, err)
	return m
}

// post follows ch as u when needed and appends a message.
func (h *harness) post(u models.User, ch models.Channel, text string) models.Message {
	h.t.Helper()
	h.follow(u, ch)
	view, err := h.svc.Messages.Create(h.ctx, u, ch, CreateParams{Message: text})
	require.NoError(h.t, err)
	return view.Message
}

func (h *harness) edit(u models.User, ch models.Channel, msg models.Message, text string) {
	h.t.Helper()
	_, err := h.svc.Messages.Edit(h.ctx, u, ch, msg.ID, text, nil)
	require.NoError(h.t, err)
}

func requireCode(t *testing.T, err error, code apperrors.Code, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperrors.CodeOf(err), err.Error())
	if reason != "" {
		assert.Equal(t, reason, apperrors.ReasonOf(err))
	}
}

func TestFollowUnfollowPreservesPreferences(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice"), h.user("bob")
	ch := h.channel()
	h.follow(bob, ch)
	first := h.post(bob, ch, "before alice joined")

	m := h.follow(alice, ch)
	assert.True(t, m.Following)
	assert.Equal(t, models.NotifyAlways, m.DesktopNotificationLevel)
	assert.Equal(t, models.NotifyAlways, m.MobileNotificationLevel)
	require.NotNil(t, m.LastReadMessageID)
	assert.Equal(t, first.ID, *m.LastReadMessageID, "new members start at the channel tail")

	muted := true
	mention := models.NotifyMention
	_, err := h.svc.Memberships.UpdateNotificationSettings(h.ctx, alice, ch, NotificationSettings{Muted: &muted, Desktop: &mention})
	require.NoError(t, err)

	left, err := h.svc.Memberships.Unfollow(h.ctx, alice, ch)
	require.NoError(t, err)
	require.NotNil(t, left)
	assert.False(t, left.Following)

	again := h.follow(alice, ch)
	assert.Equal(t, m.ID, again.ID)
	assert.True(t, again.Following)
	assert.True(t, again.Muted)
	assert.Equal(t, models.NotifyMention, again.DesktopNotificationLevel)
	assert.Equal(t, models.NotifyAlways, again.MobileNotificationLevel)
}

func TestUnfollowWithoutMembershipReturnsNil(t *testing.T) {
	h := newHarness(t)
	m, err := h.svc.Memberships.Unfollow(h.ctx, h.user("alice"), h.channel())
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Empty(t, h.queue.kinds())
}

func TestFindMembershipWithoutChannelPanics(t *testing.T) {
	h := newHarness(t)
	assert.Panics(t, func() {
		_, _ = h.svc.Memberships.FindMembership(h.ctx, 1, nil, 0)
	})
}

func TestFollowIsIdempotentAndUserCountDebounced(t *testing.T) {
	h := newHarness(t)
	ch := h.channel()
	alice := h.user("alice")
	for _, u := range []models.User{alice, h.user("bob"), h.user("carol")} {
		h.follow(u, ch)
	}
	h.follow(alice, ch)

	assert.Equal(t, []jobs.Kind{jobs.KindUpdateUserCount}, h.queue.kinds(), "a burst of follows schedules one recount")
	h.mustDrain()

	got := h.store.channel(ch.ID)
	assert.Equal(t, 3, got.UserCount)
	assert.False(t, got.UserCountStale)
	events := h.pub.on(ChannelMetadataTopic)
	require.Len(t, events, 1)
	assert.Equal(t, models.ChannelMetadataEvent{ChatChannelID: ch.ID, MembershipsCount: 3}, events[0].Data)

	h.follow(alice, ch)
	assert.Empty(t, h.queue.kinds(), "following twice changes nothing")
}

func TestUserCountRecountsInlineWhenEnqueueFails(t *testing.T) {
	h := newHarness(t)
	h.queue.err = errors.New("broker down")
	ch := h.channel()
	h.follow(h.user("alice"), ch)

	got := h.store.channel(ch.ID)
	assert.Equal(t, 1, got.UserCount)
	assert.False(t, got.UserCountStale)
}

func TestChangeStatus(t *testing.T) {
	h := newHarness(t)
	mod := h.user("mod", staff)
	ch := h.channel()

	_, err := h.svc.Memberships.ChangeStatus(h.ctx, h.user("alice"), ch, models.ChannelClosed)
	requireCode(t, err, apperrors.CodePermissionDenied, apperrors.ReasonNotAllowed)

	closed, err := h.svc.Memberships.ChangeStatus(h.ctx, mod, ch, models.ChannelClosed)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelClosed, closed.Status)
	assert.Len(t, h.pub.on(ChannelStatusTopic), 1)

	_, err = h.svc.Memberships.ChangeStatus(h.ctx, mod, closed, models.ChannelArchived)
	requireCode(t, err, apperrors.CodeFailedPrecondition, apperrors.ReasonInvalidStatus)
}

func TestDeleteChannelUnfollowsEveryone(t *testing.T) {
	h := newHarness(t)
	mod, alice := h.user("mod", staff), h.user("alice")
	ch := h.channel()
	h.follow(alice, ch)
	last := h.post(alice, ch, "bye")

	require.NoError(t, h.svc.Memberships.DeleteChannel(h.ctx, mod, ch))

	m, err := h.store.GetMembership(h.ctx, alice.ID, ch.ID)
	require.NoError(t, err)
	assert.False(t, m.Following)
	assert.Equal(t, last.ID, *m.LastReadMessageID)
	_, err = h.svc.GetChannel(h.ctx, ch.ID)
	requireCode(t, err, apperrors.CodeNotFound, "")
}

func TestCreateMessageGuards(t *testing.T) {
	h := newHarness(t)
	alice, mod := h.user("alice"), h.user("mod", staff)
	open := h.channel()
	other := h.channel()
	reply := h.post(alice, other, "elsewhere")
	h.follow(alice, open)
	unfollowed := h.user("leaver")
	h.follow(unfollowed, open)
	_, err := h.svc.Memberships.Unfollow(h.ctx, unfollowed, open)
	require.NoError(t, err)

	tests := []struct {
		name   string
		user   models.User
		ch     models.Channel
		params CreateParams
		code   apperrors.Code
		reason string
	}{
		{"read only", alice, h.channel(func(c *models.Channel) { c.Status = models.ChannelReadOnly }), CreateParams{Message: "hi"}, apperrors.CodePermissionDenied, apperrors.ReasonChannelNotModifiable},
		{"archived", mod, h.channel(func(c *models.Channel) { c.Status = models.ChannelArchived }), CreateParams{Message: "hi"}, apperrors.CodePermissionDenied, apperrors.ReasonChannelNotModifiable},
		{"closed for members", alice, h.channel(func(c *models.Channel) { c.Status = models.ChannelClosed }), CreateParams{Message: "hi"}, apperrors.CodePermissionDenied, apperrors.ReasonChannelNotModifiable},
		{"blank", alice, open, CreateParams{Message: "  \n"}, apperrors.CodeInvalidArgument, apperrors.ReasonMessageBlank},
		{"too long", alice, open, CreateParams{Message: strings.Repeat("x", 6001)}, apperrors.CodeInvalidArgument, apperrors.ReasonMessageTooLong},
		{"reply elsewhere", alice, open, CreateParams{Message: "hi", InReplyToID: &reply.ID}, apperrors.CodeInvalidArgument, apperrors.ReasonInvalidReply},
		{"chat disabled", h.user("off", func(u *models.User) { u.ChatEnabled = false }), open, CreateParams{Message: "hi"}, apperrors.CodePermissionDenied, apperrors.ReasonNotAllowed},
		{"silenced", h.user("quiet", func(u *models.User) { until := h.now.Add(time.Hour); u.SilencedTill = &until }), open, CreateParams{Message: "hi"}, apperrors.CodePermissionDenied, apperrors.ReasonSilenced},
		{"not following", h.user("lurker"), open, CreateParams{Message: "hi"}, apperrors.CodePermissionDenied, apperrors.ReasonNotFollowing},
		{"unfollowed", unfollowed, open, CreateParams{Message: "hi"}, apperrors.CodePermissionDenied, apperrors.ReasonNotFollowing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Messages.Create(h.ctx, tt.user, tt.ch, tt.params)
			requireCode(t, err, tt.code, tt.reason)
		})
	}

	closed := h.channel(func(c *models.Channel) { c.Status = models.ChannelClosed })
	h.follow(mod, closed)
	_, err = h.svc.Messages.Create(h.ctx, mod, closed, CreateParams{Message: "staff may post"})
	assert.NoError(t, err)
	_, err = h.svc.Messages.Create(h.ctx, alice, open, CreateParams{UploadIDs: []int{7}})
	assert.NoError(t, err, "uploads alone are not blank")
}

func TestCreatePublishesSentAndAdvancesAuthorCursor(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice")
	ch := h.channel()
	h.follow(alice, ch)
	target := h.post(alice, ch, "first")
	h.pub.reset()

	view, err := h.svc.Messages.Create(h.ctx, alice, ch, CreateParams{Message: "second", StagedID: "staged-1", InReplyToID: &target.ID})
	require.NoError(t, err)
	require.NotNil(t, view.InReplyTo)
	assert.Equal(t, models.ReplySnapshot{ID: target.ID, UserID: alice.ID, Excerpt: "first"}, *view.InReplyTo)

	sent := h.pub.chatEvents(ChannelTopic(ch.ID), models.EventSent)
	require.Len(t, sent, 1)
	ev := sent[0].Data.(models.ChatEvent)
	assert.Equal(t, "staged-1", ev.StagedID)
	assert.Equal(t, view.ID, ev.Message.ID)
	assert.Len(t, h.pub.on(NewMessagesTopic(ch.ID)), 1)
	assert.Greater(t, view.ID, target.ID)

	m, err := h.store.GetMembership(h.ctx, alice.ID, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, view.ID, *m.LastReadMessageID)
}

func TestEditUnchangedIsNoop(t *testing.T) {
	h := newHarness(t)
	alice := h.user("alice")
	ch := h.channel()
	msg := h.post(alice, ch, "same")
	h.mustDrain()
	h.pub.reset()

	h.edit(alice, ch, msg, "same")
	assert.Equal(t, 0, h.store.message(msg.ID).Revision)
	assert.Empty(t, h.pub.events)
	assert.Empty(t, h.queue.kinds())

	_, err := h.svc.Messages.Edit(h.ctx, h.user("bob"), ch, msg.ID, "hijack", nil)
	requireCode(t, err, apperrors.CodePermissionDenied, apperrors.ReasonNotAllowed)

	h.edit(h.user("mod", staff), ch, msg, "moderated")
	assert.Equal(t, 1, h.store.message(msg.ID).Revision)
	assert.Len(t, h.store.revisions, 1)
	assert.Len(t, h.pub.chatEvents(ChannelTopic(ch.ID), models.EventEdit), 1)
}

func TestMentionNotificationsFollowEdits(t *testing.T) {
	h := newHarness(t)
	author := h.user("author")
	a, b, c := h.user("a"), h.user("b"), h.user("c")
	ch := h.channel()
	for _, u := range []models.User{author, a, b, c} {
		h.follow(u, ch)
	}
	h.mustDrain()

	msg := h.post(author, ch, "hey @a and @B")
	h.mustDrain()
	assert.Equal(t, []int{a.ID, b.ID}, h.store.mentionedUsers(msg.ID))
	bNotes := h.store.notificationsFor(b.ID, models.NotificationChatMention)
	require.Len(t, bNotes, 1)
	assert.Len(t, h.pub.on(NotificationAlertTopic(a.ID)), 1)

	h.edit(author, h.store.channel(ch.ID), msg, "hey @b and @c")
	h.mustDrain()
	assert.Equal(t, []int{b.ID, c.ID}, h.store.mentionedUsers(msg.ID))
	assert.Empty(t, h.store.notificationsFor(a.ID, models.NotificationChatMention))
	again := h.store.notificationsFor(b.ID, models.NotificationChatMention)
	require.Len(t, again, 1)
	assert.Equal(t, bNotes[0].ID, again[0].ID, "unchanged mentions keep their notification")

	h.edit(author, ch, h.store.message(msg.ID), "just @b")
	h.mustDrain()
	assert.Equal(t, []int{b.ID}, h.store.mentionedUsers(msg.ID))

	require.NoError(t, h.svc.Messages.Delete(h.ctx, author, ch, msg.ID))
	h.mustDrain()
	assert.Empty(t, h.store.mentionedUsers(msg.ID))

	_, err := h.svc.Messages.Restore(h.ctx, author, ch, msg.ID)
	require.NoError(t, err)
	h.mustDrain()
	assert.Equal(t, []int{b.ID}, h.store.mentionedUsers(msg.ID))
}

func TestStaleMentionJobIsDropped(t *testing.T) {
	h := newHarness(t)
	author, a, b := h.user("author"), h.user("a"), h.user("b")
	ch := h.channel()
	for _, u := range []models.User{author, a, b} {
		h.follow(u, ch)
	}
	h.mustDrain()

	msg := h.post(author, ch, "@a")
	h.edit(author, ch, msg, "@b")
	h.mustDrain()

	assert.Equal(t, []int{b.ID}, h.store.mentionedUsers(msg.ID))
	assert.Empty(t, h.store.notificationsFor(a.ID, models.NotificationChatMention))
	assert.Empty(t, h.pub.on(NotificationAlertTopic(a.ID)), "the superseded revision must not alert")
}

func TestMentionWarningsGoToAuthorOnly(t *testing.T) {
	h := newHarness(t)
	author := h.user("author")
	outsider := h.user("outsider")
	disabled := h.user("disabled", func(u *models.User) { u.ChatEnabled = false })
	ch := h.channel()
	h.follow(author, ch)

	msg := h.post(author, ch, "ping @outsider @disabled @author")
	warnings := h.pub.chatEvents(ChannelTopic(ch.ID), models.EventMentionWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, []int{author.ID}, warnings[0].UserIDs)
	ev := warnings[0].Data.(models.ChatEvent)
	assert.Equal(t, msg.ID, ev.MessageID)
	assert.Equal(t, []models.UserRef{{ID: disabled.ID, Username: "disabled"}}, ev.CannotSee)
	assert.Equal(t, []models.UserRef{{ID: outsider.ID, Username: "outsider"}}, ev.WithoutMembership)

	h.mustDrain()
	assert.Empty(t, h.store.mentionedUsers(msg.ID), "self mentions and unreachable users get nothing")
}

func TestRestrictedChannelMentionIsCannotSee(t *testing.T) {
	h := newHarness(t)
	insider := h.user("insider", func(u *models.User) { u.GroupIDs = []int{42} })
	outsider := h.user("outsider")
	ch := h.channel(func(c *models.Channel) {
		c.ReadRestricted = true
		c.AllowedGroupIDs = []int64{42}
	})
	h.follow(insider, ch)

	res, err := h.svc.Notifier.Resolve(h.ctx, insider.ID, ch, `<p><a class="mention" href="/u/outsider">@outsider</a></p>`)
	require.NoError(t, err)
	assert.Equal(t, []models.UserRef{{ID: outsider.ID, Username: "outsider"}}, res.CannotSee)
	assert.Empty(t, res.Notify)
}

func TestHereMentionsOnlyRecentlySeenFollowers(t *testing.T) {
	h := newHarness(t)
	author, active, idle := h.user("author"), h.user("active"), h.user("idle")
	ch := h.channel()
	for _, u := range []models.User{author, active, idle} {
		h.follow(u, ch)
	}
	require.NoError(t, h.store.Touch(h.ctx, active.ID, h.now.Add(-time.Minute)))
	require.NoError(t, h.store.Touch(h.ctx, idle.ID, h.now.Add(-time.Hour)))

	msg := h.post(author, ch, "@here standup")
	h.mustDrain()

	assert.Equal(t, []int{active.ID}, h.store.mentionedUsers(msg.ID))
	notes := h.store.notificationsFor(active.ID, models.NotificationChatGroupMention)
	require.Len(t, notes, 1)
	assert.Contains(t, string(notes[0].Data), `"identifier":"here"`)
}

func TestAllAndGroupMentions(t *testing.T) {
	h := newHarness(t)
	author, a, b := h.user("author"), h.user("a"), h.user("b")
	ch := h.channel()
	for _, u := range []models.User{author, a, b} {
		h.follow(u, ch)
	}
	h.store.addGroup("designers", b.ID, author.ID)

	all := h.post(author, ch, "@all hello")
	group := h.post(author, ch, "@designers review please, @a too")
	h.mustDrain()

	assert.Equal(t, []int{a.ID, b.ID}, h.store.mentionedUsers(all.ID))
	assert.Equal(t, []int{a.ID, b.ID}, h.store.mentionedUsers(group.ID))
	assert.Len(t, h.store.notificationsFor(a.ID, models.NotificationChatMention), 1, "direct mention keeps its type")
	assert.Len(t, h.store.notificationsFor(b.ID, models.NotificationChatGroupMention), 2)
}

func TestWatchingAlertsSkipMentionedAndMuted(t *testing.T) {
	h := newHarness(t)
	author, watcher, mentioned, muted, quiet := h.user("author"), h.user("watcher"), h.user("mentioned"), h.user("muted"), h.user("quiet")
	ch := h.channel()
	for _, u := range []models.User{author, watcher, mentioned, muted, quiet} {
		h.follow(u, ch)
	}
	yes := true
	never := models.NotifyNever
	_, err := h.svc.Memberships.UpdateNotificationSettings(h.ctx, muted, ch, NotificationSettings{Muted: &yes})
	require.NoError(t, err)
	_, err = h.svc.Memberships.UpdateNotificationSettings(h.ctx, quiet, ch, NotificationSettings{Desktop: &never, Mobile: &never})
	require.NoError(t, err)

	msg := h.post(author, ch, "hello @mentioned")
	h.mustDrain()

	alerts := h.pub.on(NotificationAlertTopic(watcher.ID))
	require.Len(t, alerts, 1)
	assert.Equal(t, models.NotificationAlert{
		NotificationType: models.NotificationChatMessage,
		ChatChannelID:    ch.ID,
		ChatMessageID:    msg.ID,
		Username:         "author",
		Excerpt:          "hello @mentioned",
	}, alerts[0].Data)

	mentionAlerts := h.pub.on(NotificationAlertTopic(mentioned.ID))
	require.Len(t, mentionAlerts, 1)
	assert.Equal(t, models.NotificationChatMention, mentionAlerts[0].Data.(models.NotificationAlert).NotificationType)
	assert.Empty(t, h.pub.on(NotificationAlertTopic(muted.ID)))
	assert.Empty(t, h.pub.on(NotificationAlertTopic(quiet.ID)))
	assert.Empty(t, h.pub.on(NotificationAlertTopic(author.ID)))
}

func TestReactionsAreIdempotentAndCapped(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user("alice"), h.user("bob")
	ch := h.channel()
	h.follow(alice, ch)
	h.follow(bob, ch)
	msg := h.post(alice, ch, "react to me")
	h.pub.reset()
	react := func(u models.User, emoji string, action models.ReactAction) (bool, error) {
		return h.svc.Reactions.React(h.ctx, u, ch, msg.ID, ReactRequest{Emoji: emoji, Action: action})
	}

	changed, err := react(alice, "heart", models.ReactAdd)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = react(alice, "heart", models.ReactAdd)
	require.NoError(t, err)
	assert.False(t, changed)
	changed, err = react(bob, "tada", models.ReactRemove)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, h.pub.chatEvents(ChannelTopic(ch.ID), models.EventReaction), 1)

	for i := 1; i < 30; i++ {
		_, err := react(bob, fmt.Sprintf("emoji_%d", i), models.ReactAdd)
		require.NoError(t, err)
	}
	_, err = react(bob, "one_too_many", models.ReactAdd)
	requireCode(t, err, apperrors.CodeFailedPrecondition, apperrors.ReasonTooManyReactions)
	changed, err = react(bob, "heart", models.ReactAdd)
	require.NoError(t, err)
	assert.True(t, changed, "existing emoji can still gain users at the cap")

	views, _, err := h.svc.Messages.ListPage(h.ctx, alice, ch, PageParams{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Len(t, views[0].Reactions, 30)
	assert.Equal(t, models.ReactionSummary{Emoji: "heart", Count: 2, UserIDs: []int{alice.ID, bob.ID}}, views[0].Reactions[0])
}

func TestReactionGuards(t *testing.T) {
	h := newHarness(t)
	alice, stranger := h.user("alice"), h.user("stranger")
	ch := h.channel()
	h.follow(alice, ch)
	msg := h.post(alice, ch, "hi")

	_, err := h.svc.Reactions.React(h.ctx, alice, ch, msg.ID, ReactRequest{Emoji: "Not Valid", Action: models.ReactAdd})
	requireCode(t, err, apperrors.CodeInvalidArgument, apperrors.ReasonInvalidEmoji)
	_, err = h.svc.Reactions.React(h.ctx, alice, ch, msg.ID, ReactRequest{Emoji: "heart", Action: "toggle"})
	requireCode(t, err, apperrors.CodeInvalidArgument, apperrors.ReasonInvalidReactAction)
	_, err = h.svc.Reactions.React(h.ctx, stranger, ch, msg.ID, ReactRequest{Emoji: "heart", Action: models.ReactAdd})
	requireCode(t, err, apperrors.CodePermissionDenied, apperrors.ReasonNotFollowing)

	require.NoError(t, h.store.UpdateStatus(h.ctx, ch.ID, models.ChannelReadOnly))
	_, err = h.svc.Reactions.React(h.ctx, alice, h.store.channel(ch.ID), msg.ID, ReactRequest{Emoji: "heart", Action: models.ReactAdd})
	requireCode(t, err, apperrors.CodePermissionDenied, apperrors.ReasonChannelNotModifiable)
}

func TestDeleteQuotaAndRestorePermissions(t *testing.T) {
	h := newHarness(t)
	alice, bob, mod := h.user("alice"), h.user("bob"), h.user("mod", staff)
	ch := h.channel()

	var msgs []models.Message
	for i := 0; i < 11; i++ {
		msgs = append(msgs, h.post(alice, ch, fmt.Sprintf("message %d", i)))
	}
	for _, m := range msgs[:10] {
		require.NoError(t, h.svc.Messages.Delete(h.ctx, alice, ch, m.ID))
	}
	err := h.svc.Messages.Delete(h.ctx, alice, ch, msgs[10].ID)
	requireCode(t, err, apperrors.CodeRateLimited, apperrors.ReasonDeleteQuotaExceeded)

	h.now = h.now.Add(25 * time.Hour)
	require.NoError(t, h.svc.Messages.Delete(h.ctx, alice, ch, msgs[10].ID), "the quota is per 24 hours")

	other := h.post(bob, ch, "bob's")
	err = h.svc.Messages.Delete(h.ctx, alice, ch, other.ID)
	requireCode(t, err, apperrors.CodePermissionDenied, apperrors.ReasonNotAllowed)
	require.NoError(t, h.svc.Messages.Delete(h.ctx, mod, ch, other.ID))

	_, err = h.svc.Messages.Restore(h.ctx, bob, ch, other.ID)
	requireCode(t, err, apperrors.CodePermissionDenied, apperrors.ReasonNotAllowed)
	_, err = h.svc.Messages.Restore(h.ctx, alice, ch, msgs[0].ID)
	require.NoError(t, err)
	_, err = h.svc.Messages.Restore(h.ctx, mod, ch, other.ID)
	require.NoError(t, err)
	assert.Len(t, h.pub.chatEvents(ChannelTopic(ch.ID), models.EventRestore), 2)
}

func TestListPageHidesOthersDeletedMessages(t *testing.T) {
	h := newHarness(t)
	alice, bob, mod := h.user("alice"), h.user("bob"), h.user("mod", staff)
	ch := h.channel()
	var ids []int
	for i := 0; i < 5; i++ {
		ids = append(ids, h.post(alice, ch, fmt.Sprintf("m%d", i)).ID)
	}
	require.NoError(t, h.svc.Messages.Delete(h.ctx, alice, ch, ids[2]))

	idsOf := func(views []models.MessageView) []int {
		var out []int
		for _, v := range views {
			out = append(out, v.ID)
		}
		return out
	}
	page, _, err := h.svc.Messages.ListPage(h.ctx, bob, ch, PageParams{})
	require.NoError(t, err)
	assert.Equal(t, []int{ids[0], ids[1], ids[3], ids[4]}, idsOf(page))

	for _, viewer := range []models.User{alice, mod} {
		page, _, err = h.svc.Messages.ListPage(h.ctx, viewer, ch, PageParams{})
		require.NoError(t, err)
		assert.Equal(t, ids, idsOf(page), viewer.Username)
	}

	page, meta, err := h.svc.Messages.ListPage(h.ctx, bob, ch, PageParams{TargetMessageID: ids[3], Direction: models.DirectionPast, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, []int{ids[1]}, idsOf(page))
	assert.Equal(t, models.PageMeta{CanLoadMorePast: true, CanLoadMoreFuture: true}, meta)

	_, _, err = h.svc.Messages.ListPage(h.ctx, bob, ch, PageParams{Direction: "sideways"})
	requireCode(t, err, apperrors.CodeInvalidArgument, "")
}

func TestUnreadCountsEndToEnd(t *testing.T) {
	h := newHarness(t)
	reader, writer := h.user("reader"), h.user("writer")
	ch := h.channel()
	h.follow(reader, ch)
	h.follow(writer, ch)

	m1 := h.post(writer, ch, "hi @reader")
	m2 := h.post(writer, ch, "second")
	h.post(writer, ch, "third")
	h.mustDrain()

	state, err := h.svc.Messages.TrackingState(h.ctx, reader)
	require.NoError(t, err)
	if diff := cmp.Diff(map[int]models.TrackingUpdate{ch.ID: {ChatChannelID: ch.ID, UnreadCount: 3, Mentions: 1}}, state); diff != "" {
		t.Fatalf("tracking mismatch (-want +got):\n%s", diff)
	}
	state, err = h.svc.Messages.TrackingState(h.ctx, writer)
	require.NoError(t, err)
	assert.Zero(t, state[ch.ID].UnreadCount, "own messages are never unread")

	update, err := h.svc.Messages.UpdateReadCursor(h.ctx, reader, ch, m2.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, update.UnreadCount)
	assert.Zero(t, update.Mentions)
	assert.Len(t, h.pub.on(TrackingStateTopic(reader.ID)), 1)

	back, err := h.svc.Messages.UpdateReadCursor(h.ctx, reader, ch, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, m2.ID, *back.ChatMessageID, "the cursor never moves backwards")
	assert.Len(t, h.pub.on(TrackingStateTopic(reader.ID)), 1)

	yes := true
	_, err = h.svc.Memberships.UpdateNotificationSettings(h.ctx, reader, ch, NotificationSettings{Muted: &yes})
	require.NoError(t, err)
	state, err = h.svc.Messages.TrackingState(h.ctx, reader)
	require.NoError(t, err)
	assert.Zero(t, state[ch.ID].UnreadCount, "muted channels report zero")

	_, err = h.svc.Messages.UpdateReadCursor(h.ctx, h.user("stranger"), ch, m2.ID)
	requireCode(t, err, apperrors.CodeFailedPrecondition, apperrors.ReasonNotFollowing)
}

func TestInviteSkipsFollowersAndInvisibleUsers(t *testing.T) {
	h := newHarness(t)
	host, member, guest := h.user("host"), h.user("member"), h.user("guest")
	disabled := h.user("disabled", func(u *models.User) { u.ChatEnabled = false })
	ch := h.channel()
	h.follow(host, ch)
	h.follow(member, ch)
	msg := h.post(host, ch, "come see")

	invited, err := h.svc.Invites.Invite(h.ctx, host, ch, []int{member.ID, guest.ID, disabled.ID, host.ID}, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{guest.ID}, invited)
	assert.Len(t, h.store.notificationsFor(guest.ID, models.NotificationChatInvitation), 1)
	assert.Len(t, h.pub.on(NotificationAlertTopic(guest.ID)), 1)
}
