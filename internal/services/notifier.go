package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"chat-plugin/internal/jobs"
	"chat-plugin/internal/models"
	"chat-plugin/internal/observability"
	"chat-plugin/internal/repositories"
)

// Notifier resolves mentions and fans notifications out through jobs.
// Nothing it does after a message is stored fails the originating request.
type Notifier struct {
	deps     Deps
	guardian *Guardian
}

type candidate struct {
	user  models.User
	kind  models.NotificationType
	group bool
}

// Resolution is the outcome of resolving a message's mentions.
type Resolution struct {
	// Notify are capable, following users, in ascending id order.
	Notify            []int
	GroupMentioned    []int
	Identifier        string
	CannotSee         []models.UserRef
	WithoutMembership []models.UserRef
}

// Resolve turns the mentions in cooked into users to notify and warnings
// for the author.
func (n *Notifier) Resolve(ctx context.Context, authorID int, ch models.Channel, cooked string) (Resolution, error) {
	var res Resolution
	set := ExtractMentions(cooked)
	if set.Empty() {
		return res, nil
	}

	candidates := map[int]*candidate{}
	var identifiers []string

	if len(set.Usernames) > 0 {
		users, err := n.deps.Store.Users.FindByUsernames(ctx, set.Usernames)
		if err != nil {
			return res, err
		}
		for _, u := range users {
			candidates[u.ID] = &candidate{user: u, kind: models.NotificationChatMention}
		}
	}

	var groupIDs []int
	if set.All || set.Here {
		following, err := n.deps.Store.Memberships.ListFollowing(ctx, ch.ID)
		if err != nil {
			return res, err
		}
		ids := make([]int, 0, len(following))
		for _, m := range following {
			ids = append(ids, m.UserID)
		}
		if set.All {
			identifiers = append(identifiers, "all")
		} else {
			ids, err = n.deps.Presence.SeenSince(ctx, ids, n.deps.Now().Add(-n.deps.Limits.HereWindow))
			if err != nil {
				return res, err
			}
			identifiers = append(identifiers, "here")
		}
		groupIDs = append(groupIDs, ids...)
	}
	if len(set.Groups) > 0 {
		groups, err := n.deps.Store.Users.FindMentionableGroups(ctx, set.Groups)
		if err != nil {
			return res, err
		}
		ids := make([]int, 0, len(groups))
		for _, g := range groups {
			ids = append(ids, g.ID)
			identifiers = append(identifiers, strings.ToLower(g.Name))
		}
		members, err := n.deps.Store.Users.GroupMemberIDs(ctx, ids)
		if err != nil {
			return res, err
		}
		groupIDs = append(groupIDs, members...)
	}

	var missing []int
	for _, id := range groupIDs {
		if _, ok := candidates[id]; !ok {
			candidates[id] = &candidate{kind: models.NotificationChatGroupMention, group: true}
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		users, err := n.deps.Store.Users.GetUsers(ctx, missing)
		if err != nil {
			return res, err
		}
		for _, u := range users {
			candidates[u.ID].user = u
		}
	}
	delete(candidates, authorID)

	ids := make([]int, 0, len(candidates))
	for id, c := range candidates {
		if c.user.ID == 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	capable := make([]int, 0, len(ids))
	for _, id := range ids {
		c := candidates[id]
		if n.guardian.CanChat(c.user) && n.guardian.CanSeeChannel(ctx, c.user, ch) {
			capable = append(capable, id)
			continue
		}
		res.CannotSee = append(res.CannotSee, models.UserRef{ID: id, Username: c.user.Username})
	}

	memberships, err := n.deps.Store.Memberships.ListForUsers(ctx, ch.ID, capable)
	if err != nil {
		return res, err
	}
	following := make(map[int]bool, len(memberships))
	for _, m := range memberships {
		following[m.UserID] = m.Following
	}
	for _, id := range capable {
		c := candidates[id]
		if !following[id] {
			res.WithoutMembership = append(res.WithoutMembership, models.UserRef{ID: id, Username: c.user.Username})
			continue
		}
		res.Notify = append(res.Notify, id)
		if c.group {
			res.GroupMentioned = append(res.GroupMentioned, id)
		}
	}
	res.Identifier = strings.Join(identifiers, ",")
	return res, nil
}

// NotifyNew schedules mention and watching notifications of a freshly
// created message and warns the author about unreachable mentions.
func (n *Notifier) NotifyNew(ctx context.Context, author models.User, ch models.Channel, msg models.Message) {
	res, err := n.Resolve(ctx, author.ID, ch, msg.Cooked)
	if err != nil {
		n.fail(ctx, "resolve", msg.ID, err)
		return
	}
	n.enqueueMentions(ctx, msg, res)
	except := append([]int{author.ID}, res.Notify...)
	n.enqueue(ctx, jobs.KindNotifyWatching, jobs.NotifyWatching{MessageID: msg.ID, Except: except}, msg.ID)
	n.warn(ctx, author.ID, ch, msg, res)
}

// NotifyChanged schedules reconciliation after an edit or restore. Users
// already notified keep their notification and are not alerted again.
func (n *Notifier) NotifyChanged(ctx context.Context, actor models.User, ch models.Channel, msg models.Message) {
	res, err := n.Resolve(ctx, msg.UserID, ch, msg.Cooked)
	if err != nil {
		n.fail(ctx, "resolve", msg.ID, err)
		return
	}
	n.enqueueMentions(ctx, msg, res)
	n.warn(ctx, actor.ID, ch, msg, res)
}

// NotifyDeleted schedules removal of the notifications of a deleted message.
func (n *Notifier) NotifyDeleted(ctx context.Context, msg models.Message) {
	n.enqueueMentions(ctx, msg, Resolution{})
}

func (n *Notifier) enqueueMentions(ctx context.Context, msg models.Message, res Resolution) {
	n.enqueue(ctx, jobs.KindNotifyMentioned, jobs.NotifyMentioned{
		MessageID:      msg.ID,
		Revision:       msg.Revision,
		UserIDs:        res.Notify,
		GroupMentioned: res.GroupMentioned,
		Identifier:     res.Identifier,
	}, msg.ID)
}

func (n *Notifier) enqueue(ctx context.Context, kind jobs.Kind, payload any, messageID int) {
	job, err := jobs.New(kind, payload, n.deps.Limits.NotifyDelay)
	if err == nil {
		err = n.deps.Jobs.Enqueue(ctx, job)
	}
	if err != nil {
		n.fail(ctx, "enqueue", messageID, err)
	}
}

func (n *Notifier) warn(ctx context.Context, userID int, ch models.Channel, msg models.Message, res Resolution) {
	if len(res.CannotSee) == 0 && len(res.WithoutMembership) == 0 {
		return
	}
	n.deps.Publisher.Publish(ctx, ChannelTopic(ch.ID), models.ChatEvent{
		Type:              models.EventMentionWarning,
		MessageID:         msg.ID,
		CannotSee:         res.CannotSee,
		WithoutMembership: res.WithoutMembership,
	}, []int{userID})
}

func (n *Notifier) fail(ctx context.Context, stage string, messageID int, err error) {
	observability.IncFanoutFailure(stage)
	n.deps.Logger.ErrorContext(ctx, "mention fan-out failed", "stage", stage, "chat_message_id", messageID, "error", err)
}

// HandleNotifyMentioned reconciles mention notifications for one revision.
// Jobs computed against an older revision are dropped; the newer revision
// has its own job.
func (n *Notifier) HandleNotifyMentioned(ctx context.Context, p jobs.NotifyMentioned) error {
	msg, err := n.deps.Store.Messages.GetMessage(ctx, p.MessageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if msg.Revision != p.Revision {
		n.deps.Logger.Debug("stale mention job dropped", "chat_message_id", msg.ID, "job_revision", p.Revision, "revision", msg.Revision)
		return nil
	}
	ch, err := n.deps.Store.Channels.GetChannel(ctx, msg.ChatChannelID)
	if errors.Is(err, repositories.ErrChannelNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	author, err := n.deps.Store.Users.GetUser(ctx, msg.UserID)
	if err != nil {
		return err
	}

	kinds := make(map[int]models.NotificationType, len(p.GroupMentioned))
	for _, id := range p.GroupMentioned {
		kinds[id] = models.NotificationChatGroupMention
	}
	data, err := json.Marshal(models.MentionNotificationData{
		ChatMessageID:   msg.ID,
		ChatChannelID:   ch.ID,
		ChatChannelName: ch.Name,
		MentionedBy:     author.Username,
		IdentifierType:  p.Identifier,
	})
	if err != nil {
		return jobs.Permanent(err)
	}

	diff, created, err := n.deps.Store.Mentions.Reconcile(ctx, repositories.MentionReconcile{
		MessageID: msg.ID,
		Revision:  p.Revision,
		Desired:   p.UserIDs,
		Types:     kinds,
		Data:      data,
	})
	if errors.Is(err, repositories.ErrStaleRevision) {
		return nil
	}
	if err != nil {
		return err
	}
	observability.AddNotifications("mention", "created", len(diff.Create))
	observability.AddNotifications("mention", "destroyed", len(diff.Destroy))

	excerpt := Excerpt(msg.Message)
	for _, notification := range created {
		n.deps.Publisher.Publish(ctx, NotificationAlertTopic(notification.UserID), models.NotificationAlert{
			NotificationType: notification.NotificationType,
			ChatChannelID:    ch.ID,
			ChatMessageID:    msg.ID,
			Username:         author.Username,
			Excerpt:          excerpt,
		}, []int{notification.UserID})
		n.deps.Publisher.Publish(ctx, NewMentionsTopic(ch.ID), models.NewMessageEvent{
			MessageID: msg.ID,
			UserID:    msg.UserID,
		}, []int{notification.UserID})
	}
	return nil
}

// HandleNotifyWatching alerts members whose desktop or mobile level is
// "always" about a new message, skipping anyone in Except.
func (n *Notifier) HandleNotifyWatching(ctx context.Context, p jobs.NotifyWatching) error {
	msg, err := n.deps.Store.Messages.GetMessage(ctx, p.MessageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if msg.Deleted() {
		return nil
	}
	ch, err := n.deps.Store.Channels.GetChannel(ctx, msg.ChatChannelID)
	if errors.Is(err, repositories.ErrChannelNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	author, err := n.deps.Store.Users.GetUser(ctx, msg.UserID)
	if err != nil {
		return err
	}

	skip := make(map[int]bool, len(p.Except)+1)
	skip[msg.UserID] = true
	for _, id := range p.Except {
		skip[id] = true
	}
	members, err := n.deps.Store.Memberships.ListFollowing(ctx, ch.ID)
	if err != nil {
		return err
	}
	var ids []int
	for _, m := range members {
		if m.WantsEveryMessage() && !skip[m.UserID] {
			ids = append(ids, m.UserID)
		}
	}
	users, err := n.deps.Store.Users.GetUsers(ctx, ids)
	if err != nil {
		return err
	}

	alerted := 0
	excerpt := Excerpt(msg.Message)
	for _, u := range users {
		if !n.guardian.CanSeeChannel(ctx, u, ch) {
			continue
		}
		n.deps.Publisher.Publish(ctx, NotificationAlertTopic(u.ID), models.NotificationAlert{
			NotificationType: models.NotificationChatMessage,
			ChatChannelID:    ch.ID,
			ChatMessageID:    msg.ID,
			Username:         author.Username,
			Excerpt:          excerpt,
		}, []int{u.ID})
		alerted++
	}
	observability.AddNotifications("watching", "alerted", alerted)
	return nil
}

const excerptLength = 100

// Excerpt shortens raw text for alerts and reply previews.
func Excerpt(raw string) string {
	raw = strings.TrimSpace(raw)
	if utf8.RuneCountInString(raw) <= excerptLength {
		return raw
	}
	runes := []rune(raw)
	return string(runes[:excerptLength]) + "…"
}
