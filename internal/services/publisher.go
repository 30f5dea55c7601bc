package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Publisher delivers realtime events to subscribers of a topic. A non-empty
// userIDs restricts delivery to those users. Delivery order per topic
// follows call order.
type Publisher interface {
	Publish(ctx context.Context, topic string, data any, userIDs []int)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any, []int) {}

const (
	ChannelStatusTopic   = "/chat/channel-status"
	ChannelMetadataTopic = "/chat/channel-metadata"
)

func ChannelTopic(channelID int) string {
	return fmt.Sprintf("/chat/%d", channelID)
}

func NewMessagesTopic(channelID int) string {
	return fmt.Sprintf("/chat/%d/new_messages", channelID)
}

func NewMentionsTopic(channelID int) string {
	return fmt.Sprintf("/chat/%d/new_mentions", channelID)
}

func ReplyTopic(channelID int) string {
	return fmt.Sprintf("/chat-reply/%d", channelID)
}

func NotificationAlertTopic(userID int) string {
	return fmt.Sprintf("/chat/notification-alert/%d", userID)
}

func TrackingStateTopic(userID int) string {
	return fmt.Sprintf("/chat/user-tracking-state/%d", userID)
}

// TopicScope classifies a subscription topic.
type TopicScope int

const (
	ScopeInvalid TopicScope = iota
	ScopeGlobal
	ScopeChannel
	ScopeUser
)

// ParseTopic returns the scope of topic and the channel or user id it
// names.
func ParseTopic(topic string) (TopicScope, int) {
	switch topic {
	case ChannelStatusTopic, ChannelMetadataTopic:
		return ScopeGlobal, 0
	}
	if rest, ok := strings.CutPrefix(topic, "/chat-reply/"); ok {
		return idScope(ScopeChannel, rest)
	}
	for _, prefix := range []string{"/chat/notification-alert/", "/chat/user-tracking-state/"} {
		if rest, ok := strings.CutPrefix(topic, prefix); ok {
			return idScope(ScopeUser, rest)
		}
	}
	rest, ok := strings.CutPrefix(topic, "/chat/")
	if !ok {
		return ScopeInvalid, 0
	}
	id, suffix, _ := strings.Cut(rest, "/")
	switch suffix {
	case "", "new_messages", "new_mentions":
		return idScope(ScopeChannel, id)
	}
	return ScopeInvalid, 0
}

func idScope(scope TopicScope, raw string) (TopicScope, int) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return ScopeInvalid, 0
	}
	return scope, id
}

// SubscriptionAuthorizer decides whether a user may subscribe to a topic.
type SubscriptionAuthorizer struct {
	services *Services
}

// NewSubscriptionAuthorizer constructs the authorizer used by the websocket
// endpoint.
func NewSubscriptionAuthorizer(s *Services) *SubscriptionAuthorizer {
	return &SubscriptionAuthorizer{services: s}
}

// CanSubscribe allows global topics to chat users, user topics to their
// owner and channel topics to users who can see the channel.
func (a *SubscriptionAuthorizer) CanSubscribe(ctx context.Context, userID int, topic string) bool {
	scope, id := ParseTopic(topic)
	if scope == ScopeInvalid {
		return false
	}
	if scope == ScopeUser {
		return id == userID
	}
	user, err := a.services.GetUser(ctx, userID)
	if err != nil || !a.services.Guardian.CanChat(user) {
		return false
	}
	if scope == ScopeGlobal {
		return true
	}
	ch, err := a.services.GetChannel(ctx, id)
	if err != nil {
		return false
	}
	return a.services.Guardian.CanSeeChannel(ctx, user, ch)
}
