package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-plugin/internal/apperrors"
	"chat-plugin/internal/jobs"
	"chat-plugin/internal/models"
	"chat-plugin/internal/observability"
	"chat-plugin/internal/repositories"
	"chat-plugin/internal/telemetry"
)

// Archiver converts a channel's history into posts of a forum topic. Each
// batch commits on its own and the archive counters are the checkpoint, so
// a failed run resumes where it stopped.
type Archiver struct {
	deps     Deps
	guardian *Guardian
	store    repositories.ArchiveRepository
}

// BeginArchive makes ch read-only, records the archive and schedules the
// conversion. A channel that already has an archive record is left alone.
func (a *Archiver) BeginArchive(ctx context.Context, actor models.User, ch models.Channel, p models.ArchiveParams) (models.ChannelArchive, error) {
	if !a.guardian.CanModerate(actor) {
		return models.ChannelArchive{}, apperrors.Forbidden(apperrors.ReasonNotAllowed, "only staff can archive channels")
	}
	if ch.IsDirectMessage() {
		return models.ChannelArchive{}, apperrors.InvalidArg("", "direct message channels cannot be archived")
	}

	existing, err := a.store.GetArchiveByChannel(ctx, ch.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repositories.ErrArchiveNotFound) {
		return models.ChannelArchive{}, apperrors.Internal("load archive", err)
	}
	if ch.Status == models.ChannelArchived {
		return models.ChannelArchive{}, apperrors.FailedPrecondition(apperrors.ReasonInvalidStatus, "channel is already archived")
	}

	record := models.ChannelArchive{
		ChatChannelID:         ch.ID,
		ArchivedByID:          actor.ID,
		DestinationCategoryID: p.CategoryID,
		DestinationTags:       p.Tags,
	}
	switch {
	case p.TopicID != nil:
		found, err := a.store.TopicExists(ctx, *p.TopicID)
		if err != nil {
			return models.ChannelArchive{}, apperrors.Internal("load topic", err)
		}
		if !found {
			return models.ChannelArchive{}, apperrors.NotFound("topic not found")
		}
		record.DestinationTopicID = p.TopicID
	case strings.TrimSpace(p.Title) != "":
		record.DestinationTopicTitle = strings.TrimSpace(p.Title)
	default:
		return models.ChannelArchive{}, apperrors.InvalidArg("", "archive needs a topic_id or a title")
	}

	if ch.Status != models.ChannelReadOnly {
		if err := a.deps.Store.Channels.UpdateStatus(ctx, ch.ID, models.ChannelReadOnly); err != nil {
			return models.ChannelArchive{}, lookupErr(err, "channel")
		}
		ch.Status = models.ChannelReadOnly
		publishStatus(ctx, a.deps.Publisher, ch)
	}

	record.TotalMessages, err = a.deps.Store.Messages.CountLive(ctx, ch.ID)
	if err != nil {
		return models.ChannelArchive{}, apperrors.Internal("count messages", err)
	}
	archive, created, err := a.store.CreateArchive(ctx, record)
	if err != nil {
		return models.ChannelArchive{}, apperrors.Internal("create archive", err)
	}
	if !created {
		return archive, nil
	}

	a.deps.Audit.Emit(ctx, telemetry.AuditEvent{
		Action:    telemetry.AuditArchiveStarted,
		ActorID:   actor.ID,
		ChannelID: ch.ID,
		TargetID:  archive.ID,
	})
	if err := a.schedule(ctx, archive.ID); err != nil {
		return models.ChannelArchive{}, err
	}
	return archive, nil
}

// RetryArchive clears the error of a failed archive and schedules it again.
func (a *Archiver) RetryArchive(ctx context.Context, actor models.User, ch models.Channel) (models.ChannelArchive, error) {
	if !a.guardian.CanModerate(actor) {
		return models.ChannelArchive{}, apperrors.Forbidden(apperrors.ReasonNotAllowed, "only staff can archive channels")
	}
	archive, err := a.store.GetArchiveByChannel(ctx, ch.ID)
	if err != nil {
		return models.ChannelArchive{}, lookupErr(err, "archive")
	}
	if archive.Status() != models.ArchiveFailed {
		return models.ChannelArchive{}, apperrors.FailedPrecondition("", "archive has not failed")
	}
	if err := a.store.ClearError(ctx, archive.ID); err != nil {
		return models.ChannelArchive{}, lookupErr(err, "archive")
	}
	archive.ArchiveError = nil
	if err := a.schedule(ctx, archive.ID); err != nil {
		return models.ChannelArchive{}, err
	}
	return archive, nil
}

func (a *Archiver) schedule(ctx context.Context, archiveID int) error {
	job, err := jobs.New(jobs.KindArchiveChannel, jobs.ArchiveChannel{ArchiveID: archiveID}, 0)
	if err == nil {
		err = a.deps.Jobs.Enqueue(ctx, job)
	}
	if err != nil {
		if ferr := a.store.FailArchive(ctx, archiveID, "could not schedule archive: "+err.Error()); ferr != nil {
			a.deps.Logger.ErrorContext(ctx, "persist archive failure", "chat_channel_archive_id", archiveID, "error", ferr)
		}
		return apperrors.Internal("schedule archive", err)
	}
	return nil
}

// HandleArchiveChannel is the job entry point.
func (a *Archiver) HandleArchiveChannel(ctx context.Context, p jobs.ArchiveChannel) error {
	return a.Execute(ctx, p.ArchiveID)
}

// Execute runs or resumes an archive. Failures are persisted on the record,
// reported to the actor and returned so the job is retried.
func (a *Archiver) Execute(ctx context.Context, archiveID int) error {
	archive, err := a.store.GetArchive(ctx, archiveID)
	if errors.Is(err, repositories.ErrArchiveNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if archive.Status() == models.ArchiveComplete {
		return nil
	}
	ch, err := a.deps.Store.Channels.GetChannel(ctx, archive.ChatChannelID)
	if errors.Is(err, repositories.ErrChannelNotFound) {
		return jobs.Permanent(err)
	}
	if err != nil {
		return err
	}

	logger := a.deps.Logger.With("chat_channel_id", ch.ID, "chat_channel_archive_id", archive.ID)
	if err := a.run(ctx, archive, ch); err != nil {
		logger.ErrorContext(ctx, "channel archive failed", "error", err)
		if ferr := a.store.FailArchive(ctx, archive.ID, err.Error()); ferr != nil {
			logger.ErrorContext(ctx, "persist archive failure", "error", ferr)
		}
		a.notifyActor(ctx, archive, ch, models.NotificationChatArchiveFailed)
		a.deps.Audit.Emit(ctx, telemetry.AuditEvent{
			Action:    telemetry.AuditArchiveFailed,
			ActorID:   archive.ArchivedByID,
			ChannelID: ch.ID,
			TargetID:  archive.ID,
			Detail:    err.Error(),
		})
		return err
	}

	archive, err = a.store.CompleteArchive(ctx, archive.ID)
	if err != nil {
		return err
	}
	ch.Status = models.ChannelArchived
	publishStatus(ctx, a.deps.Publisher, ch)
	a.notifyActor(ctx, archive, ch, models.NotificationChatArchiveDone)
	a.deps.Audit.Emit(ctx, telemetry.AuditEvent{
		Action:    telemetry.AuditArchiveFinished,
		ActorID:   archive.ArchivedByID,
		ChannelID: ch.ID,
		TargetID:  archive.ID,
	})
	logger.InfoContext(ctx, "channel archived", "archived_messages", archive.ArchivedMessages)
	return nil
}

func (a *Archiver) run(ctx context.Context, archive models.ChannelArchive, ch models.Channel) error {
	archive, err := a.store.EnsureDestinationTopic(ctx, archive.ID, firstPost(ch))
	if err != nil {
		return fmt.Errorf("ensure destination topic: %w", err)
	}
	topicID := *archive.DestinationTopicID

	usernames := map[int]string{}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := a.deps.Store.Messages.NextLiveBatch(ctx, ch.ID, a.deps.Limits.ArchiveBatchSize)
		if err != nil {
			return fmt.Errorf("load batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		if err := a.loadUsernames(ctx, batch, usernames); err != nil {
			return err
		}

		ids := make([]int, len(batch))
		for i, m := range batch {
			ids[i] = m.ID
		}
		n, err := a.store.ArchiveBatch(ctx, archive.ID, topicID, archive.ArchivedByID, ids, Transcript(ch, batch, usernames))
		if err != nil {
			return fmt.Errorf("archive batch starting at %d: %w", ids[0], err)
		}
		observability.AddArchived(n)
		a.deps.Publisher.Publish(ctx, ChannelTopic(ch.ID), models.ChatEvent{
			Type:       models.EventBulkDelete,
			DeletedIDs: ids,
		}, nil)
	}

	if err := a.deps.Store.Channels.UpdateStatus(ctx, ch.ID, models.ChannelArchived); err != nil {
		return fmt.Errorf("mark channel archived: %w", err)
	}
	return nil
}

func (a *Archiver) loadUsernames(ctx context.Context, batch []models.Message, known map[int]string) error {
	var missing []int
	for _, m := range batch {
		if _, ok := known[m.UserID]; !ok {
			known[m.UserID] = ""
			missing = append(missing, m.UserID)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	users, err := a.deps.Store.Users.GetUsers(ctx, missing)
	if err != nil {
		return fmt.Errorf("load authors: %w", err)
	}
	for _, u := range users {
		known[u.ID] = u.Username
	}
	return nil
}

type archiveNotification struct {
	ChatChannelID    int    `json:"chat_channel_id"`
	ChatChannelTitle string `json:"chat_channel_title"`
	TopicID          *int   `json:"topic_id,omitempty"`
}

func (a *Archiver) notifyActor(ctx context.Context, archive models.ChannelArchive, ch models.Channel, kind models.NotificationType) {
	data := archiveNotification{ChatChannelID: ch.ID, ChatChannelTitle: ch.Name, TopicID: archive.DestinationTopicID}
	if _, err := a.deps.Store.Notifications.CreateNotification(ctx, archive.ArchivedByID, kind, data); err != nil {
		a.deps.Logger.ErrorContext(ctx, "archive notification failed", "chat_channel_archive_id", archive.ID, "error", err)
		return
	}
	observability.AddNotifications("archive", "created", 1)
	a.deps.Publisher.Publish(ctx, NotificationAlertTopic(archive.ArchivedByID), models.NotificationAlert{
		NotificationType: kind,
		ChatChannelID:    ch.ID,
	}, []int{archive.ArchivedByID})
}

func firstPost(ch models.Channel) string {
	return fmt.Sprintf("This topic holds the archived history of the chat channel #%s.", ch.Name)
}

// Transcript renders messages as chat quote blocks, one block per run of
// consecutive messages by the same author.
func Transcript(ch models.Channel, msgs []models.Message, usernames map[int]string) string {
	var groups [][]models.Message
	for _, m := range msgs {
		if n := len(groups); n > 0 && groups[n-1][0].UserID == m.UserID {
			groups[n-1] = append(groups[n-1], m)
			continue
		}
		groups = append(groups, []models.Message{m})
	}

	var b strings.Builder
	for i, group := range groups {
		if i > 0 {
			b.WriteString("\n\n")
		}
		first := group[0]
		fmt.Fprintf(&b, `[chat quote="%s;%d;%s" channel="%s"`,
			usernames[first.UserID], first.ID, first.CreatedAt.UTC().Format(time.RFC3339), ch.Name)
		if len(msgs) > 1 {
			b.WriteString(` multiQuote="true"`)
		}
		if len(groups) > 1 {
			b.WriteString(` chained="true"`)
		}
		b.WriteString("]\n")
		for j, m := range group {
			if j > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(m.Message)
		}
		b.WriteString("\n[/chat]")
	}
	return b.String()
}
