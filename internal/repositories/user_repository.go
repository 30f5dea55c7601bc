package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-plugin/internal/models"
)

const userColumns = `id, username, name, admin, moderator, chat_enabled, trust_level, silenced_till, last_seen_at`

// UserRepository reads host users and groups.
type UserRepository interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	GetUsers(ctx context.Context, userIDs []int) ([]models.User, error)
	FindByUsernames(ctx context.Context, usernames []string) ([]models.User, error)
	FindMentionableGroups(ctx context.Context, names []string) ([]models.Group, error)
	GroupMemberIDs(ctx context.Context, groupIDs []int) ([]int, error)
	StaffIDs(ctx context.Context) ([]int, error)
	Silence(ctx context.Context, userID int, until time.Time) error
	TouchLastSeen(ctx context.Context, userID int, at time.Time) error
	SeenSince(ctx context.Context, userIDs []int, since time.Time) ([]int, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser loads a user with its group ids.
func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.User, error) {
	var u models.User
	if err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID); err != nil {
		if isNoRows(err) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	users := []models.User{u}
	if err := r.loadGroups(ctx, users); err != nil {
		return models.User{}, err
	}
	return users[0], nil
}

// GetUsers loads users by id, ordered by id.
func (r *UserRepo) GetUsers(ctx context.Context, userIDs []int) ([]models.User, error) {
	if len(userIDs) == 0 {
		return []models.User{}, nil
	}
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY id`, pq.Array(userIDs)); err != nil {
		return nil, err
	}
	return users, r.loadGroups(ctx, users)
}

// FindByUsernames matches usernames case-insensitively.
func (r *UserRepo) FindByUsernames(ctx context.Context, usernames []string) ([]models.User, error) {
	if len(usernames) == 0 {
		return []models.User{}, nil
	}
	lowered := make([]string, len(usernames))
	for i, name := range usernames {
		lowered[i] = strings.ToLower(name)
	}
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE LOWER(username) = ANY($1) ORDER BY id`, pq.Array(lowered)); err != nil {
		return nil, err
	}
	return users, r.loadGroups(ctx, users)
}

// FindMentionableGroups returns mentionable groups with the given names.
func (r *UserRepo) FindMentionableGroups(ctx context.Context, names []string) ([]models.Group, error) {
	if len(names) == 0 {
		return []models.Group{}, nil
	}
	lowered := make([]string, len(names))
	for i, name := range names {
		lowered[i] = strings.ToLower(name)
	}
	var groups []models.Group
	err := r.db.SelectContext(ctx, &groups, `SELECT id, name, mentionable FROM groups WHERE mentionable AND LOWER(name) = ANY($1) ORDER BY id`, pq.Array(lowered))
	return groups, err
}

// GroupMemberIDs returns chat-enabled members of the groups.
func (r *UserRepo) GroupMemberIDs(ctx context.Context, groupIDs []int) ([]int, error) {
	ids := []int{}
	if len(groupIDs) == 0 {
		return ids, nil
	}
	err := r.db.SelectContext(ctx, &ids, `SELECT DISTINCT gu.user_id FROM group_users gu JOIN users u ON u.id = gu.user_id
        WHERE gu.group_id = ANY($1) AND u.chat_enabled ORDER BY gu.user_id`, pq.Array(groupIDs))
	return ids, err
}

// StaffIDs returns admins and moderators.
func (r *UserRepo) StaffIDs(ctx context.Context) ([]int, error) {
	ids := []int{}
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM users WHERE admin OR moderator ORDER BY id`)
	return ids, err
}

// Silence sets silenced_till, never shortening an existing silence.
func (r *UserRepo) Silence(ctx context.Context, userID int, until time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET silenced_till = GREATEST(COALESCE(silenced_till, $2), $2) WHERE id=$1`, userID, until)
	if err != nil {
		return err
	}
	return requireRow(res, ErrUserNotFound)
}

// UpsertUser stores the identity profile of u. Local chat state
// (silence, last seen) is left alone on update.
func (r *UserRepo) UpsertUser(ctx context.Context, u models.User) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO users (id, username, name, admin, moderator, chat_enabled, trust_level)
        VALUES (:id, :username, :name, :admin, :moderator, :chat_enabled, :trust_level)
        ON CONFLICT (id) DO UPDATE SET username=EXCLUDED.username, name=EXCLUDED.name, admin=EXCLUDED.admin,
            moderator=EXCLUDED.moderator, chat_enabled=EXCLUDED.chat_enabled, trust_level=EXCLUDED.trust_level`, u)
	return err
}

// TouchLastSeen records user activity.
func (r *UserRepo) TouchLastSeen(ctx context.Context, userID int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen_at=$2 WHERE id=$1`, userID, at)
	return err
}

// SeenSince filters userIDs to those active since the given time.
func (r *UserRepo) SeenSince(ctx context.Context, userIDs []int, since time.Time) ([]int, error) {
	ids := []int{}
	if len(userIDs) == 0 {
		return ids, nil
	}
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM users WHERE id = ANY($1) AND last_seen_at >= $2 ORDER BY id`, pq.Array(userIDs), since)
	return ids, err
}

func (r *UserRepo) loadGroups(ctx context.Context, users []models.User) error {
	if len(users) == 0 {
		return nil
	}
	ids := make([]int, len(users))
	index := make(map[int]int, len(users))
	for i, u := range users {
		ids[i] = u.ID
		index[u.ID] = i
	}
	var rows []struct {
		UserID  int `db:"user_id"`
		GroupID int `db:"group_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT user_id, group_id FROM group_users WHERE user_id = ANY($1) ORDER BY group_id`, pq.Array(ids)); err != nil {
		return err
	}
	for _, row := range rows {
		u := &users[index[row.UserID]]
		u.GroupIDs = append(u.GroupIDs, row.GroupID)
	}
	return nil
}
