package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mypub/mypub/types"
)

var tracer = otel.Tracer("store")

// Repository is the data interface of the federation engine.
// Follow mutations return whether anything changed and keep the user counters
// consistent with the follows table.
type Repository interface {
	GetUser(ctx context.Context, id string) (types.User, error)
	GetUserByURL(ctx context.Context, url string) (types.User, error)
	GetUserByHandle(ctx context.Context, handle, domain string) (types.User, error)
	UpsertUserByURL(ctx context.Context, user types.User) (types.User, error)
	CreateUser(ctx context.Context, user types.User) (types.User, error)
	CountLocalUsers(ctx context.Context) (int64, error)

	GetFollow(ctx context.Context, userID, followsID string) (types.UserFollow, error)
	SetFollowing(ctx context.Context, userID, followsID, activityID string, state types.FollowState) (bool, error)
	AcceptFollowing(ctx context.Context, followsID, activityID string) (bool, error)
	RejectFollowed(ctx context.Context, followsID, activityID string) (bool, error)
	UndoFollowing(ctx context.Context, userID, activityID string) (bool, error)
}

// Store is a Repository on gorm.
type Store struct {
	db *gorm.DB
}

// NewStore returns a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the tables.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&types.User{}, &types.UserFollow{})
}

var profileColumns = []string{
	"handle", "domain", "name", "summary", "tags", "links",
	"image_cover", "image_profile",
	"flag_local", "flag_manually_approves_followers",
	"inbox_url", "public_key", "updated",
}

func dbError(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &types.Error{Code: types.ErrNotFound, Class: types.ClassNotFound, Reason: what + " not found"}
	}
	return types.WrapError(types.ErrDatabase, err, what)
}

func (s *Store) GetUser(ctx context.Context, id string) (types.User, error) {
	ctx, span := tracer.Start(ctx, "Store.GetUser")
	defer span.End()

	var user types.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		span.RecordError(err)
		return types.User{}, dbError(err, "user")
	}
	return user, nil
}

func (s *Store) GetUserByURL(ctx context.Context, url string) (types.User, error) {
	ctx, span := tracer.Start(ctx, "Store.GetUserByURL")
	defer span.End()

	var user types.User
	if err := s.db.WithContext(ctx).Where("url = ?", url).First(&user).Error; err != nil {
		span.RecordError(err)
		return types.User{}, dbError(err, "user")
	}
	return user, nil
}

func (s *Store) GetUserByHandle(ctx context.Context, handle, domain string) (types.User, error) {
	ctx, span := tracer.Start(ctx, "Store.GetUserByHandle")
	defer span.End()

	var user types.User
	err := s.db.WithContext(ctx).Where("handle = ? AND domain = ?", handle, domain).First(&user).Error
	if err != nil {
		span.RecordError(err)
		return types.User{}, dbError(err, "user")
	}
	return user, nil
}

// UpsertUserByURL inserts the user or updates the profile of the user with the
// same url. Counters and creation time of an existing row are left untouched.
func (s *Store) UpsertUserByURL(ctx context.Context, user types.User) (types.User, error) {
	ctx, span := tracer.Start(ctx, "Store.UpsertUserByURL")
	defer span.End()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Counts = types.UserCounts{}

	var stored types.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "url"}},
			DoUpdates: clause.AssignmentColumns(profileColumns),
		}).Create(&user).Error
		if err != nil {
			return err
		}
		return tx.Where("url = ?", user.URL).First(&stored).Error
	})
	if err != nil {
		span.RecordError(err)
		return types.User{}, dbError(err, "user")
	}
	return stored, nil
}

func (s *Store) CreateUser(ctx context.Context, user types.User) (types.User, error) {
	ctx, span := tracer.Start(ctx, "Store.CreateUser")
	defer span.End()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		span.RecordError(err)
		return types.User{}, dbError(err, "user")
	}
	return user, nil
}

func (s *Store) CountLocalUsers(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "Store.CountLocalUsers")
	defer span.End()

	var count int64
	if err := s.db.WithContext(ctx).Model(&types.User{}).Where("flag_local = ?", true).Count(&count).Error; err != nil {
		span.RecordError(err)
		return 0, dbError(err, "users")
	}
	return count, nil
}

func (s *Store) GetFollow(ctx context.Context, userID, followsID string) (types.UserFollow, error) {
	ctx, span := tracer.Start(ctx, "Store.GetFollow")
	defer span.End()

	var follow types.UserFollow
	err := s.db.WithContext(ctx).Where("user_id = ? AND follows_id = ?", userID, followsID).First(&follow).Error
	if err != nil {
		span.RecordError(err)
		return types.UserFollow{}, dbError(err, "follow")
	}
	return follow, nil
}

func addCounts(tx *gorm.DB, followerID, followedID string, delta int) error {
	err := tx.Model(&types.User{}).Where("id = ?", followerID).
		UpdateColumn("count_following", gorm.Expr("count_following + ?", delta)).Error
	if err != nil {
		return err
	}
	return tx.Model(&types.User{}).Where("id = ?", followedID).
		UpdateColumn("count_followers", gorm.Expr("count_followers + ?", delta)).Error
}

func requireUsers(tx *gorm.DB, ids ...string) error {
	for _, id := range ids {
		var count int64
		if err := tx.Model(&types.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
	}
	return nil
}

// SetFollowing moves the edge userID -> followsID to state. A new edge keeps
// activityID; an existing edge keeps the activity id it was created with.
func (s *Store) SetFollowing(ctx context.Context, userID, followsID, activityID string, state types.FollowState) (bool, error) {
	ctx, span := tracer.Start(ctx, "Store.SetFollowing")
	defer span.End()

	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUsers(tx, userID, followsID); err != nil {
			return err
		}

		if state == types.FollowStateNotFollowing {
			res := tx.Where("user_id = ? AND follows_id = ?", userID, followsID).Delete(&types.UserFollow{})
			if res.Error != nil || res.RowsAffected == 0 {
				return res.Error
			}
			changed = true
			return addCounts(tx, userID, followsID, -1)
		}

		edge := types.UserFollow{UserID: userID, FollowsID: followsID, ActivityID: activityID, State: state}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edge)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			changed = true
			return addCounts(tx, userID, followsID, 1)
		}

		res = tx.Model(&types.UserFollow{}).
			Where("user_id = ? AND follows_id = ? AND state <> ?", userID, followsID, state).
			Update("state", state)
		changed = res.RowsAffected > 0
		return res.Error
	})
	if err != nil {
		span.RecordError(err)
		return false, dbError(err, "user")
	}
	return changed, nil
}

// AcceptFollowing moves the pending edge created by activityID towards followsID
// to following.
func (s *Store) AcceptFollowing(ctx context.Context, followsID, activityID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Store.AcceptFollowing")
	defer span.End()

	res := s.db.WithContext(ctx).Model(&types.UserFollow{}).
		Where("follows_id = ? AND activity_id = ? AND state = ?", followsID, activityID, types.FollowStatePending).
		Update("state", types.FollowStateFollowing)
	if res.Error != nil {
		span.RecordError(res.Error)
		return false, dbError(res.Error, "follow")
	}
	return res.RowsAffected > 0, nil
}

// RejectFollowed deletes the edge created by activityID towards followsID.
func (s *Store) RejectFollowed(ctx context.Context, followsID, activityID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Store.RejectFollowed")
	defer span.End()

	changed, err := s.deleteFollow(ctx, "follows_id = ? AND activity_id = ?", followsID, activityID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return changed, nil
}

// UndoFollowing deletes the edge created by activityID from userID.
func (s *Store) UndoFollowing(ctx context.Context, userID, activityID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Store.UndoFollowing")
	defer span.End()

	changed, err := s.deleteFollow(ctx, "user_id = ? AND activity_id = ?", userID, activityID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return changed, nil
}

func (s *Store) deleteFollow(ctx context.Context, query string, args ...any) (bool, error) {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var follow types.UserFollow
		err := tx.Where(query, args...).First(&follow).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		res := tx.Where("user_id = ? AND follows_id = ?", follow.UserID, follow.FollowsID).Delete(&types.UserFollow{})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		changed = true
		return addCounts(tx, follow.UserID, follow.FollowsID, -1)
	})
	if err != nil {
		return false, dbError(err, "follow")
	}
	return changed, nil
}
