package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mypub/mypub/types"
)

type edgeKey struct {
	user, follows string
}

// Memory is a Repository held in process memory, for development and tests.
type Memory struct {
	mu      sync.Mutex
	users   map[string]types.User
	byURL   map[string]string
	follows map[edgeKey]types.UserFollow
}

func NewMemory() *Memory {
	return &Memory{
		users:   map[string]types.User{},
		byURL:   map[string]string{},
		follows: map[edgeKey]types.UserFollow{},
	}
}

func notFound(what string) error {
	return &types.Error{Code: types.ErrNotFound, Class: types.ClassNotFound, Reason: what + " not found"}
}

func (m *Memory) GetUser(_ context.Context, id string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return types.User{}, notFound("user")
	}
	return user, nil
}

func (m *Memory) GetUserByURL(_ context.Context, url string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byURL[url]
	if !ok {
		return types.User{}, notFound("user")
	}
	return m.users[id], nil
}

func (m *Memory) GetUserByHandle(_ context.Context, handle, domain string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.Handle == handle && user.Domain == domain {
			return user, nil
		}
	}
	return types.User{}, notFound("user")
}

func (m *Memory) UpsertUserByURL(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if id, ok := m.byURL[user.URL]; ok {
		existing := m.users[id]
		user.ID = existing.ID
		user.Counts = existing.Counts
		user.Created = existing.Created
		user.PrivateKey = existing.PrivateKey
	} else {
		if user.ID == "" {
			user.ID = uuid.NewString()
		}
		user.Counts = types.UserCounts{}
		user.Created = now
	}
	user.Updated = now

	m.users[user.ID] = user
	m.byURL[user.URL] = user.ID
	return user, nil
}

func (m *Memory) CreateUser(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byURL[user.URL]; ok {
		return types.User{}, types.ErrDatabase.Errorf("duplicate url %s", user.URL)
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Created = time.Now()
	user.Updated = user.Created

	m.users[user.ID] = user
	m.byURL[user.URL] = user.ID
	return user, nil
}

func (m *Memory) CountLocalUsers(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, user := range m.users {
		if user.Flags.Local {
			count++
		}
	}
	return count, nil
}

func (m *Memory) GetFollow(_ context.Context, userID, followsID string) (types.UserFollow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	follow, ok := m.follows[edgeKey{userID, followsID}]
	if !ok {
		return types.UserFollow{}, notFound("follow")
	}
	return follow, nil
}

// addCounts must be called with mu held.
func (m *Memory) addCounts(followerID, followedID string, delta int64) {
	follower := m.users[followerID]
	follower.Counts.Following += delta
	m.users[followerID] = follower

	followed := m.users[followedID]
	followed.Counts.Followers += delta
	m.users[followedID] = followed
}

func (m *Memory) SetFollowing(_ context.Context, userID, followsID, activityID string, state types.FollowState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return false, notFound("user")
	}
	if _, ok := m.users[followsID]; !ok {
		return false, notFound("user")
	}

	key := edgeKey{userID, followsID}
	existing, ok := m.follows[key]

	if state == types.FollowStateNotFollowing {
		if !ok {
			return false, nil
		}
		delete(m.follows, key)
		m.addCounts(userID, followsID, -1)
		return true, nil
	}

	if !ok {
		m.follows[key] = types.UserFollow{UserID: userID, FollowsID: followsID, ActivityID: activityID, State: state, Created: time.Now()}
		m.addCounts(userID, followsID, 1)
		return true, nil
	}

	if existing.State == state {
		return false, nil
	}
	existing.State = state
	m.follows[key] = existing
	return true, nil
}

func (m *Memory) AcceptFollowing(_ context.Context, followsID, activityID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, follow := range m.follows {
		if follow.FollowsID == followsID && follow.ActivityID == activityID && follow.State == types.FollowStatePending {
			follow.State = types.FollowStateFollowing
			m.follows[key] = follow
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) RejectFollowed(_ context.Context, followsID, activityID string) (bool, error) {
	return m.deleteFollow(func(f types.UserFollow) bool {
		return f.FollowsID == followsID && f.ActivityID == activityID
	}), nil
}

func (m *Memory) UndoFollowing(_ context.Context, userID, activityID string) (bool, error) {
	return m.deleteFollow(func(f types.UserFollow) bool {
		return f.UserID == userID && f.ActivityID == activityID
	}), nil
}

func (m *Memory) deleteFollow(match func(types.UserFollow) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, follow := range m.follows {
		if match(follow) {
			delete(m.follows, key)
			m.addCounts(follow.UserID, follow.FollowsID, -1)
			return true
		}
	}
	return false
}
