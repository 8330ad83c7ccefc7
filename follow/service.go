// Package follow implements the follow state machine between local users and
// remote actors: Follow, Accept, Reject and Undo, sent and received.
package follow

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"

	as "github.com/mypub/mypub/activitystreams"
	"github.com/mypub/mypub/apclient"
	"github.com/mypub/mypub/directory"
	"github.com/mypub/mypub/store"
	"github.com/mypub/mypub/types"
)

var tracer = otel.Tracer("follow")

// Resolver resolves actor urls. *directory.Directory satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, actorURL string) (types.User, error)
	IsLocal(rawURL string) bool
}

// Deliverer posts activities to inboxes. *apclient.ApClient satisfies it.
type Deliverer interface {
	PostToInbox(ctx context.Context, inbox string, activity any, key apclient.Key) (bool, error)
}

type Service struct {
	repo     store.Repository
	resolver Resolver
	client   Deliverer
}

func NewService(repo store.Repository, resolver Resolver, client Deliverer) *Service {
	if repo == nil || resolver == nil || client == nil {
		panic("follow: repository, resolver and deliverer are required")
	}
	return &Service{
		repo:     repo,
		resolver: resolver,
		client:   client,
	}
}

// deliver sends activity from a local sender. Activities between two local
// users need no delivery.
func (s *Service) deliver(sender, recipient types.User, activity *as.Activity) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		if recipient.Flags.Local {
			return true, nil
		}
		key, err := directory.UserKey(sender)
		if err != nil {
			return false, err
		}
		return s.client.PostToInbox(ctx, recipient.InboxURL, activity, key)
	}
}

// edge returns the follow edge between the users and whether it exists.
func (s *Service) edge(ctx context.Context, userID, followsID string) (types.UserFollow, bool, error) {
	edge, err := s.repo.GetFollow(ctx, userID, followsID)
	if err != nil {
		if types.IsCode(err, types.ErrNotFound) {
			return types.UserFollow{}, false, nil
		}
		return types.UserFollow{}, false, err
	}
	return edge, true, nil
}

// restore puts an edge back the way it was before a transition.
func (s *Service) restore(userID, followsID string, prev types.UserFollow, existed bool) func(context.Context) error {
	return func(ctx context.Context) error {
		state, activityID := types.FollowStateNotFollowing, ""
		if existed {
			state, activityID = prev.State, prev.ActivityID
		}
		_, err := s.repo.SetFollowing(ctx, userID, followsID, activityID, state)
		return err
	}
}

func (s *Service) setFollowing(userID, followsID, activityID string, state types.FollowState) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		return s.repo.SetFollowing(ctx, userID, followsID, activityID, state)
	}
}

func (s *Service) localUser(ctx context.Context, id string) (types.User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	if !user.Flags.Local {
		return types.User{}, types.BadRequest(types.ErrBadRequest, user.URL+" is not a local user")
	}
	return user, nil
}

// Follow makes the local user followerID follow the actor at targetURL.
// The edge is stored as pending before the Follow is delivered and removed
// again when delivery fails.
func (s *Service) Follow(ctx context.Context, followerID, targetURL string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Follow.Service.Follow")
	defer span.End()

	follower, err := s.localUser(ctx, followerID)
	if err != nil {
		return Ignored, err
	}
	target, err := s.resolver.Resolve(ctx, targetURL)
	if err != nil {
		span.RecordError(err)
		return Ignored, err
	}
	if target.ID == follower.ID {
		return Ignored, types.BadRequest(types.ErrBadRequest, "cannot follow yourself")
	}

	prev, existed, err := s.edge(ctx, follower.ID, target.ID)
	if err != nil {
		return Ignored, err
	}
	if existed && prev.State == types.FollowStateFollowing {
		return Ignored, nil
	}

	state := types.FollowStatePending
	if target.Flags.Local && !target.Flags.ManuallyApprovesFollowers {
		state = types.FollowStateFollowing
	}

	id := FollowID(follower, target)
	follow := followActivity(id, follower, target)

	outcome, err := tentative(ctx, mutation{
		apply:  s.setFollowing(follower.ID, target.ID, id, state),
		revert: s.restore(follower.ID, target.ID, prev, existed),
	}, s.deliver(follower, target, follow))
	if err != nil {
		span.RecordError(err)
	}
	return outcome, err
}

// Unfollow removes the edge from the local user followerID to the actor at
// targetURL and delivers an Undo of the original Follow.
func (s *Service) Unfollow(ctx context.Context, followerID, targetURL string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Follow.Service.Unfollow")
	defer span.End()

	follower, err := s.localUser(ctx, followerID)
	if err != nil {
		return Ignored, err
	}
	target, err := s.resolver.Resolve(ctx, targetURL)
	if err != nil {
		span.RecordError(err)
		return Ignored, err
	}

	prev, existed, err := s.edge(ctx, follower.ID, target.ID)
	if err != nil || !existed {
		return Ignored, err
	}

	follow := followActivity(prev.ActivityID, follower, target)

	outcome, err := tentative(ctx, mutation{
		apply: func(ctx context.Context) (bool, error) {
			return s.repo.UndoFollowing(ctx, follower.ID, prev.ActivityID)
		},
		revert: s.restore(follower.ID, target.ID, prev, true),
	}, s.deliver(follower, target, undoActivity(follow, follower, target)))
	if err != nil {
		span.RecordError(err)
	}
	return outcome, err
}

// pendingFollower returns the follower at followerURL and its edge to the
// local user userID.
func (s *Service) pendingFollower(ctx context.Context, userID, followerURL string) (types.User, types.User, types.UserFollow, error) {
	user, err := s.localUser(ctx, userID)
	if err != nil {
		return types.User{}, types.User{}, types.UserFollow{}, err
	}
	follower, err := s.resolver.Resolve(ctx, followerURL)
	if err != nil {
		return types.User{}, types.User{}, types.UserFollow{}, err
	}
	edge, existed, err := s.edge(ctx, follower.ID, user.ID)
	if err != nil {
		return types.User{}, types.User{}, types.UserFollow{}, err
	}
	if !existed {
		return types.User{}, types.User{}, types.UserFollow{}, &types.Error{
			Code:   types.ErrNotFound,
			Class:  types.ClassNotFound,
			Reason: "no follow request from " + followerURL,
		}
	}
	return user, follower, edge, nil
}

// Approve accepts the pending follow request of followerURL to the local user
// userID.
func (s *Service) Approve(ctx context.Context, userID, followerURL string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Follow.Service.Approve")
	defer span.End()

	user, follower, edge, err := s.pendingFollower(ctx, userID, followerURL)
	if err != nil {
		span.RecordError(err)
		return Ignored, err
	}
	if edge.State != types.FollowStatePending {
		return Ignored, nil
	}

	follow := followActivity(edge.ActivityID, follower, user)

	return tentative(ctx, mutation{
		apply: func(ctx context.Context) (bool, error) {
			return s.repo.AcceptFollowing(ctx, user.ID, edge.ActivityID)
		},
		revert: s.restore(follower.ID, user.ID, edge, true),
	}, s.deliver(user, follower, acceptActivity(follow, user, follower)))
}

// Deny rejects the follow of followerURL to the local user userID, whether it
// is pending or already accepted.
func (s *Service) Deny(ctx context.Context, userID, followerURL string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Follow.Service.Deny")
	defer span.End()

	user, follower, edge, err := s.pendingFollower(ctx, userID, followerURL)
	if err != nil {
		span.RecordError(err)
		return Ignored, err
	}

	follow := followActivity(edge.ActivityID, follower, user)

	return tentative(ctx, mutation{
		apply: func(ctx context.Context) (bool, error) {
			return s.repo.RejectFollowed(ctx, user.ID, edge.ActivityID)
		},
		revert: s.restore(follower.ID, user.ID, edge, true),
	}, s.deliver(user, follower, rejectActivity(follow, user, follower)))
}

// Handle applies an authenticated inbound activity.
func (s *Service) Handle(ctx context.Context, activity as.AnyActivity) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Follow.Service.Handle")
	defer span.End()

	a := activity.Activity()
	switch a.Type {
	case "Follow":
		return s.receiveFollow(ctx, activity)
	case "Accept", "Reject", "Undo":
		return s.receiveResponse(ctx, a)
	}

	slog.InfoContext(ctx, "unsupported activity", slog.String("type", a.Type), slog.String("id", a.ID))
	return Ignored, types.ErrUnknown.Errorf("unsupported activity type %s", a.Type)
}

func unsupported(field string) error {
	return types.BadRequest(types.ErrBadRequest, "`"+field+"` is unsupported")
}

func (s *Service) receiveFollow(ctx context.Context, activity as.AnyActivity) (Outcome, error) {
	a := activity.Activity()
	if a.ID == "" {
		return Ignored, unsupported("id")
	}
	actorURL, ok := a.Actor.SingleURL()
	if !ok {
		return Ignored, unsupported("actor")
	}
	objectURL, ok := a.Object.SingleURL()
	if !ok {
		return Ignored, unsupported("object")
	}

	if !s.resolver.IsLocal(objectURL) {
		return Ignored, nil
	}

	follower, err := s.resolver.Resolve(ctx, actorURL)
	if err != nil {
		return Ignored, err
	}
	followee, err := s.repo.GetUserByURL(ctx, objectURL)
	if err != nil {
		return Ignored, err
	}
	if !followee.Flags.Local {
		return Ignored, nil
	}

	prev, existed, err := s.edge(ctx, follower.ID, followee.ID)
	if err != nil {
		return Ignored, err
	}

	if followee.Flags.ManuallyApprovesFollowers && !(existed && prev.State == types.FollowStateFollowing) {
		if _, err := s.repo.SetFollowing(ctx, follower.ID, followee.ID, a.ID, types.FollowStatePending); err != nil {
			return Ignored, err
		}
		slog.InfoContext(ctx, "follow request", slog.String("follower", follower.URL), slog.String("followee", followee.URL))
		return Applied, nil
	}

	var follow *as.Activity
	if received, ok := activity.(*as.Activity); ok {
		follow = received
	} else {
		follow = followActivity(a.ID, follower, followee)
	}

	return tentative(ctx, mutation{
		apply:  s.setFollowing(follower.ID, followee.ID, a.ID, types.FollowStateFollowing),
		revert: s.restore(follower.ID, followee.ID, prev, existed),
	}, s.deliver(followee, follower, acceptActivity(follow, followee, follower)))
}

func (s *Service) receiveResponse(ctx context.Context, a *as.IntransitiveActivity) (Outcome, error) {
	actorURL, ok := a.Actor.SingleURL()
	if !ok {
		return Ignored, unsupported("actor")
	}
	object, ok := a.Object.SingleOfType("Follow")
	if !ok {
		return Ignored, unsupported("object")
	}
	followID := as.IDOf(object)
	if followID == "" {
		return Ignored, unsupported("object.id")
	}

	actor, err := s.resolver.Resolve(ctx, actorURL)
	if err != nil {
		return Ignored, err
	}

	var changed bool
	switch a.Type {
	case "Accept":
		changed, err = s.repo.AcceptFollowing(ctx, actor.ID, followID)
	case "Reject":
		changed, err = s.repo.RejectFollowed(ctx, actor.ID, followID)
	case "Undo":
		changed, err = s.repo.UndoFollowing(ctx, actor.ID, followID)
	}
	if err != nil {
		return Ignored, err
	}
	if !changed {
		return Ignored, nil
	}
	return Applied, nil
}
