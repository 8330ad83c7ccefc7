package api

import (
	"context"
	"strings"

	"github.com/mypub/mypub/follow"
	"github.com/mypub/mypub/signature"
	"github.com/mypub/mypub/store"
	"github.com/mypub/mypub/types"
)

// Resolver resolves actor urls. *directory.Directory satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, actorURL string) (types.User, error)
}

// Finger looks up the actor url of a user@domain handle. *apclient.ApClient
// satisfies it.
type Finger interface {
	ResolveActor(ctx context.Context, handle string) (string, error)
}

type Service struct {
	repo     store.Repository
	resolver Resolver
	finger   Finger
	follows  *follow.Service
	instance types.InstanceConfig
}

func NewService(
	repo store.Repository,
	resolver Resolver,
	finger Finger,
	follows *follow.Service,
	instance types.InstanceConfig,
) *Service {
	if repo == nil || resolver == nil || finger == nil || follows == nil {
		panic("api: repository, resolver, finger and follow service are required")
	}
	return &Service{
		repo,
		resolver,
		finger,
		follows,
		instance,
	}
}

// CreateUserRequest is a struct for a request to provision a local user.
type CreateUserRequest struct {
	Handle                    string           `json:"handle"`
	Name                      string           `json:"name"`
	Summary                   string           `json:"summary"`
	Tags                      []string         `json:"tags"`
	Links                     []types.UserLink `json:"links"`
	ProfileImage              string           `json:"profileImage"`
	CoverImage                string           `json:"coverImage"`
	ManuallyApprovesFollowers bool             `json:"manuallyApprovesFollowers"`
}

// CreateUser provisions a local user with a new key pair.
func (s *Service) CreateUser(ctx context.Context, request CreateUserRequest) (types.User, error) {
	ctx, span := tracer.Start(ctx, "Api.Service.CreateUser")
	defer span.End()

	if !types.HandleRegexp.MatchString(request.Handle + "@" + s.instance.Domain) {
		return types.User{}, types.BadRequest(types.ErrBadRequest, "invalid handle "+request.Handle)
	}

	if _, err := s.repo.GetUserByHandle(ctx, request.Handle, s.instance.Domain); err == nil {
		return types.User{}, types.BadRequest(types.ErrBadRequest, "handle "+request.Handle+" is taken")
	} else if !types.IsCode(err, types.ErrNotFound) {
		span.RecordError(err)
		return types.User{}, err
	}

	private, public, err := signature.GenerateKeyPair()
	if err != nil {
		span.RecordError(err)
		return types.User{}, types.WrapError(types.ErrUnknown, err, "failed to generate key")
	}

	name := request.Name
	if name == "" {
		name = request.Handle
	}
	tags := request.Tags
	if tags == nil {
		tags = []string{}
	}
	links := request.Links
	if links == nil {
		links = []types.UserLink{}
	}

	return s.repo.CreateUser(ctx, types.User{
		URL:     s.instance.UserURL(request.Handle),
		Handle:  request.Handle,
		Domain:  s.instance.Domain,
		Name:    name,
		Summary: request.Summary,
		Tags:    tags,
		Links:   links,
		Images: types.UserImages{
			Profile: request.ProfileImage,
			Cover:   request.CoverImage,
		},
		Flags: types.UserFlags{
			Local:                     true,
			ManuallyApprovesFollowers: request.ManuallyApprovesFollowers,
		},
		PublicKey:  public,
		PrivateKey: private,
	})
}

// GetUser returns the local user with the given handle.
func (s *Service) GetUser(ctx context.Context, handle string) (types.User, error) {
	ctx, span := tracer.Start(ctx, "Api.Service.GetUser")
	defer span.End()

	user, err := s.repo.GetUserByHandle(ctx, handle, s.instance.Domain)
	if err != nil {
		span.RecordError(err)
		return types.User{}, err
	}
	if !user.Flags.Local {
		return types.User{}, &types.Error{Code: types.ErrNotFound, Class: types.ClassNotFound, Reason: handle}
	}
	return user, nil
}

// ActorURL turns a target given as an actor url or as a user@domain handle
// into an actor url.
func (s *Service) ActorURL(ctx context.Context, target string) (string, error) {
	if strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "http://") {
		return target, nil
	}
	handle, domain, ok := types.ParseHandle(target)
	if !ok {
		return "", types.BadRequest(types.ErrInvalidActorURL, "invalid target "+target)
	}
	if strings.EqualFold(domain, s.instance.Domain) {
		return s.instance.UserURL(handle), nil
	}
	return s.finger.ResolveActor(ctx, handle+"@"+domain)
}

// Resolve returns the user a target names, fetching it when remote.
func (s *Service) Resolve(ctx context.Context, target string) (types.User, error) {
	ctx, span := tracer.Start(ctx, "Api.Service.Resolve")
	defer span.End()

	actorURL, err := s.ActorURL(ctx, target)
	if err != nil {
		span.RecordError(err)
		return types.User{}, err
	}
	return s.resolver.Resolve(ctx, actorURL)
}

type transition func(ctx context.Context, userID, actorURL string) (follow.Outcome, error)

func (s *Service) apply(ctx context.Context, handle, target string, fn transition) (follow.Outcome, error) {
	user, err := s.GetUser(ctx, handle)
	if err != nil {
		return follow.Ignored, err
	}
	actorURL, err := s.ActorURL(ctx, target)
	if err != nil {
		return follow.Ignored, err
	}
	return fn(ctx, user.ID, actorURL)
}

func (s *Service) Follow(ctx context.Context, handle, target string) (follow.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Api.Service.Follow")
	defer span.End()
	return s.apply(ctx, handle, target, s.follows.Follow)
}

func (s *Service) Unfollow(ctx context.Context, handle, target string) (follow.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Api.Service.Unfollow")
	defer span.End()
	return s.apply(ctx, handle, target, s.follows.Unfollow)
}

func (s *Service) Approve(ctx context.Context, handle, follower string) (follow.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Api.Service.Approve")
	defer span.End()
	return s.apply(ctx, handle, follower, s.follows.Approve)
}

func (s *Service) Deny(ctx context.Context, handle, follower string) (follow.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Api.Service.Deny")
	defer span.End()
	return s.apply(ctx, handle, follower, s.follows.Deny)
}
