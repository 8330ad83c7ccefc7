package ap

import (
	"context"
	"html"
	"log/slog"
	"strings"
	"time"

	as "github.com/mypub/mypub/activitystreams"
	"github.com/mypub/mypub/follow"
	"github.com/mypub/mypub/inbox"
	"github.com/mypub/mypub/render"
	"github.com/mypub/mypub/store"
	"github.com/mypub/mypub/types"
)

const nodeInfoSchema = "http://nodeinfo.diaspora.software/ns/schema/2.1"

// actorContext is the json-ld context of actor documents, as Mastodon expects it.
var actorContext = []any{
	as.ContextURL,
	as.SecurityContextURL,
	map[string]any{
		"manuallyApprovesFollowers": "as:manuallyApprovesFollowers",
		"toot":                      "http://joinmastodon.org/ns#",
		"featured":                  map[string]any{"@id": "toot:featured", "@type": "@id"},
		"featuredTags":              map[string]any{"@id": "toot:featuredTags", "@type": "@id"},
		"alsoKnownAs":               map[string]any{"@id": "as:alsoKnownAs", "@type": "@id"},
		"movedTo":                   map[string]any{"@id": "as:movedTo", "@type": "@id"},
		"schema":                    "http://schema.org#",
		"PropertyValue":             "schema:PropertyValue",
		"value":                     "schema:value",
		"discoverable":              "toot:discoverable",
		"Device":                    "toot:Device",
		"Ed25519Signature":          "toot:Ed25519Signature",
		"Ed25519Key":                "toot:Ed25519Key",
		"Curve25519Key":             "toot:Curve25519Key",
		"EncryptedMessage":          "toot:EncryptedMessage",
		"publicKeyBase64":           "toot:publicKeyBase64",
		"deviceId":                  "toot:deviceId",
		"claim":                     map[string]any{"@type": "@id", "@id": "toot:claim"},
		"fingerprintKey":            map[string]any{"@type": "@id", "@id": "toot:fingerprintKey"},
		"identityKey":               map[string]any{"@type": "@id", "@id": "toot:identityKey"},
		"devices":                   map[string]any{"@type": "@id", "@id": "toot:devices"},
		"messageFranking":           "toot:messageFranking",
		"messageType":               "toot:messageType",
		"cipherText":                "toot:cipherText",
		"suspended":                 "toot:suspended",
		"Hashtag":                   "as:Hashtag",
		"focalPoint":                map[string]any{"@container": "@list", "@id": "toot:focalPoint"},
	},
}

type Service struct {
	repo     store.Repository
	pipeline *inbox.Pipeline
	follows  *follow.Service
	seen     inbox.Deduplicator
	instance types.InstanceConfig
	info     types.NodeInfo
}

func NewService(
	repo store.Repository,
	pipeline *inbox.Pipeline,
	follows *follow.Service,
	seen inbox.Deduplicator,
	instance types.InstanceConfig,
	info types.NodeInfo,
) *Service {
	if repo == nil || pipeline == nil || follows == nil || seen == nil {
		panic("ap: repository, pipeline, follow service and deduplicator are required")
	}
	if instance.Domain == "" {
		panic("ap: instance domain is required")
	}
	return &Service{
		repo,
		pipeline,
		follows,
		seen,
		instance,
		info,
	}
}

// Inbox authenticates and applies an activity posted to an inbox.
// Activities that were already applied are acknowledged without being applied
// again.
func (s *Service) Inbox(ctx context.Context, req inbox.Request) error {
	ctx, span := tracer.Start(ctx, "Ap.Service.Inbox")
	defer span.End()

	result, err := s.pipeline.Authenticate(ctx, req, as.InboxSchema)
	if err != nil {
		span.RecordError(err)
		return err
	}

	activity := result.Activity.Activity()
	if result.Verdict == inbox.Ignored {
		slog.DebugContext(ctx, "ignored activity", slog.String("type", activity.Type), slog.String("id", activity.ID))
		return nil
	}

	if activity.ID != "" {
		seen, err := s.seen.Seen(ctx, activity.ID)
		if err != nil {
			slog.WarnContext(ctx, "failed to check seen activity", slog.String("error", err.Error()))
		} else if seen {
			slog.DebugContext(ctx, "duplicate activity", slog.String("id", activity.ID))
			return nil
		}
	}

	outcome, err := s.follows.Handle(ctx, result.Activity)
	if err != nil {
		span.RecordError(err)
		return err
	}

	slog.InfoContext(
		ctx, "inbox",
		slog.String("type", activity.Type),
		slog.String("id", activity.ID),
		slog.String("actor", result.Actor.URL),
		slog.String("outcome", outcome.String()),
	)

	if outcome == follow.Undelivered || activity.ID == "" {
		return nil
	}
	if err := s.seen.Mark(ctx, activity.ID); err != nil {
		slog.WarnContext(ctx, "failed to mark activity", slog.String("error", err.Error()))
	}
	return nil
}

func (s *Service) localUser(ctx context.Context, handle string) (types.User, error) {
	user, err := s.repo.GetUserByHandle(ctx, handle, s.instance.Domain)
	if err != nil {
		return types.User{}, err
	}
	if !user.Flags.Local {
		return types.User{}, &types.Error{Code: types.ErrNotFound, Class: types.ClassNotFound, Reason: handle}
	}
	return user, nil
}

func image(url string) *as.Values {
	if url == "" {
		return nil
	}
	return as.One(&as.ObjectValue{Type: "Image", MediaType: "image/jpeg", URL: as.Ref(url)})
}

// Actor returns the actor document of the local user with the given handle.
func (s *Service) Actor(ctx context.Context, handle string) (*as.Actor, error) {
	ctx, span := tracer.Start(ctx, "Ap.Service.Actor")
	defer span.End()

	user, err := s.localUser(ctx, handle)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	paths := s.instance.Paths
	discoverable := true
	manuallyApproves := user.Flags.ManuallyApprovesFollowers

	tags := []as.Value{}
	for _, tag := range user.Tags {
		tags = append(tags, &as.Link{
			Type: "Hashtag",
			Href: s.instance.BaseURL() + "/tags/" + tag,
			Name: "#" + tag,
		})
	}

	attachments := []as.Value{}
	for _, link := range user.Links {
		href := html.EscapeString(link.Href)
		attachments = append(attachments, &as.ObjectValue{
			Type:  "PropertyValue",
			Name:  link.Name,
			Value: `<a href="` + href + `" target="_blank" rel="nofollow noopener noreferrer me">` + href + `</a>`,
		})
	}

	actor := &as.Actor{
		Inbox:                     user.URL + "/" + paths.Inbox,
		Outbox:                    user.URL + "/" + paths.Outbox,
		Followers:                 user.URL + "/" + paths.Followers,
		Following:                 user.URL + "/" + paths.Following,
		Featured:                  user.URL + "/collections/featured",
		FeaturedTags:              user.URL + "/collections/tags",
		Devices:                   user.URL + "/collections/devices",
		PreferredUsername:         user.Handle,
		Endpoints:                 &as.Endpoints{SharedInbox: s.instance.SharedInboxURL()},
		Discoverable:              &discoverable,
		ManuallyApprovesFollowers: &manuallyApproves,
		PublicKey: &as.PublicKey{
			ID:           user.KeyID(),
			Owner:        user.URL,
			PublicKeyPem: user.PublicKey,
		},
	}
	actor.Context = actorContext
	actor.ID = user.URL
	actor.Type = "Person"
	actor.Name = user.Name
	actor.Summary = strings.TrimSpace(render.MarkdownToHTML(user.Summary))
	actor.URL = as.Ref(user.URL)
	actor.Published = user.Created.UTC().Format(time.RFC3339)
	actor.Tag = as.Many(tags...)
	actor.Attachment = as.Many(attachments...)
	actor.Icon = image(user.Images.Profile)
	actor.Image = image(user.Images.Cover)

	return actor, nil
}

// WebFinger resolves an acct: handle or an https url of a local user.
func (s *Service) WebFinger(ctx context.Context, resource string) (types.WebFinger, error) {
	ctx, span := tracer.Start(ctx, "Ap.Service.WebFinger")
	defer span.End()

	if resource == "" {
		return types.WebFinger{}, types.BadRequest(types.ErrBadRequest, "resource is required")
	}

	var user types.User
	var err error
	switch {
	case strings.HasPrefix(resource, "acct:"):
		handle, domain, ok := types.ParseHandle(resource)
		if !ok {
			return types.WebFinger{}, types.BadRequest(types.ErrBadRequest, "invalid resource "+resource)
		}
		if !strings.EqualFold(domain, s.instance.Domain) {
			return types.WebFinger{}, &types.Error{Code: types.ErrNotFound, Class: types.ClassNotFound, Reason: resource}
		}
		user, err = s.localUser(ctx, handle)
	case strings.HasPrefix(resource, "https://"):
		user, err = s.repo.GetUserByURL(ctx, resource)
		if err == nil && !user.Flags.Local {
			err = &types.Error{Code: types.ErrNotFound, Class: types.ClassNotFound, Reason: resource}
		}
	default:
		err = &types.Error{Code: types.ErrNotFound, Class: types.ClassNotFound, Reason: resource}
	}
	if err != nil {
		span.RecordError(err)
		return types.WebFinger{}, err
	}

	return types.WebFinger{
		Subject: "acct:" + user.Handle + "@" + user.Domain,
		Aliases: []string{user.URL},
		Links: []types.WebFingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: user.URL,
			},
		},
	}, nil
}

// HostMeta returns the XRD document pointing at WebFinger.
func (s *Service) HostMeta() types.HostMeta {
	return types.HostMeta{
		Links: []types.HostMetaLink{
			{
				Rel:      "lrdd",
				Template: s.instance.BaseURL() + "/.well-known/webfinger?resource={uri}",
			},
		},
	}
}

func (s *Service) NodeInfoWellKnown(ctx context.Context) (types.WellKnown, error) {
	_, span := tracer.Start(ctx, "Ap.Service.NodeInfoWellKnown")
	defer span.End()
	return types.WellKnown{
		Links: []types.WellKnownLink{
			{
				Rel:  nodeInfoSchema,
				Href: s.instance.BaseURL() + "/" + s.instance.Paths.NodeInfo,
			},
		},
	}, nil
}

func (s *Service) NodeInfo(ctx context.Context) (types.NodeInfo, error) {
	ctx, span := tracer.Start(ctx, "Ap.Service.NodeInfo")
	defer span.End()

	users, err := s.repo.CountLocalUsers(ctx)
	if err != nil {
		span.RecordError(err)
		return types.NodeInfo{}, err
	}

	info := s.info
	info.Version = "2.1"
	info.Protocols = []string{"activitypub"}
	info.Services = types.NodeInfoServices{Inbound: []string{}, Outbound: []string{}}
	info.Usage = types.NodeInfoUsage{Users: map[string]int64{"total": users}}
	if info.Metadata.NodeName == "" {
		info.Metadata.NodeName = s.instance.Title
	}
	if info.Metadata.NodeDescription == "" {
		info.Metadata.NodeDescription = s.instance.Description
	}
	if info.Metadata.Maintainer.Email == "" {
		info.Metadata.Maintainer.Email = s.instance.Email
	}
	return info, nil
}
