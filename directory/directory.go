// Package directory resolves actor urls to users, fetching and storing remote
// actors on the way.
package directory

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/mypub/mypub/activitystreams"
	"github.com/mypub/mypub/apclient"
	"github.com/mypub/mypub/render"
	"github.com/mypub/mypub/signature"
	"github.com/mypub/mypub/store"
	"github.com/mypub/mypub/types"
)

var tracer = otel.Tracer("directory")

// Fetcher fetches raw actor documents. *apclient.ApClient satisfies it.
type Fetcher interface {
	FetchActor(ctx context.Context, actorURL string, key apclient.Key) ([]byte, error)
}

type Directory struct {
	repo     store.Repository
	fetcher  Fetcher
	instance types.InstanceConfig

	mu     sync.Mutex
	ownKey *apclient.Key
}

// NewDirectory returns a Directory. All collaborators are required.
func NewDirectory(repo store.Repository, fetcher Fetcher, instance types.InstanceConfig) *Directory {
	if repo == nil || fetcher == nil {
		panic("directory: repository and fetcher are required")
	}
	if instance.Domain == "" {
		panic("directory: instance domain is required")
	}
	return &Directory{
		repo:     repo,
		fetcher:  fetcher,
		instance: instance,
	}
}

// IsLocal reports whether rawURL belongs to this instance.
func (d *Directory) IsLocal(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && strings.EqualFold(u.Host, d.instance.Domain)
}

// Resolve returns the user at actorURL. Local users are looked up without
// network access; remote actors are fetched, mapped and upserted by url.
func (d *Directory) Resolve(ctx context.Context, actorURL string) (types.User, error) {
	ctx, span := tracer.Start(ctx, "Directory.Resolve")
	defer span.End()

	u, err := url.Parse(actorURL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return types.User{}, types.BadRequest(types.ErrInvalidActorURL, actorURL)
	}

	if strings.EqualFold(u.Host, d.instance.Domain) {
		return d.repo.GetUserByURL(ctx, actorURL)
	}

	key, err := d.InstanceKey(ctx)
	if err != nil {
		span.RecordError(err)
		return types.User{}, err
	}

	body, err := d.fetcher.FetchActor(ctx, actorURL, key)
	if err != nil {
		span.RecordError(err)
		return types.User{}, err
	}

	value, err := activitystreams.Validate(body, activitystreams.ActorSchema)
	if err != nil {
		span.RecordError(err)
		return types.User{}, types.WrapError(types.ErrInvalidServerResponse, err, actorURL)
	}

	user, err := MapActor(value.(*activitystreams.Actor), actorURL)
	if err != nil {
		return types.User{}, err
	}

	return d.repo.UpsertUserByURL(ctx, user)
}

// InstanceKey returns the key of the instance actor, used to sign requests that
// are not made on behalf of a particular user. It is loaded once.
func (d *Directory) InstanceKey(ctx context.Context) (apclient.Key, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ownKey != nil {
		return *d.ownKey, nil
	}

	admin, err := d.repo.GetUserByHandle(ctx, d.instance.AdminHandle, d.instance.Domain)
	if err != nil {
		if types.IsCode(err, types.ErrNotFound) {
			return apclient.Key{}, types.NewError(types.ErrMissingInstance, "instance actor "+d.instance.AdminHandle+" is not provisioned")
		}
		return apclient.Key{}, err
	}

	key, err := UserKey(admin)
	if err != nil {
		return apclient.Key{}, err
	}
	d.ownKey = &key
	return key, nil
}

// UserKey returns the signing key of a local user.
func UserKey(user types.User) (apclient.Key, error) {
	if user.PrivateKey == "" {
		return apclient.Key{}, types.NewError(types.ErrRequestSigning, user.URL+" has no private key")
	}
	private, err := signature.ParsePrivateKey(user.PrivateKey)
	if err != nil {
		return apclient.Key{}, types.WrapError(types.ErrRequestSigning, err, user.URL)
	}
	return apclient.Key{ID: user.KeyID(), Private: private}, nil
}

// MapActor converts a remote actor document into a user.
func MapActor(actor *activitystreams.Actor, actorURL string) (types.User, error) {
	if actor.ID != actorURL {
		return types.User{}, types.ErrInvalidActor.Errorf("actor id %s does not match %s", actor.ID, actorURL)
	}
	if actor.PreferredUsername == "" {
		return types.User{}, types.NewError(types.ErrInvalidActor, "missing preferredUsername")
	}
	if actor.PublicKey == nil || actor.PublicKey.PublicKeyPem == "" {
		return types.User{}, types.NewError(types.ErrInvalidActor, "missing publicKey")
	}
	if _, err := signature.ParsePublicKey(actor.PublicKey.PublicKeyPem); err != nil {
		return types.User{}, types.WrapError(types.ErrInvalidActor, err, "unusable publicKey")
	}

	name := actor.Name
	if name == "" {
		for _, v := range actor.NameMap {
			name = v
			break
		}
	}
	if name == "" {
		// Mastodon sends an empty name when none is set.
		name = actor.PreferredUsername
	}

	u, _ := url.Parse(actorURL)

	user := types.User{
		URL:       actorURL,
		Handle:    actor.PreferredUsername,
		Domain:    u.Hostname(),
		Name:      name,
		Summary:   render.HTMLToMarkdown(actor.Summary),
		Tags:      hashtags(actor.Tag),
		Links:     profileLinks(actor.Attachment),
		InboxURL:  actor.Inbox,
		PublicKey: actor.PublicKey.PublicKeyPem,
		Images: types.UserImages{
			Profile: imageURL(actor.Icon),
			Cover:   imageURL(actor.Image),
		},
	}
	if actor.ManuallyApprovesFollowers != nil {
		user.Flags.ManuallyApprovesFollowers = *actor.ManuallyApprovesFollowers
	}
	return user, nil
}

func hashtags(tags *activitystreams.Values) []string {
	result := []string{}
	if tags == nil {
		return result
	}
	for _, v := range tags.Items {
		link, ok := v.(*activitystreams.Link)
		if !ok || link.Type != "Hashtag" || link.Name == "" {
			continue
		}
		result = append(result, strings.TrimPrefix(link.Name, "#"))
	}
	return result
}

func profileLinks(attachments *activitystreams.Values) []types.UserLink {
	result := []types.UserLink{}
	if attachments == nil {
		return result
	}
	for _, v := range attachments.Items {
		obj, ok := v.(*activitystreams.ObjectValue)
		if !ok || obj.Type != "PropertyValue" || obj.Value == "" {
			continue
		}
		result = append(result, types.UserLink{Name: obj.Name, Href: render.FirstLink(obj.Value)})
	}
	return result
}

// imageURL returns the first usable url of an icon or image relation.
func imageURL(images *activitystreams.Values) string {
	if images == nil {
		return ""
	}
	for _, v := range images.Items {
		switch t := v.(type) {
		case activitystreams.URL:
			return string(t)
		case *activitystreams.Link:
			if t.Href != "" {
				return t.Href
			}
		case *activitystreams.ObjectValue:
			if s := imageURL(t.URL); s != "" {
				return s
			}
		}
	}
	return ""
}

var _ Fetcher = (*apclient.ApClient)(nil)
