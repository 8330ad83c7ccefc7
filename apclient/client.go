package apclient

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/mypub/mypub/signature"
	"github.com/mypub/mypub/types"
)

var (
	UserAgent = "MyPub/1.0 (+https://github.com/mypub/mypub)"
)

const (
	ContentTypeActivity = "application/activity+json"
	ContentTypeJRD      = "application/jrd+json"

	actorCacheSeconds = 1800
	maxBodySize       = 1 << 20
)

var tracer = otel.Tracer("apclient")

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Cache stores fetched actor documents. *memcache.Client satisfies it.
type Cache interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
}

// Key is the key material a request is signed with.
type Key struct {
	ID      string
	Private *rsa.PrivateKey
}

type ApClient struct {
	client  Doer
	mc      Cache
	timeout time.Duration
}

// NewApClient returns a client. mc may be nil to disable caching.
func NewApClient(
	client Doer,
	mc Cache,
	timeout time.Duration,
) *ApClient {
	return &ApClient{
		client,
		mc,
		timeout,
	}
}

func (c *ApClient) newRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	req.Header.Set("User-Agent", UserAgent)
	return req, nil
}

func (c *ApClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// FetchActor returns the raw actor document at actorURL, fetched with a request
// signed by key. Documents are cached for half an hour.
func (c *ApClient) FetchActor(ctx context.Context, actorURL string, key Key) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "ApClient.FetchActor")
	defer span.End()

	cacheKey := "actor:" + actorURL
	if c.mc != nil {
		if item, err := c.mc.Get(cacheKey); err == nil {
			return item.Value, nil
		}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, actorURL, nil)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidActorURL, err, actorURL)
	}
	req.Header.Set("Accept", ContentTypeActivity)

	if err := signature.SignRequest(req, nil, key.ID, key.Private); err != nil {
		span.RecordError(err)
		return nil, types.WrapError(types.ErrRequestSigning, err, actorURL)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, types.WrapError(types.ErrInvalidServerResponse, err, actorURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.ErrInvalidServerResponse.Errorf("%s returned %d", actorURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		span.RecordError(err)
		return nil, types.WrapError(types.ErrInvalidServerResponse, err, actorURL)
	}

	if c.mc != nil {
		if err := c.mc.Set(&memcache.Item{Key: cacheKey, Value: body, Expiration: actorCacheSeconds}); err != nil {
			slog.DebugContext(ctx, "failed to cache actor", slog.String("url", actorURL), slog.String("error", err.Error()))
		}
	}

	return body, nil
}

// PostToInbox delivers activity to inbox with a request signed by key.
// A transport failure or a non-2xx response is reported as false with a nil
// error; a missing inbox or a signing failure is an error.
func (c *ApClient) PostToInbox(ctx context.Context, inbox string, activity any, key Key) (bool, error) {
	ctx, span := tracer.Start(ctx, "ApClient.PostToInbox")
	defer span.End()

	if inbox == "" {
		return false, types.NewError(types.ErrMissingInbox, "recipient has no inbox")
	}

	body, err := json.Marshal(activity)
	if err != nil {
		span.RecordError(err)
		return false, types.WrapError(types.ErrUnknown, err, "failed to encode activity")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, inbox, body)
	if err != nil {
		return false, types.WrapError(types.ErrInvalidActorURL, err, inbox)
	}
	req.Header.Set("Content-Type", ContentTypeActivity)

	if err := signature.SignRequest(req, body, key.ID, key.Private); err != nil {
		span.RecordError(err)
		return false, types.WrapError(types.ErrRequestSigning, err, inbox)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "delivery failed", slog.String("inbox", inbox), slog.String("error", err.Error()))
		return false, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.WarnContext(ctx, "delivery rejected", slog.String("inbox", inbox), slog.Int("status", resp.StatusCode))
		return false, nil
	}

	return true, nil
}

// ResolveActor looks up the actor url of a user@domain handle with WebFinger.
func (c *ApClient) ResolveActor(ctx context.Context, handle string) (string, error) {
	ctx, span := tracer.Start(ctx, "ApClient.ResolveActor")
	defer span.End()

	user, domain, ok := types.ParseHandle(handle)
	if !ok {
		return "", types.BadRequest(types.ErrInvalidActorURL, fmt.Sprintf("invalid handle %q", handle))
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	target := "https://" + domain + "/.well-known/webfinger?resource=" + url.QueryEscape("acct:"+user+"@"+domain)
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", types.WrapError(types.ErrInvalidActorURL, err, handle)
	}
	req.Header.Set("Accept", ContentTypeJRD)

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", types.WrapError(types.ErrInvalidServerResponse, err, target)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", &types.Error{Code: types.ErrNotFound, Class: types.ClassNotFound, Reason: handle}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", types.ErrInvalidServerResponse.Errorf("%s returned %d", target, resp.StatusCode)
	}

	var webfinger types.WebFinger
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&webfinger); err != nil {
		span.RecordError(err)
		return "", types.WrapError(types.ErrInvalidServerResponse, err, target)
	}

	for _, link := range webfinger.Links {
		if link.Rel == "self" && (link.Type == ContentTypeActivity || link.Type == `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`) {
			return link.Href, nil
		}
	}

	return "", &types.Error{Code: types.ErrNotFound, Class: types.ClassNotFound, Reason: "no actor link for " + handle}
}
