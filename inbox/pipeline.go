// Package inbox authenticates activities posted to an inbox. It is the only
// way inbound federation content enters the node.
package inbox

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/mypub/mypub/activitystreams"
	"github.com/mypub/mypub/signature"
	"github.com/mypub/mypub/types"
)

var tracer = otel.Tracer("inbox")

var contentTypeRegex = regexp.MustCompile(`^application/(activity|ld)\+json($|;)`)

// Resolver resolves actor urls. *directory.Directory satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, actorURL string) (types.User, error)
}

// Deduplicator remembers processed activity ids. *store.SeenStore satisfies it.
type Deduplicator interface {
	Seen(ctx context.Context, activityID string) (bool, error)
	Mark(ctx context.Context, activityID string) error
}

// Request is an inbound request as received by the transport. Body must be the
// exact bytes that were signed.
type Request struct {
	Method string
	URL    *url.URL
	Host   string
	Header http.Header
	Body   []byte
}

type Verdict int

const (
	Accepted Verdict = iota
	Ignored
)

func (v Verdict) String() string {
	if v == Ignored {
		return "ignored"
	}
	return "accepted"
}

// Result is the outcome of a request that was not rejected.
type Result struct {
	Verdict  Verdict
	Activity activitystreams.AnyActivity
	// Actor is the authenticated sender. Empty when ignored.
	Actor types.User
}

type Pipeline struct {
	resolver Resolver
	maxAge   time.Duration
	now      func() time.Time
}

func NewPipeline(resolver Resolver) *Pipeline {
	if resolver == nil {
		panic("inbox: resolver is required")
	}
	return &Pipeline{
		resolver: resolver,
		maxAge:   signature.MaxRequestAge,
		now:      time.Now,
	}
}

func badRequest(reason string, err error) error {
	return types.BadRequest(types.ErrBadRequest, reason).WithCause(err)
}

func invalidSignature(reason string, err error) error {
	return types.BadRequest(types.ErrInvalidSignature, reason).WithCause(err)
}

// Authenticate runs req through header checks, schema validation, the ignore
// rule, signature parsing, actor binding, the signed date window, actor
// resolution and finally digest and signature verification. Any failure
// rejects the request. The actor must be a single url equal to the key owner.
func (p *Pipeline) Authenticate(ctx context.Context, req Request, schema activitystreams.Schema) (Result, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Authenticate")
	defer span.End()

	contentType := req.Header.Get("Content-Type")
	digest := req.Header.Get("Digest")
	rawSignature := req.Header.Get("Signature")
	if contentType == "" || digest == "" || rawSignature == "" {
		return Result{}, badRequest("content-type, digest and signature headers are required", nil)
	}
	if !contentTypeRegex.MatchString(contentType) {
		return Result{}, badRequest("unsupported content-type "+contentType, nil)
	}

	value, err := activitystreams.Validate(req.Body, schema)
	if err != nil {
		span.RecordError(err)
		return Result{}, badRequest("invalid activity", err)
	}
	activity, ok := value.(activitystreams.AnyActivity)
	if !ok {
		return Result{}, badRequest("not an activity: "+activitystreams.TypeOf(value), nil)
	}

	if IsSelfDelete(activity) {
		return Result{Verdict: Ignored, Activity: activity}, nil
	}

	sig, err := signature.ParseHeader(rawSignature)
	if err != nil {
		return Result{}, invalidSignature("malformed signature header", err)
	}

	owner, err := signature.KeyOwner(sig.KeyID)
	if err != nil {
		return Result{}, invalidSignature("malformed keyId", err)
	}

	claimed, ok := activity.Activity().Actor.SingleURL()
	if !ok || claimed != owner {
		return Result{}, invalidSignature("actor is not the key owner "+owner, nil)
	}

	if err := signature.CheckDate(req.Header.Get("Date"), p.now(), p.maxAge); err != nil {
		return Result{}, invalidSignature("signed date rejected", err)
	}

	actor, err := p.resolver.Resolve(ctx, owner)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	if err := signature.VerifyDigest(digest, req.Body); err != nil {
		return Result{}, invalidSignature("digest verification failed", err)
	}

	header := req.Header.Clone()
	if req.Host != "" {
		header.Set("Host", req.Host)
	}
	if err := signature.Verify(actor.PublicKey, sig, req.Method, req.URL, header); err != nil {
		return Result{}, invalidSignature("signature verification failed", err)
	}

	return Result{Verdict: Accepted, Activity: activity, Actor: actor}, nil
}

// IsSelfDelete reports whether activity is an account deletion broadcast: a
// Delete of the actor itself, addressed to the public collection, whose id ends
// in #delete. The account is gone, so its key can no longer be fetched.
func IsSelfDelete(activity activitystreams.AnyActivity) bool {
	a := activity.Activity()
	if a.Type != "Delete" || !strings.HasSuffix(a.ID, "#delete") {
		return false
	}

	actor, ok := a.Actor.SingleURL()
	if !ok {
		return false
	}
	object, ok := a.Object.SingleURL()
	if !ok || object != actor {
		return false
	}

	if a.To.Len() < 1 {
		return false
	}
	return activitystreams.IDOf(a.To.Items[0]) == activitystreams.PublicDestination
}
