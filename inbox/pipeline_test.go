package inbox

import (
	"context"
	"crypto/rsa"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mypub/mypub/activitystreams"
	"github.com/mypub/mypub/signature"
	"github.com/mypub/mypub/types"
)

const (
	aliceURL = "https://a.example/alice"
	inboxURL = "https://b.example/inbox"
)

var (
	keysOnce   sync.Once
	privateKey *rsa.PrivateKey
	publicPEM  string
	otherPEM   string
)

func keys(t *testing.T) {
	t.Helper()
	keysOnce.Do(func() {
		private, public, err := signature.GenerateKeyPair()
		if err != nil {
			panic(err)
		}
		privateKey, err = signature.ParsePrivateKey(private)
		if err != nil {
			panic(err)
		}
		publicPEM = public

		_, otherPEM, err = signature.GenerateKeyPair()
		if err != nil {
			panic(err)
		}
	})
}

type fakeResolver struct {
	users    map[string]types.User
	resolved []string
}

func (f *fakeResolver) Resolve(_ context.Context, actorURL string) (types.User, error) {
	f.resolved = append(f.resolved, actorURL)
	user, ok := f.users[actorURL]
	if !ok {
		return types.User{}, types.ErrInvalidServerResponse.Errorf("%s returned 410", actorURL)
	}
	return user, nil
}

func newResolver(pem string) *fakeResolver {
	return &fakeResolver{users: map[string]types.User{
		aliceURL: {ID: "alice", URL: aliceURL, Handle: "alice", Domain: "a.example", PublicKey: pem},
	}}
}

func signedRequest(t *testing.T, body, keyID string) Request {
	t.Helper()
	keys(t)

	header := http.Header{}
	header.Set("Content-Type", "application/activity+json")

	signed, err := signature.Sign(http.MethodPost, inboxURL, header, []byte(body), keyID, privateKey)
	require.NoError(t, err)

	header.Set("Date", signed.Date)
	header.Set("Digest", signed.Digest)
	header.Set("Signature", signed.Signature)

	u, err := url.Parse(inboxURL)
	require.NoError(t, err)

	return Request{Method: http.MethodPost, URL: u, Host: u.Host, Header: header, Body: []byte(body)}
}

const followBody = `{"type":"Follow","id":"https://a.example/1/follow","actor":"https://a.example/alice","object":"https://b.example/bob"}`

func TestAuthenticateFollow(t *testing.T) {
	keys(t)
	resolver := newResolver(publicPEM)
	p := NewPipeline(resolver)

	res, err := p.Authenticate(context.Background(), signedRequest(t, followBody, aliceURL+"#main-key"), activitystreams.InboxSchema)
	require.NoError(t, err)

	assert.Equal(t, Accepted, res.Verdict)
	assert.Equal(t, "alice", res.Actor.ID)
	assert.Equal(t, "Follow", res.Activity.Activity().Type)
	assert.Equal(t, []string{aliceURL}, resolver.resolved)
}

func TestAuthenticateSelfDelete(t *testing.T) {
	resolver := newResolver("")
	p := NewPipeline(resolver)

	for _, to := range []string{
		`["https://www.w3.org/ns/activitystreams#Public"]`,
		`"https://www.w3.org/ns/activitystreams#Public"`,
	} {
		body := `{"type":"Delete","id":"https://a.example/alice#delete","actor":"https://a.example/alice","object":"https://a.example/alice","to":` + to + `}`
		req := Request{
			Method: http.MethodPost,
			URL:    &url.URL{Scheme: "https", Host: "b.example", Path: "/inbox"},
			Header: http.Header{
				"Content-Type": {"application/activity+json"},
				"Digest":       {"SHA-256=bogus"},
				"Signature":    {`keyId="https://a.example/alice#main-key",headers="date",signature="x"`},
			},
			Body: []byte(body),
		}

		res, err := p.Authenticate(context.Background(), req, activitystreams.InboxSchema)
		require.NoError(t, err)
		assert.Equal(t, Ignored, res.Verdict)
	}
	assert.Empty(t, resolver.resolved, "ignored deletes are not resolved")
}

func TestIsSelfDelete(t *testing.T) {
	for _, tc := range []struct {
		body string
		want bool
	}{
		{`{"type":"Delete","id":"https://a/x#delete","actor":"https://a/x","object":"https://a/x","to":["https://www.w3.org/ns/activitystreams#Public"]}`, true},
		{`{"type":"Delete","id":"https://a/x#delete","actor":"https://a/x","object":"https://a/y","to":["https://www.w3.org/ns/activitystreams#Public"]}`, false},
		{`{"type":"Delete","id":"https://a/x/1","actor":"https://a/x","object":"https://a/x","to":["https://www.w3.org/ns/activitystreams#Public"]}`, false},
		{`{"type":"Delete","id":"https://a/x#delete","actor":"https://a/x","object":"https://a/x","to":["https://a/x/followers"]}`, false},
		{`{"type":"Delete","id":"https://a/x#delete","actor":"https://a/x","object":"https://a/x"}`, false},
		{`{"type":"Update","id":"https://a/x#delete","actor":"https://a/x","object":"https://a/x","to":["https://www.w3.org/ns/activitystreams#Public"]}`, false},
	} {
		v, err := activitystreams.Validate([]byte(tc.body), activitystreams.InboxSchema)
		require.NoError(t, err)
		assert.Equal(t, tc.want, IsSelfDelete(v.(activitystreams.AnyActivity)), tc.body)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	keys(t)
	keyID := aliceURL + "#main-key"

	withHeader := func(name, value string) func(*Request) {
		return func(r *Request) { r.Header.Set(name, value) }
	}

	for _, tc := range []struct {
		name     string
		body     string
		keyID    string
		pem      string
		mutate   func(*Request)
		code     types.ErrorCode
		status   int
		resolved bool
	}{
		{
			name:   "missing digest header",
			mutate: func(r *Request) { r.Header.Del("Digest") },
			code:   types.ErrBadRequest,
			status: http.StatusBadRequest,
		},
		{
			name:   "missing signature header",
			mutate: func(r *Request) { r.Header.Del("Signature") },
			code:   types.ErrBadRequest,
			status: http.StatusBadRequest,
		},
		{
			name:   "wrong content type",
			mutate: withHeader("Content-Type", "application/json"),
			code:   types.ErrBadRequest,
			status: http.StatusBadRequest,
		},
		{
			name:   "malformed json",
			body:   `{"type":`,
			code:   types.ErrBadRequest,
			status: http.StatusBadRequest,
		},
		{
			name:   "not an activity",
			body:   `{"type":"Note","id":"https://a.example/notes/1","content":"hi"}`,
			code:   types.ErrBadRequest,
			status: http.StatusBadRequest,
		},
		{
			name: "digest not signed",
			mutate: func(r *Request) {
				sig, err := signature.ParseHeader(r.Header.Get("Signature"))
				require.NoError(t, err)
				kept := sig.Headers[:0]
				for _, h := range sig.Headers {
					if h != "digest" {
						kept = append(kept, h)
					}
				}
				sig.Headers = kept
				r.Header.Set("Signature", sig.String())
			},
			code:   types.ErrInvalidSignature,
			status: http.StatusBadRequest,
		},
		{
			name:   "actor is not the key owner",
			keyID:  "https://a.example/mallory#main-key",
			code:   types.ErrInvalidSignature,
			status: http.StatusBadRequest,
		},
		{
			name:   "actor array naming someone else",
			body:   `{"type":"Follow","id":"https://a.example/1/follow","actor":["https://victim.example/eve"],"object":"https://b.example/bob"}`,
			code:   types.ErrInvalidSignature,
			status: http.StatusBadRequest,
		},
		{
			name:   "actor array naming the key owner",
			body:   `{"type":"Follow","id":"https://a.example/1/follow","actor":["https://a.example/alice"],"object":"https://b.example/bob"}`,
			code:   types.ErrInvalidSignature,
			status: http.StatusBadRequest,
		},
		{
			name:   "date outside the accepted window",
			mutate: withHeader("Date", "Mon, 02 Jan 2006 15:04:05 GMT"),
			code:   types.ErrInvalidSignature,
			status: http.StatusBadRequest,
		},
		{
			name:   "date missing",
			mutate: func(r *Request) { r.Header.Del("Date") },
			code:   types.ErrInvalidSignature,
			status: http.StatusBadRequest,
		},
		{
			name:     "body does not match digest",
			mutate:   func(r *Request) { r.Body = []byte(strings.Replace(string(r.Body), "bob", "eve", 1)) },
			code:     types.ErrInvalidSignature,
			status:   http.StatusBadRequest,
			resolved: true,
		},
		{
			name:     "signed by another key",
			pem:      "other",
			code:     types.ErrInvalidSignature,
			status:   http.StatusBadRequest,
			resolved: true,
		},
		{
			name:     "date changed after signing",
			mutate:   withHeader("Date", time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)),
			code:     types.ErrInvalidSignature,
			status:   http.StatusBadRequest,
			resolved: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			body := tc.body
			if body == "" {
				body = followBody
			}
			id := tc.keyID
			if id == "" {
				id = keyID
			}
			pem := publicPEM
			if tc.pem == "other" {
				pem = otherPEM
			}

			resolver := newResolver(pem)
			p := NewPipeline(resolver)

			req := signedRequest(t, body, id)
			if tc.mutate != nil {
				tc.mutate(&req)
			}

			_, err := p.Authenticate(context.Background(), req, activitystreams.InboxSchema)
			require.Error(t, err)
			assert.Equal(t, tc.code, types.CodeOf(err), "%v", err)
			assert.Equal(t, tc.status, types.StatusOf(err))
			assert.Equal(t, tc.resolved, len(resolver.resolved) > 0)
		})
	}
}

func TestAuthenticateClockSkew(t *testing.T) {
	keys(t)

	for _, skew := range []time.Duration{-6 * time.Minute, 6 * time.Minute} {
		resolver := newResolver(publicPEM)
		p := NewPipeline(resolver)
		p.now = func() time.Time { return time.Now().Add(skew) }

		_, err := p.Authenticate(context.Background(), signedRequest(t, followBody, aliceURL+"#main-key"), activitystreams.InboxSchema)
		assert.Equal(t, types.ErrInvalidSignature, types.CodeOf(err), "skew %s", skew)
		assert.Empty(t, resolver.resolved)
	}

	resolver := newResolver(publicPEM)
	p := NewPipeline(resolver)
	p.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err := p.Authenticate(context.Background(), signedRequest(t, followBody, aliceURL+"#main-key"), activitystreams.InboxSchema)
	assert.NoError(t, err)
}

func TestAuthenticateResolutionFailure(t *testing.T) {
	p := NewPipeline(&fakeResolver{users: map[string]types.User{}})

	_, err := p.Authenticate(context.Background(), signedRequest(t, followBody, aliceURL+"#main-key"), activitystreams.InboxSchema)
	assert.Equal(t, types.ErrInvalidServerResponse, types.CodeOf(err))
}
