package follow

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	as "github.com/mypub/mypub/activitystreams"
	"github.com/mypub/mypub/apclient"
	"github.com/mypub/mypub/signature"
	"github.com/mypub/mypub/store"
	"github.com/mypub/mypub/types"
)

const localDomain = "b.example"

var (
	keyOnce sync.Once
	keyPEM  string
)

func privateKey(t *testing.T) string {
	t.Helper()
	keyOnce.Do(func() {
		private, _, err := signature.GenerateKeyPair()
		if err != nil {
			panic(err)
		}
		keyPEM = private
	})
	return keyPEM
}

type resolver struct {
	repo *store.Memory
}

func (r resolver) Resolve(ctx context.Context, actorURL string) (types.User, error) {
	return r.repo.GetUserByURL(ctx, actorURL)
}

func (r resolver) IsLocal(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && u.Host == localDomain
}

type delivery struct {
	Inbox    string
	KeyID    string
	Activity map[string]any
}

type deliverer struct {
	mu         sync.Mutex
	deliveries []delivery
	ok         bool
	err        error
}

func (d *deliverer) PostToInbox(_ context.Context, inbox string, activity any, key apclient.Key) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := json.Marshal(activity)
	if err != nil {
		return false, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return false, err
	}
	d.deliveries = append(d.deliveries, delivery{Inbox: inbox, KeyID: key.ID, Activity: m})
	return d.ok, d.err
}

func (d *deliverer) last(t *testing.T) delivery {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.deliveries)
	return d.deliveries[len(d.deliveries)-1]
}

type fixture struct {
	repo    *store.Memory
	client  *deliverer
	service *Service
	alice   types.User // remote
	bob     types.User // local
	carol   types.User // local, approves followers manually
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMemory()

	create := func(user types.User) types.User {
		created, err := repo.CreateUser(ctx, user)
		require.NoError(t, err)
		return created
	}

	f := &fixture{repo: repo, client: &deliverer{ok: true}}
	f.alice = create(types.User{
		URL: "https://a.example/alice", Handle: "alice", Domain: "a.example",
		InboxURL: "https://a.example/alice/inbox",
	})
	f.bob = create(types.User{
		URL: "https://b.example/users/bob", Handle: "bob", Domain: localDomain,
		PrivateKey: privateKey(t), Flags: types.UserFlags{Local: true},
	})
	f.carol = create(types.User{
		URL: "https://b.example/users/carol", Handle: "carol", Domain: localDomain,
		PrivateKey: privateKey(t), Flags: types.UserFlags{Local: true, ManuallyApprovesFollowers: true},
	})
	f.service = NewService(repo, resolver{repo}, f.client)
	return f
}

func (f *fixture) state(t *testing.T, userID, followsID string) types.FollowState {
	t.Helper()
	edge, err := f.repo.GetFollow(context.Background(), userID, followsID)
	if types.IsCode(err, types.ErrNotFound) {
		return types.FollowStateNotFollowing
	}
	require.NoError(t, err)
	return edge.State
}

func (f *fixture) counts(t *testing.T, id string) types.UserCounts {
	t.Helper()
	user, err := f.repo.GetUser(context.Background(), id)
	require.NoError(t, err)
	return user.Counts
}

func inbound(t *testing.T, body string) as.AnyActivity {
	t.Helper()
	v, err := as.Validate([]byte(body), as.InboxSchema)
	require.NoError(t, err)
	return v.(as.AnyActivity)
}

func TestFollowLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.service.Follow(ctx, f.bob.ID, f.alice.URL)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, types.FollowStatePending, f.state(t, f.bob.ID, f.alice.ID))

	sent := f.client.last(t)
	followID := "https://b.example/users/bob/alice@a.example/follow"
	assert.Equal(t, f.alice.InboxURL, sent.Inbox)
	assert.Equal(t, f.bob.KeyID(), sent.KeyID)
	assert.Equal(t, "Follow", sent.Activity["type"])
	assert.Equal(t, followID, sent.Activity["id"])
	assert.Equal(t, f.bob.URL, sent.Activity["actor"])
	assert.Equal(t, f.alice.URL, sent.Activity["object"])

	outcome, err = f.service.Handle(ctx, inbound(t, `{
		"type": "Accept",
		"id": "https://a.example/alice#accepts/1",
		"actor": "https://a.example/alice",
		"object": {"type": "Follow", "id": "`+followID+`", "actor": "https://b.example/users/bob", "object": "https://a.example/alice"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, types.FollowStateFollowing, f.state(t, f.bob.ID, f.alice.ID))
	assert.Equal(t, int64(1), f.counts(t, f.bob.ID).Following)
	assert.Equal(t, int64(1), f.counts(t, f.alice.ID).Followers)

	// Following again is a no-op.
	outcome, err = f.service.Follow(ctx, f.bob.ID, f.alice.URL)
	require.NoError(t, err)
	assert.Equal(t, Ignored, outcome)

	outcome, err = f.service.Unfollow(ctx, f.bob.ID, f.alice.URL)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, types.FollowStateNotFollowing, f.state(t, f.bob.ID, f.alice.ID))
	assert.Equal(t, int64(0), f.counts(t, f.bob.ID).Following)
	assert.Equal(t, int64(0), f.counts(t, f.alice.ID).Followers)

	sent = f.client.last(t)
	assert.Equal(t, "Undo", sent.Activity["type"])
	assert.Equal(t, followID+"/undo", sent.Activity["id"])
	object := sent.Activity["object"].(map[string]any)
	assert.Equal(t, "Follow", object["type"])
	assert.Equal(t, followID, object["id"])
	assert.NotContains(t, object, "@context")

	outcome, err = f.service.Unfollow(ctx, f.bob.ID, f.alice.URL)
	require.NoError(t, err)
	assert.Equal(t, Ignored, outcome)
}

func TestFollowUndelivered(t *testing.T) {
	f := newFixture(t)
	f.client.ok = false

	outcome, err := f.service.Follow(context.Background(), f.bob.ID, f.alice.URL)
	require.NoError(t, err)
	assert.Equal(t, Undelivered, outcome)
	assert.Equal(t, types.FollowStateNotFollowing, f.state(t, f.bob.ID, f.alice.ID))
	assert.Equal(t, int64(0), f.counts(t, f.bob.ID).Following)
}

func TestFollowSigningFailure(t *testing.T) {
	f := newFixture(t)
	f.client.ok = false
	f.client.err = types.NewError(types.ErrRequestSigning, "broken key")

	outcome, err := f.service.Follow(context.Background(), f.bob.ID, f.alice.URL)
	assert.Equal(t, types.ErrRequestSigning, types.CodeOf(err))
	assert.Equal(t, Undelivered, outcome)
	assert.Equal(t, types.FollowStateNotFollowing, f.state(t, f.bob.ID, f.alice.ID))
}

func TestFollowErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Follow(ctx, f.alice.ID, f.bob.URL)
	assert.Equal(t, types.ErrBadRequest, types.CodeOf(err), "remote users cannot follow through the service")

	_, err = f.service.Follow(ctx, f.bob.ID, f.bob.URL)
	assert.Equal(t, types.ErrBadRequest, types.CodeOf(err))

	_, err = f.service.Follow(ctx, f.bob.ID, "https://a.example/nobody")
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))

	_, err = f.service.Follow(ctx, "missing", f.alice.URL)
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestFollowLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.service.Follow(ctx, f.carol.ID, f.bob.URL)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, types.FollowStateFollowing, f.state(t, f.carol.ID, f.bob.ID))

	outcome, err = f.service.Follow(ctx, f.bob.ID, f.carol.URL)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, types.FollowStatePending, f.state(t, f.bob.ID, f.carol.ID))

	assert.Empty(t, f.client.deliveries)
}

const aliceFollowsBob = `{"type":"Follow","id":"https://a.example/1/follow","actor":"https://a.example/alice","object":"https://b.example/users/bob"}`

func TestReceiveFollow(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.service.Handle(context.Background(), inbound(t, aliceFollowsBob))
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, types.FollowStateFollowing, f.state(t, f.alice.ID, f.bob.ID))
	assert.Equal(t, int64(1), f.counts(t, f.bob.ID).Followers)

	sent := f.client.last(t)
	assert.Equal(t, f.alice.InboxURL, sent.Inbox)
	assert.Equal(t, f.bob.KeyID(), sent.KeyID)
	assert.Equal(t, "Accept", sent.Activity["type"])
	assert.Equal(t, f.bob.URL, sent.Activity["actor"])
	object := sent.Activity["object"].(map[string]any)
	assert.Equal(t, "https://a.example/1/follow", object["id"])
}

func TestReceiveFollowUndelivered(t *testing.T) {
	f := newFixture(t)
	f.client.ok = false

	outcome, err := f.service.Handle(context.Background(), inbound(t, aliceFollowsBob))
	require.NoError(t, err)
	assert.Equal(t, Undelivered, outcome)
	assert.Equal(t, types.FollowStateNotFollowing, f.state(t, f.alice.ID, f.bob.ID))
	assert.Equal(t, int64(0), f.counts(t, f.bob.ID).Followers)
	assert.Equal(t, int64(0), f.counts(t, f.alice.ID).Following)
}

func TestReceiveFollowManualApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.service.Handle(ctx, inbound(t,
		`{"type":"Follow","id":"https://a.example/2/follow","actor":"https://a.example/alice","object":"https://b.example/users/carol"}`))
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, types.FollowStatePending, f.state(t, f.alice.ID, f.carol.ID))
	assert.Empty(t, f.client.deliveries)

	f.client.ok = false
	outcome, err = f.service.Approve(ctx, f.carol.ID, f.alice.URL)
	require.NoError(t, err)
	assert.Equal(t, Undelivered, outcome)
	assert.Equal(t, types.FollowStatePending, f.state(t, f.alice.ID, f.carol.ID))

	f.client.ok = true
	outcome, err = f.service.Approve(ctx, f.carol.ID, f.alice.URL)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, types.FollowStateFollowing, f.state(t, f.alice.ID, f.carol.ID))
	assert.Equal(t, "Accept", f.client.last(t).Activity["type"])

	outcome, err = f.service.Approve(ctx, f.carol.ID, f.alice.URL)
	require.NoError(t, err)
	assert.Equal(t, Ignored, outcome)

	f.client.ok = false
	outcome, err = f.service.Deny(ctx, f.carol.ID, f.alice.URL)
	require.NoError(t, err)
	assert.Equal(t, Undelivered, outcome)
	assert.Equal(t, types.FollowStateFollowing, f.state(t, f.alice.ID, f.carol.ID))
	assert.Equal(t, int64(1), f.counts(t, f.carol.ID).Followers)

	f.client.ok = true
	outcome, err = f.service.Deny(ctx, f.carol.ID, f.alice.URL)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, types.FollowStateNotFollowing, f.state(t, f.alice.ID, f.carol.ID))
	assert.Equal(t, int64(0), f.counts(t, f.carol.ID).Followers)
	assert.Equal(t, "Reject", f.client.last(t).Activity["type"])

	_, err = f.service.Deny(ctx, f.carol.ID, f.alice.URL)
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestReceiveFollowIgnored(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.service.Handle(context.Background(), inbound(t,
		`{"type":"Follow","id":"https://a.example/3/follow","actor":"https://a.example/alice","object":"https://c.example/users/dave"}`))
	require.NoError(t, err)
	assert.Equal(t, Ignored, outcome)
	assert.Empty(t, f.client.deliveries)
}

func TestReceiveResponses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	response := func(typ, followID string) as.AnyActivity {
		return inbound(t, `{"type":"`+typ+`","id":"https://a.example/r","actor":"https://a.example/alice",
			"object":{"type":"Follow","id":"`+followID+`","actor":"https://b.example/users/bob","object":"https://a.example/alice"}}`)
	}

	// Without a matching pending edge, Accept and Reject are no-ops.
	for _, typ := range []string{"Accept", "Reject", "Undo"} {
		outcome, err := f.service.Handle(ctx, response(typ, "https://b.example/unknown"))
		require.NoError(t, err)
		assert.Equal(t, Ignored, outcome, typ)
	}

	_, err := f.service.Follow(ctx, f.bob.ID, f.alice.URL)
	require.NoError(t, err)
	followID := FollowID(f.bob, f.alice)

	outcome, err := f.service.Handle(ctx, response("Reject", followID))
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, types.FollowStateNotFollowing, f.state(t, f.bob.ID, f.alice.ID))
	assert.Equal(t, int64(0), f.counts(t, f.bob.ID).Following)
	assert.Equal(t, int64(0), f.counts(t, f.alice.ID).Followers)

	// Undo from a remote follower.
	_, err = f.service.Handle(ctx, inbound(t, aliceFollowsBob))
	require.NoError(t, err)
	outcome, err = f.service.Handle(ctx, inbound(t, `{"type":"Undo","id":"https://a.example/1/follow/undo","actor":"https://a.example/alice",
		"object":{"type":"Follow","id":"https://a.example/1/follow","actor":"https://a.example/alice","object":"https://b.example/users/bob"}}`))
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, types.FollowStateNotFollowing, f.state(t, f.alice.ID, f.bob.ID))
	assert.Equal(t, int64(0), f.counts(t, f.bob.ID).Followers)
}

func TestHandleUnsupported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, tc := range []struct {
		body string
		code types.ErrorCode
	}{
		{`{"type":"Like","id":"https://a.example/l","actor":"https://a.example/alice","object":"https://b.example/notes/1"}`, types.ErrUnknown},
		{`{"type":"Follow","id":"https://a.example/f","actor":["https://a.example/alice"],"object":"https://b.example/users/bob"}`, types.ErrBadRequest},
		{`{"type":"Follow","actor":"https://a.example/alice","object":"https://b.example/users/bob"}`, types.ErrBadRequest},
		{`{"type":"Follow","id":"https://a.example/f","actor":"https://a.example/alice","object":{"type":"Person","id":"https://b.example/users/bob","inbox":"https://b.example/i","outbox":"https://b.example/o"}}`, types.ErrBadRequest},
		{`{"type":"Accept","id":"https://a.example/a","actor":"https://a.example/alice","object":"https://b.example/follow"}`, types.ErrBadRequest},
		{`{"type":"Undo","id":"https://a.example/u","actor":"https://a.example/alice","object":[{"type":"Follow","id":"https://a.example/f"}]}`, types.ErrBadRequest},
		{`{"type":"Reject","id":"https://a.example/r","actor":"https://a.example/alice","object":{"type":"Follow"}}`, types.ErrBadRequest},
	} {
		_, err := f.service.Handle(ctx, inbound(t, tc.body))
		assert.Equal(t, tc.code, types.CodeOf(err), tc.body)
	}
}

func TestTentative(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	run := func(changed bool, applyErr error, delivered bool, deliverErr error) (Outcome, error, bool) {
		reverted := false
		outcome, err := tentative(ctx, mutation{
			apply:  func(context.Context) (bool, error) { return changed, applyErr },
			revert: func(context.Context) error { reverted = true; return nil },
		}, func(context.Context) (bool, error) { return delivered, deliverErr })
		return outcome, err, reverted
	}

	outcome, err, reverted := run(true, nil, true, nil)
	assert.Equal(t, Applied, outcome)
	assert.NoError(t, err)
	assert.False(t, reverted)

	outcome, err, reverted = run(true, nil, false, nil)
	assert.Equal(t, Undelivered, outcome)
	assert.NoError(t, err)
	assert.True(t, reverted)

	outcome, err, reverted = run(true, nil, false, boom)
	assert.Equal(t, Undelivered, outcome)
	assert.ErrorIs(t, err, boom)
	assert.True(t, reverted)

	outcome, err, reverted = run(false, nil, false, nil)
	assert.Equal(t, Undelivered, outcome)
	assert.NoError(t, err)
	assert.False(t, reverted, "nothing to revert")

	_, err, reverted = run(true, boom, true, nil)
	assert.ErrorIs(t, err, boom)
	assert.False(t, reverted)
}
