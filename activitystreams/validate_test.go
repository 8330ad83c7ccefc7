package activitystreams

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, fixture string, s Schema) Value {
	t.Helper()

	data, err := os.ReadFile(fixture)
	require.NoError(t, err)

	v, err := Validate(data, s)
	require.NoError(t, err)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(out))
	return v
}

func TestValidateMastodonActor(t *testing.T) {
	v := roundTrip(t, "testdata/mastodon-actor.json", ActorSchema)

	actor, ok := v.(*Actor)
	require.True(t, ok)
	assert.Equal(t, "alice", actor.PreferredUsername)
	assert.Equal(t, "https://mastodon.example/inbox", actor.Endpoints.SharedInbox)
	assert.Equal(t, "https://mastodon.example/users/alice#main-key", actor.PublicKey.ID)
	require.NotNil(t, actor.ManuallyApprovesFollowers)
	assert.False(t, *actor.ManuallyApprovesFollowers)

	require.Equal(t, 2, actor.Tag.Len())
	tag, ok := actor.Tag.Items[0].(*Link)
	require.True(t, ok)
	assert.Equal(t, "Hashtag", tag.Type)

	// Emoji is not a known type and falls back to the generic object.
	emoji, ok := actor.Tag.Items[1].(*ObjectValue)
	require.True(t, ok)
	assert.Equal(t, "Emoji", emoji.Type)

	image, ok := actor.Image.Single()
	require.True(t, ok)
	assert.Equal(t, &[2]float64{0, -0.25}, image.(*ObjectValue).FocalPoint)
}

func TestValidateOutboxPage(t *testing.T) {
	v := roundTrip(t, "testdata/mastodon-outbox-page.json", AnySchema)

	page, ok := v.(*OrderedCollectionPage)
	require.True(t, ok)
	require.Equal(t, 2, page.OrderedItems.Len())

	create, ok := page.OrderedItems.Items[0].(*Activity)
	require.True(t, ok)
	note, ok := create.Object.SingleOfType("Note")
	require.True(t, ok)
	replies, ok := note.(*ObjectValue).Replies.(*Collection)
	require.True(t, ok)
	first, ok := replies.First.(*CollectionPage)
	require.True(t, ok)
	assert.Equal(t, 0, first.Items.Len())
	assert.True(t, first.Items.Array)

	announce := page.OrderedItems.Items[1].(*Activity)
	object, ok := announce.Object.SingleURL()
	require.True(t, ok)
	assert.Equal(t, "https://other.example/users/bob/statuses/9", object)
}

func TestValidateFallbackType(t *testing.T) {
	v, err := Validate([]byte(`{"type":"ChatMessage","id":"https://a.example/m/1","content":"hi"}`), AnySchema)
	require.NoError(t, err)

	o, ok := v.(*ObjectValue)
	require.True(t, ok)
	assert.Equal(t, KindObject, o.Kind())
	assert.Equal(t, "ChatMessage", o.Type)
	assert.Equal(t, "hi", o.Content)
}

func TestValidateNullIsAbsent(t *testing.T) {
	v, err := Validate([]byte(`{"type":"Note","summary":null,"inReplyTo":null,"to":null}`), AnySchema)
	require.NoError(t, err)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Note"}`, string(out))
}

func TestValidateQuestion(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{
			name: "oneOf",
			body: `{"type":"Question","id":"https://a.example/q/1","oneOf":[{"type":"Note","name":"yes"},{"type":"Note","name":"no"}]}`,
			ok:   true,
		},
		{
			name: "anyOf",
			body: `{"type":"Question","id":"https://a.example/q/1","anyOf":[{"type":"Note","name":"yes"}],"closed":"2024-01-01T00:00:00Z"}`,
			ok:   true,
		},
		{
			name: "both",
			body: `{"type":"Question","id":"https://a.example/q/1","anyOf":[],"oneOf":[]}`,
		},
		{
			name: "neither",
			body: `{"type":"Question","id":"https://a.example/q/1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Validate([]byte(tt.body), InboxSchema)
			if !tt.ok {
				assert.Nil(t, v)
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "$.oneOf", verr.Path)
				return
			}
			require.NoError(t, err)
			_, ok := v.(*Question)
			assert.True(t, ok)
		})
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		schema Schema
		path   string
	}{
		{"malformed", `{"type":`, AnySchema, "$"},
		{"missing type", `{"id":"https://a.example/1"}`, AnySchema, "$.type"},
		{"not a url", `"not a url"`, AnySchema, "$"},
		{"actor without inbox", `{"type":"Person","id":"https://a.example/u","outbox":"https://a.example/u/outbox"}`, ActorSchema, "$.inbox"},
		{"actor without id", `{"type":"Person","inbox":"https://a.example/i","outbox":"https://a.example/o"}`, ActorSchema, "$.id"},
		{"note is not an actor", `{"type":"Note"}`, ActorSchema, "$.type"},
		{"unknown type in inbox", `{"type":"EmojiReact","actor":"https://a.example/u"}`, InboxSchema, "$.type"},
		{"array at top level", `[{"type":"Follow"}]`, InboxSchema, "$"},
		{"negative width", `{"type":"Image","width":-1}`, AnySchema, "$.width"},
		{"fractional height", `{"type":"Image","height":1.5}`, AnySchema, "$.height"},
		{"focal point out of range", `{"type":"Image","focalPoint":[0.5,1.5]}`, AnySchema, "$.focalPoint[1]"},
		{"zero radius", `{"type":"Place","radius":0}`, AnySchema, "$.radius"},
		{"negative accuracy", `{"type":"Place","accuracy":-3}`, AnySchema, "$.accuracy"},
		{"bad date", `{"type":"Note","published":"yesterday"}`, AnySchema, "$.published"},
		{"nested", `{"type":"Create","actor":"https://a.example/u","object":{"type":"Note","tag":[{"type":"Mention","href":"nope"}]}}`, InboxSchema, "$.object.tag[0].href"},
		{"bad link preview", `{"type":"Link","href":"https://a.example/","preview":{"type":"Image","width":0}}`, AnySchema, "$.preview.width"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Validate([]byte(tt.body), tt.schema)
			assert.Nil(t, v)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.path, verr.Path)
		})
	}
}

func TestValidateTypedMembersFallBack(t *testing.T) {
	tests := []struct {
		name string
		body string
		typ  string
	}{
		{"tombstone without deleted", `{"type":"Tombstone","id":"https://a.example/1"}`, "Tombstone"},
		{"tombstone with bad deleted", `{"type":"Tombstone","id":"https://a.example/1","deleted":"yesterday"}`, "Tombstone"},
		{"property value without value", `{"type":"PropertyValue","name":"Website"}`, "PropertyValue"},
		{"property value with number", `{"type":"PropertyValue","name":"Age","value":3}`, "PropertyValue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Validate([]byte(tt.body), AnySchema)
			require.NoError(t, err)
			o, ok := v.(*ObjectValue)
			require.True(t, ok)
			assert.Equal(t, tt.typ, o.Type)
			assert.Empty(t, o.Deleted)
			assert.Empty(t, o.Value)
		})
	}

	v, err := Validate([]byte(`{"type":"Tombstone","id":"https://a.example/1","deleted":"2024-01-02T03:04:05Z"}`), AnySchema)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T03:04:05Z", v.(*ObjectValue).Deleted)

	v, err = Validate([]byte(`{"type":"PropertyValue","name":"Website","value":"<a href=\"https://a.example\">a.example</a>"}`), AnySchema)
	require.NoError(t, err)
	assert.Equal(t, "Website", v.(*ObjectValue).Name)
	assert.NotEmpty(t, v.(*ObjectValue).Value)
}

func TestValidateStatusDelete(t *testing.T) {
	v, err := Validate([]byte(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "https://a.example/users/alice/statuses/1#delete",
		"type": "Delete",
		"actor": "https://a.example/users/alice",
		"to": ["https://www.w3.org/ns/activitystreams#Public"],
		"object": {"id": "https://a.example/users/alice/statuses/1", "type": "Tombstone", "atomUri": "https://a.example/users/alice/statuses/1"}
	}`), InboxSchema)
	require.NoError(t, err)

	del, ok := v.(*Activity)
	require.True(t, ok)
	tombstone, ok := del.Object.SingleOfType("Tombstone")
	require.True(t, ok)
	assert.Equal(t, "https://a.example/users/alice/statuses/1", IDOf(tombstone))
}

func TestValidateActorWithIncompleteField(t *testing.T) {
	v, err := Validate([]byte(`{
		"type": "Person",
		"id": "https://a.example/users/alice",
		"inbox": "https://a.example/users/alice/inbox",
		"outbox": "https://a.example/users/alice/outbox",
		"preferredUsername": "alice",
		"attachment": [
			{"type": "PropertyValue", "name": "Pronouns"},
			{"type": "PropertyValue", "name": "Website", "value": "https://alice.example"}
		]
	}`), ActorSchema)
	require.NoError(t, err)

	actor := v.(*Actor)
	require.Equal(t, 2, actor.Attachment.Len())
	assert.Equal(t, "Pronouns", actor.Attachment.Items[0].(*ObjectValue).Name)
	assert.Equal(t, "https://alice.example", actor.Attachment.Items[1].(*ObjectValue).Value)
}

func TestValidateRelationShapes(t *testing.T) {
	v, err := Validate([]byte(`{
		"type": "Follow",
		"id": "https://a.example/1",
		"actor": ["https://a.example/alice"],
		"object": {"type": "Person", "id": "https://b.example/bob", "inbox": "https://b.example/bob/inbox", "outbox": "https://b.example/bob/outbox"},
		"to": "https://www.w3.org/ns/activitystreams#Public"
	}`), InboxSchema)
	require.NoError(t, err)

	follow := v.(*Activity)
	_, ok := follow.Actor.SingleURL()
	assert.False(t, ok, "single element array is not a single value")
	assert.True(t, follow.Actor.Contains("https://a.example/alice"))

	_, ok = follow.Object.SingleURL()
	assert.False(t, ok)
	bob, ok := follow.Object.SingleOfType("Person")
	require.True(t, ok)
	assert.Equal(t, "https://b.example/bob", IDOf(bob))

	to, ok := follow.To.SingleURL()
	require.True(t, ok)
	assert.Equal(t, PublicDestination, to)
}

func TestMarshalValues(t *testing.T) {
	out, err := json.Marshal(&Activity{IntransitiveActivity: IntransitiveActivity{
		ObjectValue: ObjectValue{
			Type:   "Undo",
			ID:     "https://a.example/1/undo",
			Object: One(&Activity{IntransitiveActivity: IntransitiveActivity{ObjectValue: ObjectValue{Type: "Follow", ID: "https://a.example/1"}}}),
			Cc:     Many(),
		},
		Actor: Ref("https://a.example/alice"),
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "Undo",
		"id": "https://a.example/1/undo",
		"actor": "https://a.example/alice",
		"object": {"type": "Follow", "id": "https://a.example/1"},
		"cc": []
	}`, string(out))
}
