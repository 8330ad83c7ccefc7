// Package activitystreams implements the ActivityPub vocabulary as a closed set
// of tagged variants and validates arbitrary JSON against it.
package activitystreams

import (
	"encoding/json"
)

const (
	// ContextURL is the ActivityStreams JSON-LD context.
	ContextURL = "https://www.w3.org/ns/activitystreams"
	// SecurityContextURL is the context defining publicKey.
	SecurityContextURL = "https://w3id.org/security/v1"
	// PublicDestination is the special collection addressing everyone.
	PublicDestination = "https://www.w3.org/ns/activitystreams#Public"
)

// Kind identifies a variant of the Value union.
type Kind int

const (
	KindURL Kind = iota
	KindLink
	KindObject
	KindActor
	KindActivity
	KindIntransitiveActivity
	KindQuestion
	KindCollection
	KindCollectionPage
	KindOrderedCollection
	KindOrderedCollectionPage
)

var kindNames = [...]string{
	KindURL:                   "Url",
	KindLink:                  "Link",
	KindObject:                "Object",
	KindActor:                 "Actor",
	KindActivity:              "Activity",
	KindIntransitiveActivity:  "IntransitiveActivity",
	KindQuestion:              "Question",
	KindCollection:            "Collection",
	KindCollectionPage:        "CollectionPage",
	KindOrderedCollection:     "OrderedCollection",
	KindOrderedCollectionPage: "OrderedCollectionPage",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Value is one arm of the ActivityPub value union.
type Value interface {
	Kind() Kind
}

// URL is a bare URI reference.
type URL string

func (URL) Kind() Kind { return KindURL }

// objectish is implemented by every variant built on ObjectValue.
type objectish interface {
	Value
	Base() *ObjectValue
}

// TypeOf returns the type discriminator of v, or "" for bare URLs.
func TypeOf(v Value) string {
	switch t := v.(type) {
	case *Link:
		return t.Type
	case objectish:
		return t.Base().Type
	}
	return ""
}

// IDOf returns the identifier of v: the URL itself, a link's href, or an object's id.
func IDOf(v Value) string {
	switch t := v.(type) {
	case URL:
		return string(t)
	case *Link:
		return t.Href
	case objectish:
		return t.Base().ID
	}
	return ""
}

// Values holds a relation that is either a single value or an array of values.
type Values struct {
	Items []Value
	// Array records that the relation was an array, even with a single item.
	Array bool
}

// One returns a single valued relation.
func One(v Value) *Values {
	return &Values{Items: []Value{v}}
}

// Many returns an array valued relation.
func Many(vs ...Value) *Values {
	if vs == nil {
		vs = []Value{}
	}
	return &Values{Items: vs, Array: true}
}

// Ref returns a single valued relation holding a URL.
func Ref(url string) *Values {
	return One(URL(url))
}

// Len returns the number of values, 0 for a nil relation.
func (v *Values) Len() int {
	if v == nil {
		return 0
	}
	return len(v.Items)
}

// Single returns the value of a relation that is exactly one non-array value.
func (v *Values) Single() (Value, bool) {
	if v == nil || v.Array || len(v.Items) != 1 {
		return nil, false
	}
	return v.Items[0], true
}

// SingleURL returns the URL of a relation that is exactly one bare URL.
func (v *Values) SingleURL() (string, bool) {
	one, ok := v.Single()
	if !ok {
		return "", false
	}
	u, ok := one.(URL)
	return string(u), ok
}

// SingleOfType returns the value of a single valued relation whose type is typ.
func (v *Values) SingleOfType(typ string) (Value, bool) {
	one, ok := v.Single()
	if !ok || TypeOf(one) != typ {
		return nil, false
	}
	return one, true
}

// Contains reports whether any value of the relation has the given id.
func (v *Values) Contains(id string) bool {
	if v == nil {
		return false
	}
	for _, item := range v.Items {
		if IDOf(item) == id {
			return true
		}
	}
	return false
}

func (v Values) MarshalJSON() ([]byte, error) {
	if !v.Array && len(v.Items) == 1 {
		return json.Marshal(v.Items[0])
	}
	items := v.Items
	if items == nil {
		items = []Value{}
	}
	return json.Marshal(items)
}
