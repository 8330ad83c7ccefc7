package activitystreams

// Link is a reference to a resource with metadata. Hashtag and Mention are links.
type Link struct {
	Context   any               `json:"@context,omitempty"`
	ID        string            `json:"id,omitempty"`
	Type      string            `json:"type"`
	Href      string            `json:"href,omitempty"`
	Rel       any               `json:"rel,omitempty"`
	MediaType string            `json:"mediaType,omitempty"`
	Name      string            `json:"name,omitempty"`
	NameMap   map[string]string `json:"nameMap,omitempty"`
	Hreflang  string            `json:"hreflang,omitempty"`
	Height    *int              `json:"height,omitempty"`
	Width     *int              `json:"width,omitempty"`
	Preview   Value             `json:"preview,omitempty"`
}

func (*Link) Kind() Kind { return KindLink }

type Source struct {
	Content   string `json:"content"`
	MediaType string `json:"mediaType"`
}

// ObjectValue is the generic content bearing node. It is also the fallback arm
// for types this package does not know.
type ObjectValue struct {
	Context any    `json:"@context,omitempty"`
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`

	Name       string            `json:"name,omitempty"`
	NameMap    map[string]string `json:"nameMap,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	SummaryMap map[string]string `json:"summaryMap,omitempty"`
	Content    string            `json:"content,omitempty"`
	ContentMap map[string]string `json:"contentMap,omitempty"`
	Source     *Source           `json:"source,omitempty"`
	MediaType  string            `json:"mediaType,omitempty"`
	Duration   string            `json:"duration,omitempty"`

	Published string `json:"published,omitempty"`
	Updated   string `json:"updated,omitempty"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`

	Sensitive    *bool       `json:"sensitive,omitempty"`
	Blurhash     string      `json:"blurhash,omitempty"`
	FocalPoint   *[2]float64 `json:"focalPoint,omitempty"`
	Width        *int        `json:"width,omitempty"`
	Height       *int        `json:"height,omitempty"`
	Conversation string      `json:"conversation,omitempty"`

	Attachment   *Values `json:"attachment,omitempty"`
	AttributedTo *Values `json:"attributedTo,omitempty"`
	Audience     *Values `json:"audience,omitempty"`
	Bcc          *Values `json:"bcc,omitempty"`
	Bto          *Values `json:"bto,omitempty"`
	Cc           *Values `json:"cc,omitempty"`
	To           *Values `json:"to,omitempty"`
	InContext    *Values `json:"context,omitempty"`
	Generator    *Values `json:"generator,omitempty"`
	Icon         *Values `json:"icon,omitempty"`
	Image        *Values `json:"image,omitempty"`
	InReplyTo    *Values `json:"inReplyTo,omitempty"`
	Location     *Values `json:"location,omitempty"`
	Tag          *Values `json:"tag,omitempty"`
	URL          *Values `json:"url,omitempty"`
	Preview      Value   `json:"preview,omitempty"`
	Replies      Value   `json:"replies,omitempty"`
	Likes        Value   `json:"likes,omitempty"`
	Shares       Value   `json:"shares,omitempty"`

	// Object is the activity object, or the object of a Relationship.
	Object *Values `json:"object,omitempty"`

	// Place
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Radius    *float64 `json:"radius,omitempty"`
	Units     string   `json:"units,omitempty"`

	// Tombstone
	FormerType string `json:"formerType,omitempty"`
	Deleted    string `json:"deleted,omitempty"`

	// PropertyValue
	Value string `json:"value,omitempty"`

	// Profile
	Describes Value `json:"describes,omitempty"`

	// Relationship
	Subject      Value   `json:"subject,omitempty"`
	Relationship *Values `json:"relationship,omitempty"`
}

func (*ObjectValue) Kind() Kind { return KindObject }

func (o *ObjectValue) Base() *ObjectValue { return o }

type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// Actor is an object that can send and receive activities.
type Actor struct {
	ObjectValue
	Inbox                     string     `json:"inbox"`
	Outbox                    string     `json:"outbox"`
	Followers                 string     `json:"followers,omitempty"`
	Following                 string     `json:"following,omitempty"`
	Featured                  string     `json:"featured,omitempty"`
	FeaturedTags              string     `json:"featuredTags,omitempty"`
	Devices                   string     `json:"devices,omitempty"`
	PreferredUsername         string     `json:"preferredUsername,omitempty"`
	AlsoKnownAs               *Values    `json:"alsoKnownAs,omitempty"`
	MovedTo                   string     `json:"movedTo,omitempty"`
	Endpoints                 *Endpoints `json:"endpoints,omitempty"`
	PublicKey                 *PublicKey `json:"publicKey,omitempty"`
	Discoverable              *bool      `json:"discoverable,omitempty"`
	ManuallyApprovesFollowers *bool      `json:"manuallyApprovesFollowers,omitempty"`
	Indexable                 *bool      `json:"indexable,omitempty"`
	Memorial                  *bool      `json:"memorial,omitempty"`
}

func (*Actor) Kind() Kind { return KindActor }

// AnyActivity is implemented by Activity, IntransitiveActivity and Question.
type AnyActivity interface {
	Value
	Base() *ObjectValue
	Activity() *IntransitiveActivity
}

// IntransitiveActivity is an activity without an object, such as Arrive or Travel.
type IntransitiveActivity struct {
	ObjectValue
	Actor      *Values `json:"actor,omitempty"`
	Target     *Values `json:"target,omitempty"`
	Origin     *Values `json:"origin,omitempty"`
	Result     *Values `json:"result,omitempty"`
	Instrument *Values `json:"instrument,omitempty"`
}

func (*IntransitiveActivity) Kind() Kind { return KindIntransitiveActivity }

func (a *IntransitiveActivity) Activity() *IntransitiveActivity { return a }

// Activity is an action of an actor on an object.
type Activity struct {
	IntransitiveActivity
}

func (*Activity) Kind() Kind { return KindActivity }

// Question offers either anyOf or oneOf choices, never both.
type Question struct {
	IntransitiveActivity
	AnyOf  *Values `json:"anyOf,omitempty"`
	OneOf  *Values `json:"oneOf,omitempty"`
	Closed any     `json:"closed,omitempty"`
}

func (*Question) Kind() Kind { return KindQuestion }

type Collection struct {
	ObjectValue
	TotalItems *int    `json:"totalItems,omitempty"`
	Current    Value   `json:"current,omitempty"`
	First      Value   `json:"first,omitempty"`
	Last       Value   `json:"last,omitempty"`
	Items      *Values `json:"items,omitempty"`
}

func (*Collection) Kind() Kind { return KindCollection }

type CollectionPage struct {
	Collection
	PartOf Value `json:"partOf,omitempty"`
	Next   Value `json:"next,omitempty"`
	Prev   Value `json:"prev,omitempty"`
}

func (*CollectionPage) Kind() Kind { return KindCollectionPage }

type OrderedCollection struct {
	ObjectValue
	TotalItems   *int    `json:"totalItems,omitempty"`
	Current      Value   `json:"current,omitempty"`
	First        Value   `json:"first,omitempty"`
	Last         Value   `json:"last,omitempty"`
	OrderedItems *Values `json:"orderedItems,omitempty"`
}

func (*OrderedCollection) Kind() Kind { return KindOrderedCollection }

type OrderedCollectionPage struct {
	OrderedCollection
	PartOf     Value `json:"partOf,omitempty"`
	Next       Value `json:"next,omitempty"`
	Prev       Value `json:"prev,omitempty"`
	StartIndex *int  `json:"startIndex,omitempty"`
}

func (*OrderedCollectionPage) Kind() Kind { return KindOrderedCollectionPage }
