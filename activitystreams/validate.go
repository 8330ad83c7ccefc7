package activitystreams

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

// registry maps every known type discriminator to the variant decoding it.
// Types not listed decode as the generic ObjectValue.
var registry = map[string]Kind{
	"Link":    KindLink,
	"Hashtag": KindLink,
	"Mention": KindLink,

	"Application":  KindActor,
	"Group":        KindActor,
	"Organization": KindActor,
	"Person":       KindActor,
	"Service":      KindActor,

	"Activity":        KindActivity,
	"Accept":          KindActivity,
	"Add":             KindActivity,
	"Announce":        KindActivity,
	"Block":           KindActivity,
	"Create":          KindActivity,
	"Delete":          KindActivity,
	"Dislike":         KindActivity,
	"Flag":            KindActivity,
	"Follow":          KindActivity,
	"Ignore":          KindActivity,
	"Invite":          KindActivity,
	"Join":            KindActivity,
	"Leave":           KindActivity,
	"Like":            KindActivity,
	"Listen":          KindActivity,
	"Move":            KindActivity,
	"Offer":           KindActivity,
	"Read":            KindActivity,
	"Reject":          KindActivity,
	"Remove":          KindActivity,
	"TentativeAccept": KindActivity,
	"TentativeReject": KindActivity,
	"Undo":            KindActivity,
	"Update":          KindActivity,
	"View":            KindActivity,

	"IntransitiveActivity": KindIntransitiveActivity,
	"Arrive":               KindIntransitiveActivity,
	"Travel":               KindIntransitiveActivity,

	"Question": KindQuestion,

	"Collection":            KindCollection,
	"CollectionPage":        KindCollectionPage,
	"OrderedCollection":     KindOrderedCollection,
	"OrderedCollectionPage": KindOrderedCollectionPage,
}

// KindOf returns the variant for a type discriminator, falling back to KindObject.
func KindOf(typ string) Kind {
	if k, ok := registry[typ]; ok {
		return k
	}
	return KindObject
}

type decodeFunc func(f *fields) Value

// arms is wired in init so that mutually recursive decoders are resolved per
// node at validation time.
var arms map[Kind]decodeFunc

func init() {
	arms = map[Kind]decodeFunc{
		KindLink:                  decodeLink,
		KindObject:                decodeObject,
		KindActor:                 decodeActor,
		KindActivity:              decodeActivity,
		KindIntransitiveActivity:  decodeIntransitive,
		KindQuestion:              decodeQuestion,
		KindCollection:            decodeCollection,
		KindCollectionPage:        decodeCollectionPage,
		KindOrderedCollection:     decodeOrderedCollection,
		KindOrderedCollectionPage: decodeOrderedCollectionPage,
	}
}

// Schema is a union of variants a value may match.
type Schema struct {
	kinds uint32
}

// Union returns a schema matching any of the given variants.
func Union(kinds ...Kind) Schema {
	var s Schema
	for _, k := range kinds {
		s.kinds |= 1 << uint(k)
	}
	return s
}

func (s Schema) allows(k Kind) bool {
	return s.kinds&(1<<uint(k)) != 0
}

func (s Schema) String() string {
	var names []string
	for k := KindURL; k <= KindOrderedCollectionPage; k++ {
		if s.allows(k) {
			names = append(names, k.String())
		}
	}
	return strings.Join(names, "|")
}

var (
	// AnySchema accepts every variant.
	AnySchema = Union(KindURL, KindLink, KindObject, KindActor, KindActivity, KindIntransitiveActivity,
		KindQuestion, KindCollection, KindCollectionPage, KindOrderedCollection, KindOrderedCollectionPage)
	// InboxSchema accepts what may be posted to an inbox.
	InboxSchema = Union(KindActivity, KindIntransitiveActivity, KindQuestion)
	// ActorSchema accepts a single actor document.
	ActorSchema = Union(KindActor)
	// ObjectSchema accepts any embedded object document.
	ObjectSchema = Union(KindObject, KindActor, KindActivity, KindIntransitiveActivity,
		KindQuestion, KindCollection, KindCollectionPage, KindOrderedCollection, KindOrderedCollectionPage)

	linkSchema       = Union(KindURL, KindLink)
	imageSchema      = Union(KindURL, KindLink, KindObject)
	collectionSchema = Union(KindURL, KindLink, KindCollection, KindOrderedCollection)
	pageSchema       = Union(KindURL, KindLink, KindCollectionPage, KindOrderedCollectionPage)
	partOfSchema     = Union(KindURL, KindLink, KindCollection, KindOrderedCollection)
	describesSchema  = Union(KindURL, KindActor)
)

// ValidationError reports the first offending node of a document.
type ValidationError struct {
	Path     string
	Expected string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("%s: %s (expected %s)", e.Path, e.Reason, e.Expected)
}

// Validate parses data and validates it against s.
// No value is returned when validation fails.
func Validate(data []byte, s Schema) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Path: "$", Reason: "malformed json: " + err.Error()}
	}
	return ValidateValue(raw, s)
}

// ValidateValue validates an already decoded JSON value against s.
func ValidateValue(raw any, s Schema) (Value, error) {
	v, verr := decodeValue("$", raw, s)
	if verr != nil {
		return nil, verr
	}
	return v, nil
}

func decodeValue(path string, raw any, s Schema) (Value, *ValidationError) {
	switch t := raw.(type) {
	case string:
		if !s.allows(KindURL) {
			return nil, &ValidationError{Path: path, Expected: s.String(), Reason: "unexpected string"}
		}
		if !isURL(t) {
			return nil, &ValidationError{Path: path, Expected: s.String(), Reason: fmt.Sprintf("invalid url %q", t)}
		}
		return URL(t), nil
	case map[string]any:
		typ, ok := t["type"].(string)
		if !ok || typ == "" {
			return nil, &ValidationError{Path: path + ".type", Expected: s.String(), Reason: "missing type"}
		}
		kind := KindOf(typ)
		if !s.allows(kind) {
			return nil, &ValidationError{Path: path + ".type", Expected: s.String(), Reason: fmt.Sprintf("type %q not allowed", typ)}
		}
		f := &fields{path: path, m: t}
		v := arms[kind](f)
		if f.err != nil {
			return nil, f.err
		}
		return v, nil
	default:
		return nil, &ValidationError{Path: path, Expected: s.String(), Reason: fmt.Sprintf("unexpected %s", jsonKind(raw))}
	}
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && (u.Host != "" || u.Opaque != "")
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	default:
		return "object"
	}
}

// fields reads the members of one JSON object. The first failure is kept and
// every later read is a no-op.
type fields struct {
	path string
	m    map[string]any
	err  *ValidationError
}

func (f *fields) at(key string) string {
	return f.path + "." + key
}

func (f *fields) fail(key, expected, reason string) {
	if f.err == nil {
		f.err = &ValidationError{Path: f.at(key), Expected: expected, Reason: reason}
	}
}

// get returns a member, treating null as absent.
func (f *fields) get(key string) (any, bool) {
	if f.err != nil {
		return nil, false
	}
	v, ok := f.m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (f *fields) has(key string) bool {
	_, ok := f.get(key)
	return ok
}

func (f *fields) str(key string) string {
	v, ok := f.get(key)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.fail(key, "string", "unexpected "+jsonKind(v))
	}
	return s
}

func (f *fields) required(key string) string {
	if f.err == nil && !f.has(key) {
		f.fail(key, "string", "required")
	}
	return f.str(key)
}

func (f *fields) uri(key string) string {
	s := f.str(key)
	if s != "" && !isURL(s) {
		f.fail(key, "url", fmt.Sprintf("invalid url %q", s))
	}
	return s
}

func (f *fields) requiredURI(key string) string {
	if f.err == nil && !f.has(key) {
		f.fail(key, "url", "required")
	}
	return f.uri(key)
}

func (f *fields) date(key string) string {
	s := f.str(key)
	if s == "" {
		return s
	}
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		f.fail(key, "datetime", fmt.Sprintf("invalid datetime %q", s))
	}
	return s
}

func (f *fields) langMap(key string) map[string]string {
	v, ok := f.get(key)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		f.fail(key, "map of strings", "unexpected "+jsonKind(v))
		return nil
	}
	out := make(map[string]string, len(m))
	for lang, text := range m {
		s, ok := text.(string)
		if !ok {
			f.fail(key+"."+lang, "string", "unexpected "+jsonKind(text))
			return nil
		}
		out[lang] = s
	}
	return out
}

func (f *fields) number(key string) *float64 {
	v, ok := f.get(key)
	if !ok {
		return nil
	}
	n, ok := v.(float64)
	if !ok {
		f.fail(key, "number", "unexpected "+jsonKind(v))
		return nil
	}
	return &n
}

func (f *fields) positive(key string) *float64 {
	n := f.number(key)
	if n != nil && *n <= 0 {
		f.fail(key, "positive number", fmt.Sprintf("got %v", *n))
	}
	return n
}

// integer reads a whole number no smaller than least.
func (f *fields) integer(key string, least int) *int {
	n := f.number(key)
	if n == nil {
		return nil
	}
	if *n != math.Trunc(*n) || *n < float64(least) || *n > math.MaxInt32 {
		f.fail(key, fmt.Sprintf("integer >= %d", least), fmt.Sprintf("got %v", *n))
		return nil
	}
	i := int(*n)
	return &i
}

func (f *fields) boolean(key string) *bool {
	v, ok := f.get(key)
	if !ok {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		f.fail(key, "boolean", "unexpected "+jsonKind(v))
		return nil
	}
	return &b
}

func (f *fields) focalPoint(key string) *[2]float64 {
	v, ok := f.get(key)
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		f.fail(key, "[x, y]", "unexpected "+jsonKind(v))
		return nil
	}
	var p [2]float64
	for i, c := range arr {
		n, ok := c.(float64)
		if !ok || n < -1 || n > 1 {
			f.fail(fmt.Sprintf("%s[%d]", key, i), "number in [-1, 1]", fmt.Sprintf("got %v", c))
			return nil
		}
		p[i] = n
	}
	return &p
}

// context reads @context: a string, or an array of strings and term maps.
func (f *fields) context() any {
	v, ok := f.get("@context")
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for i, item := range t {
			switch item.(type) {
			case string, map[string]any:
			default:
				f.fail(fmt.Sprintf("@context[%d]", i), "string or object", "unexpected "+jsonKind(item))
				return nil
			}
		}
		return t
	case map[string]any:
		return t
	}
	f.fail("@context", "string or array", "unexpected "+jsonKind(v))
	return nil
}

// one reads a single value of the union s.
func (f *fields) one(key string, s Schema) Value {
	v, ok := f.get(key)
	if !ok {
		return nil
	}
	out, verr := decodeValue(f.at(key), v, s)
	if verr != nil && f.err == nil {
		f.err = verr
	}
	return out
}

// many reads a value of the union s or an array of them.
func (f *fields) many(key string, s Schema) *Values {
	v, ok := f.get(key)
	if !ok {
		return nil
	}
	arr, isArray := v.([]any)
	if !isArray {
		out := f.one(key, s)
		if f.err != nil {
			return nil
		}
		return One(out)
	}
	items := make([]Value, 0, len(arr))
	for i, item := range arr {
		out, verr := decodeValue(fmt.Sprintf("%s[%d]", f.at(key), i), item, s)
		if verr != nil {
			f.err = verr
			return nil
		}
		items = append(items, out)
	}
	return &Values{Items: items, Array: true}
}

func decodeLink(f *fields) Value {
	l := &Link{
		Context:   f.context(),
		ID:        f.str("id"),
		Type:      f.str("type"),
		Href:      f.uri("href"),
		MediaType: f.str("mediaType"),
		Name:      f.str("name"),
		NameMap:   f.langMap("nameMap"),
		Hreflang:  f.str("hreflang"),
		Height:    f.integer("height", 1),
		Width:     f.integer("width", 1),
		Preview:   f.one("preview", AnySchema),
	}
	if rel, ok := f.get("rel"); ok {
		switch t := rel.(type) {
		case string:
			l.Rel = t
		case []any:
			for i, r := range t {
				if _, ok := r.(string); !ok {
					f.fail(fmt.Sprintf("rel[%d]", i), "string", "unexpected "+jsonKind(r))
				}
			}
			l.Rel = t
		default:
			f.fail("rel", "string or array of strings", "unexpected "+jsonKind(rel))
		}
	}
	return l
}

func (f *fields) object(o *ObjectValue) {
	o.Context = f.context()
	o.ID = f.str("id")
	o.Type = f.str("type")

	o.Name = f.str("name")
	o.NameMap = f.langMap("nameMap")
	o.Summary = f.str("summary")
	o.SummaryMap = f.langMap("summaryMap")
	o.Content = f.str("content")
	o.ContentMap = f.langMap("contentMap")
	o.MediaType = f.str("mediaType")
	o.Duration = f.str("duration")
	if src, ok := f.get("source"); ok {
		m, ok := src.(map[string]any)
		if !ok {
			f.fail("source", "object", "unexpected "+jsonKind(src))
		} else {
			sf := &fields{path: f.at("source"), m: m}
			o.Source = &Source{Content: sf.required("content"), MediaType: sf.str("mediaType")}
			if sf.err != nil && f.err == nil {
				f.err = sf.err
			}
		}
	}

	o.Published = f.date("published")
	o.Updated = f.date("updated")
	o.StartTime = f.date("startTime")
	o.EndTime = f.date("endTime")

	o.Sensitive = f.boolean("sensitive")
	o.Blurhash = f.str("blurhash")
	o.FocalPoint = f.focalPoint("focalPoint")
	o.Width = f.integer("width", 1)
	o.Height = f.integer("height", 1)
	o.Conversation = f.str("conversation")

	o.Attachment = f.many("attachment", AnySchema)
	o.AttributedTo = f.many("attributedTo", AnySchema)
	o.Audience = f.many("audience", AnySchema)
	o.Bcc = f.many("bcc", AnySchema)
	o.Bto = f.many("bto", AnySchema)
	o.Cc = f.many("cc", AnySchema)
	o.To = f.many("to", AnySchema)
	o.InContext = f.many("context", AnySchema)
	o.Generator = f.many("generator", AnySchema)
	o.Icon = f.many("icon", imageSchema)
	o.Image = f.many("image", imageSchema)
	o.InReplyTo = f.many("inReplyTo", AnySchema)
	o.Location = f.many("location", AnySchema)
	o.Tag = f.many("tag", AnySchema)
	o.URL = f.many("url", linkSchema)
	o.Preview = f.one("preview", AnySchema)
	o.Replies = f.one("replies", collectionSchema)
	o.Likes = f.one("likes", collectionSchema)
	o.Shares = f.one("shares", collectionSchema)
	o.Object = f.many("object", AnySchema)
}

func decodeObject(f *fields) Value {
	o := &ObjectValue{}
	f.object(o)

	if f.err != nil {
		return o
	}

	if o.Type == "Place" {
		o.Accuracy = f.positive("accuracy")
		o.Altitude = f.number("altitude")
		o.Latitude = f.number("latitude")
		o.Longitude = f.number("longitude")
		o.Radius = f.positive("radius")
		o.Units = f.str("units")
		return o
	}

	// Members only some types carry are decoded on a copy. A node that lacks
	// them or carries them malformed is still a generic object.
	ext := *o
	ef := &fields{path: f.path, m: f.m}
	switch o.Type {
	case "Tombstone":
		ext.FormerType = ef.str("formerType")
		if !ef.has("deleted") {
			ef.fail("deleted", "datetime", "required")
		}
		ext.Deleted = ef.date("deleted")
	case "PropertyValue":
		ext.Name = ef.required("name")
		ext.Value = ef.required("value")
	case "Profile":
		ext.Describes = ef.one("describes", describesSchema)
	case "Relationship":
		ext.Subject = ef.one("subject", AnySchema)
		ext.Relationship = ef.many("relationship", ObjectSchema.with(KindURL))
	default:
		return o
	}
	if ef.err != nil {
		return o
	}
	return &ext
}

func (s Schema) with(kinds ...Kind) Schema {
	return Schema{kinds: s.kinds | Union(kinds...).kinds}
}

func decodeActor(f *fields) Value {
	a := &Actor{}
	f.object(&a.ObjectValue)
	if f.err == nil && !f.has("id") {
		f.fail("id", "string", "required")
	}
	a.Inbox = f.requiredURI("inbox")
	a.Outbox = f.requiredURI("outbox")
	a.Followers = f.uri("followers")
	a.Following = f.uri("following")
	a.Featured = f.uri("featured")
	a.FeaturedTags = f.uri("featuredTags")
	a.Devices = f.uri("devices")
	a.PreferredUsername = f.str("preferredUsername")
	a.AlsoKnownAs = f.many("alsoKnownAs", linkSchema)
	a.MovedTo = f.uri("movedTo")
	a.Discoverable = f.boolean("discoverable")
	a.ManuallyApprovesFollowers = f.boolean("manuallyApprovesFollowers")
	a.Indexable = f.boolean("indexable")
	a.Memorial = f.boolean("memorial")

	if v, ok := f.get("endpoints"); ok {
		if m, ok := v.(map[string]any); ok {
			ef := &fields{path: f.at("endpoints"), m: m}
			a.Endpoints = &Endpoints{SharedInbox: ef.uri("sharedInbox")}
			if ef.err != nil {
				f.err = ef.err
			}
		} else {
			f.fail("endpoints", "object", "unexpected "+jsonKind(v))
		}
	}
	if v, ok := f.get("publicKey"); ok {
		if m, ok := v.(map[string]any); ok {
			kf := &fields{path: f.at("publicKey"), m: m}
			a.PublicKey = &PublicKey{
				ID:           kf.required("id"),
				Owner:        kf.required("owner"),
				PublicKeyPem: kf.required("publicKeyPem"),
			}
			if kf.err != nil {
				f.err = kf.err
			}
		} else {
			f.fail("publicKey", "object", "unexpected "+jsonKind(v))
		}
	}
	return a
}

func (f *fields) intransitive(a *IntransitiveActivity) {
	f.object(&a.ObjectValue)
	a.Actor = f.many("actor", AnySchema)
	a.Target = f.many("target", AnySchema)
	a.Origin = f.many("origin", AnySchema)
	a.Result = f.many("result", AnySchema)
	a.Instrument = f.many("instrument", AnySchema)
}

func decodeIntransitive(f *fields) Value {
	a := &IntransitiveActivity{}
	f.intransitive(a)
	return a
}

func decodeActivity(f *fields) Value {
	a := &Activity{}
	f.intransitive(&a.IntransitiveActivity)
	return a
}

func decodeQuestion(f *fields) Value {
	q := &Question{}
	f.intransitive(&q.IntransitiveActivity)
	q.AnyOf = f.many("anyOf", AnySchema)
	q.OneOf = f.many("oneOf", AnySchema)
	if f.err == nil && (q.AnyOf == nil) == (q.OneOf == nil) {
		f.fail("oneOf", "exactly one of anyOf or oneOf", "both or neither present")
	}
	if v, ok := f.get("closed"); ok {
		switch t := v.(type) {
		case bool:
			q.Closed = t
		case string:
			q.Closed = f.date("closed")
		default:
			q.Closed = f.one("closed", AnySchema)
		}
	}
	return q
}

func (f *fields) collection(c *Collection) {
	f.object(&c.ObjectValue)
	c.TotalItems = f.integer("totalItems", 0)
	c.Current = f.one("current", pageSchema)
	c.First = f.one("first", pageSchema)
	c.Last = f.one("last", pageSchema)
	c.Items = f.many("items", AnySchema)
}

func decodeCollection(f *fields) Value {
	c := &Collection{}
	f.collection(c)
	return c
}

func decodeCollectionPage(f *fields) Value {
	p := &CollectionPage{}
	f.collection(&p.Collection)
	p.PartOf = f.one("partOf", partOfSchema)
	p.Next = f.one("next", pageSchema)
	p.Prev = f.one("prev", pageSchema)
	return p
}

func (f *fields) orderedCollection(c *OrderedCollection) {
	f.object(&c.ObjectValue)
	c.TotalItems = f.integer("totalItems", 0)
	c.Current = f.one("current", pageSchema)
	c.First = f.one("first", pageSchema)
	c.Last = f.one("last", pageSchema)
	c.OrderedItems = f.many("orderedItems", AnySchema)
}

func decodeOrderedCollection(f *fields) Value {
	c := &OrderedCollection{}
	f.orderedCollection(c)
	return c
}

func decodeOrderedCollectionPage(f *fields) Value {
	p := &OrderedCollectionPage{}
	f.orderedCollection(&p.OrderedCollection)
	p.PartOf = f.one("partOf", partOfSchema)
	p.Next = f.one("next", pageSchema)
	p.Prev = f.one("prev", pageSchema)
	p.StartIndex = f.integer("startIndex", 0)
	return p
}
