package types

import (
	"encoding/xml"
	"regexp"
	"strings"
)

// WellKnown is a struct for a well-known response.
type WellKnown struct {
	Links []WellKnownLink `json:"links"`
}

// WellKnownLink is a struct for the links field of a well-known response.
type WellKnownLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// WebFinger is a struct for a WebFinger response.
type WebFinger struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebFingerLink `json:"links"`
}

// WebFingerLink is a struct for the links field of a WebFinger response.
type WebFingerLink struct {
	Rel      string `json:"rel"`
	Type     string `json:"type,omitempty"`
	Href     string `json:"href,omitempty"`
	Template string `json:"template,omitempty"`
}

// HostMeta is the XRD document served at /.well-known/host-meta.
type HostMeta struct {
	XMLName xml.Name       `xml:"http://docs.oasis-open.org/ns/xri/xrd-1.0 XRD"`
	Links   []HostMetaLink `xml:"Link"`
}

type HostMetaLink struct {
	Rel      string `xml:"rel,attr"`
	Template string `xml:"template,attr"`
}

// ---------------------------------------------------------------------

// NodeInfo is a struct for a NodeInfo response.
type NodeInfo struct {
	Version           string           `json:"version" yaml:"version"`
	Software          NodeInfoSoftware `json:"software" yaml:"software"`
	Protocols         []string         `json:"protocols" yaml:"protocols"`
	Services          NodeInfoServices `json:"services" yaml:"-"`
	OpenRegistrations bool             `json:"openRegistrations" yaml:"openRegistrations"`
	Usage             NodeInfoUsage    `json:"usage" yaml:"-"`
	Metadata          NodeInfoMetadata `json:"metadata" yaml:"metadata"`
}

// NodeInfoSoftware is a struct for the software field of a NodeInfo response.
type NodeInfoSoftware struct {
	Name       string `json:"name" yaml:"name"`
	Version    string `json:"version" yaml:"version"`
	Repository string `json:"repository,omitempty" yaml:"repository"`
	Homepage   string `json:"homepage,omitempty" yaml:"homepage"`
}

type NodeInfoServices struct {
	Inbound  []string `json:"inbound"`
	Outbound []string `json:"outbound"`
}

type NodeInfoUsage struct {
	Users map[string]int64 `json:"users"`
}

// NodeInfoMetadata is a struct for the metadata field of a NodeInfo response.
type NodeInfoMetadata struct {
	NodeName        string                     `json:"nodeName,omitempty" yaml:"nodeName"`
	NodeDescription string                     `json:"nodeDescription,omitempty" yaml:"nodeDescription"`
	Maintainer      NodeInfoMetadataMaintainer `json:"maintainer,omitempty" yaml:"maintainer"`
}

// NodeInfoMetadataMaintainer is a struct for the maintainer field of a NodeInfo response.
type NodeInfoMetadataMaintainer struct {
	Name  string `json:"name,omitempty" yaml:"name"`
	Email string `json:"email,omitempty" yaml:"email"`
}

// ---------------------------------------------------------------------

// InstanceConfig describes this node.
type InstanceConfig struct {
	Domain      string       `yaml:"domain" env:"MYPUB_DOMAIN,overwrite"`
	Title       string       `yaml:"title"`
	Description string       `yaml:"description"`
	Email       string       `yaml:"email"`
	AdminHandle string       `yaml:"adminHandle" env:"MYPUB_ADMIN_HANDLE,overwrite"`
	Paths       PathSegments `yaml:"paths"`
}

// PathSegments are the url path segments used to build local urls.
type PathSegments struct {
	Users       string `yaml:"users"`
	Inbox       string `yaml:"inbox"`
	Outbox      string `yaml:"outbox"`
	Followers   string `yaml:"followers"`
	Following   string `yaml:"following"`
	SharedInbox string `yaml:"sharedInbox"`
	NodeInfo    string `yaml:"nodeInfo"`
}

// DefaultPathSegments returns the path segments used when none are configured.
func DefaultPathSegments() PathSegments {
	return PathSegments{
		Users:       "users",
		Inbox:       "inbox",
		Outbox:      "outbox",
		Followers:   "followers",
		Following:   "following",
		SharedInbox: "inbox",
		NodeInfo:    "nodeinfo/2.1",
	}
}

// WithDefaults fills empty path segments.
func (c InstanceConfig) WithDefaults() InstanceConfig {
	d := DefaultPathSegments()
	p := &c.Paths
	for _, f := range []struct {
		v   *string
		def string
	}{
		{&p.Users, d.Users},
		{&p.Inbox, d.Inbox},
		{&p.Outbox, d.Outbox},
		{&p.Followers, d.Followers},
		{&p.Following, d.Following},
		{&p.SharedInbox, d.SharedInbox},
		{&p.NodeInfo, d.NodeInfo},
	} {
		if *f.v == "" {
			*f.v = f.def
		}
	}
	return c
}

// BaseURL returns https://<domain>.
func (c InstanceConfig) BaseURL() string {
	return "https://" + c.Domain
}

// UserURL returns the canonical url of the local user with the given handle.
func (c InstanceConfig) UserURL(handle string) string {
	return c.BaseURL() + "/" + c.Paths.Users + "/" + handle
}

// SharedInboxURL returns the url of the instance wide inbox.
func (c InstanceConfig) SharedInboxURL() string {
	return c.BaseURL() + "/" + c.Paths.SharedInbox
}

// HandleRegexp matches a user@domain account handle.
var HandleRegexp = regexp.MustCompile(`(?i)^([a-z0-9\-\._]+)@([a-z0-9]+[a-z0-9\-\.]*\.[a-z0-9]{2,})$`)

// ParseHandle splits "user@domain", "@user@domain" or "acct:user@domain".
func ParseHandle(s string) (handle, domain string, ok bool) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "acct:"), "@")
	m := HandleRegexp.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
