package odoo

import (
	"net/url"
	"strings"
	"time"
)

// Protocol selects which wire protocol a connection speaks.
type Protocol string

const (
	// ProtocolJSON2 is the JSON/2 external API (Odoo 19+).
	ProtocolJSON2 Protocol = "json2"
	// ProtocolXMLRPC is the classic XML-RPC external API.
	ProtocolXMLRPC Protocol = "xmlrpc"
)

const (
	// DefaultTimeout bounds every outbound call to the server.
	DefaultTimeout = 30 * time.Second
	// DefaultLimit is applied to search operations without an explicit limit.
	DefaultLimit = 10
	// DefaultMaxLimit caps caller-supplied limits.
	DefaultMaxLimit = 100
)

// Config describes one Odoo server plus the credentials used against it.
// Immutable once handed to a connection.
type Config struct {
	URL      string
	Database string

	// APIKey authenticates JSON/2 sessions. For XML-RPC it doubles as the
	// password when Password is empty (Odoo accepts API keys there).
	APIKey   string
	Username string
	Password string

	Protocol     Protocol
	Timeout      time.Duration
	DefaultLimit int
	MaxLimit     int
}

// withDefaults fills unset fields. Idempotent.
func (c Config) withDefaults() Config {
	if c.Protocol == "" {
		c.Protocol = ProtocolJSON2
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = DefaultMaxLimit
	}
	c.URL = strings.TrimRight(c.URL, "/")
	return c
}

// Validate rejects configurations no connection could use. Credential
// completeness is checked later, at Authenticate, because which fields are
// required depends on the protocol.
func (c Config) Validate() error {
	if c.URL == "" {
		return NewError(KindConfig, "Odoo URL is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return WrapError(KindConfig, err, "invalid Odoo URL %q", c.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewError(KindConfig, "Odoo URL %q must use http or https", c.URL)
	}
	if u.Host == "" {
		return NewError(KindConfig, "Odoo URL %q has no host", c.URL)
	}
	switch c.Protocol {
	case ProtocolJSON2, ProtocolXMLRPC:
	default:
		return NewError(KindConfig, "unknown protocol %q (expected %q or %q)", c.Protocol, ProtocolJSON2, ProtocolXMLRPC)
	}
	return nil
}
