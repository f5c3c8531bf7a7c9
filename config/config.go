// Package config holds the tunables the core recognizes, following a
// functional-options style for constructing a Config.
package config

import (
	"time"

	"github.com/opencardev/aahead/aoap"
)

const (
	defaultUSBMaxPacketSize = 4096
	defaultSendTimeoutMS    = 10000
	defaultReceiveTimeoutMS = 0
	defaultFramePayloadLimit = 4096
	defaultHotplugRescanDelay = time.Second
)

// Config is the set of tunables recognized by the core. Construct it
// with New and Option functions rather than a bare literal so defaults
// stay centralized: in a bare literal some zero values still fall back
// to a default where they are consumed (USBMaxPacketSize,
// FramePayloadLimit, HotplugRescanDelay, the TLS PEM strings), but a
// zero SendTimeoutMS means no send timeout and a zero Identification
// sends empty strings.
type Config struct {
	USBMaxPacketSize    int
	SendTimeoutMS       int
	ReceiveTimeoutMS    int
	MaxOutstandingSends int
	FramePayloadLimit   int

	TLSCertPEM string
	TLSKeyPEM  string

	Identification    aoap.Identification
	HotplugRescanDelay time.Duration
}

// Option configures a Config field; see the WithXxx functions below.
type Option func(*Config)

// New builds a Config with every default applied, then layers opts on
// top in order.
func New(opts ...Option) *Config {
	c := &Config{
		USBMaxPacketSize:   defaultUSBMaxPacketSize,
		SendTimeoutMS:      defaultSendTimeoutMS,
		ReceiveTimeoutMS:   defaultReceiveTimeoutMS,
		FramePayloadLimit:  defaultFramePayloadLimit,
		HotplugRescanDelay: defaultHotplugRescanDelay,
		Identification: aoap.Identification{
			Manufacturer: "OpenCarDev",
			Model:        "aahead",
			Description:  "Android Auto Head Unit",
			Version:      "1.0",
			URI:          "https://github.com/opencardev/aahead",
			Serial:       "0000000000000000",
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithUSBMaxPacketSize overrides the upper bound on a single USB bulk
// transfer; outgoing writes larger than this are split into
// sequential transfers of at most this many bytes each.
func WithUSBMaxPacketSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.USBMaxPacketSize = n
		}
	}
}

// WithSendTimeoutMS overrides the per-send timeout in milliseconds.
func WithSendTimeoutMS(ms int) Option {
	return func(c *Config) { c.SendTimeoutMS = ms }
}

// WithReceiveTimeoutMS overrides the per-receive timeout in
// milliseconds (0 = infinite, the default).
func WithReceiveTimeoutMS(ms int) Option {
	return func(c *Config) { c.ReceiveTimeoutMS = ms }
}

// WithMaxOutstandingSends bounds the Messenger send queue (0 =
// unbounded, the default); exceeding it rejects EnqueueSend with
// aaerr.KindSendQueueOverflow.
func WithMaxOutstandingSends(n int) Option {
	return func(c *Config) { c.MaxOutstandingSends = n }
}

// WithFramePayloadLimit overrides the per-frame payload limit used
// when fragmenting outgoing messages.
func WithFramePayloadLimit(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FramePayloadLimit = n
		}
	}
}

// WithTLSCertificate overrides the compiled-in default TLS client
// identity. Either argument empty falls back to the compiled-in
// default (crypt.DefaultCertificateSource's behaviour).
func WithTLSCertificate(certPEM, keyPEM string) Option {
	return func(c *Config) {
		c.TLSCertPEM = certPEM
		c.TLSKeyPEM = keyPEM
	}
}

// WithIdentification overrides one or more of the six AOAP
// identification strings sent during the handshake. Fields left at
// their zero value keep New's default for that field.
func WithIdentification(id aoap.Identification) Option {
	return func(c *Config) {
		if id.Manufacturer != "" {
			c.Identification.Manufacturer = id.Manufacturer
		}
		if id.Model != "" {
			c.Identification.Model = id.Model
		}
		if id.Description != "" {
			c.Identification.Description = id.Description
		}
		if id.Version != "" {
			c.Identification.Version = id.Version
		}
		if id.URI != "" {
			c.Identification.URI = id.URI
		}
		if id.Serial != "" {
			c.Identification.Serial = id.Serial
		}
	}
}

// WithHotplugRescanDelay overrides the pause Hub waits after opening a
// freshly arrived non-AOAP device before starting its QueryChain (the
// original aasdk implementation's hardcoded VMware workaround).
func WithHotplugRescanDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.HotplugRescanDelay = d
		}
	}
}

// Certificate implements crypt.CertificateSource directly against the
// configured PEM strings, so a *Config can be passed anywhere a
// CertificateSource is expected.
func (c *Config) Certificate() (certPEM, keyPEM string) {
	return c.TLSCertPEM, c.TLSKeyPEM
}

// SendTimeout returns SendTimeoutMS as a time.Duration.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMS) * time.Millisecond
}

// ReceiveTimeout returns ReceiveTimeoutMS as a time.Duration (0 means
// infinite, which is the default).
func (c *Config) ReceiveTimeout() time.Duration {
	return time.Duration(c.ReceiveTimeoutMS) * time.Millisecond
}
