// Package crypt drives a TLS state machine over explicit in-memory
// buffers rather than a real socket, so the messenger layer can feed
// it handshake blobs as they arrive off the wire and, once the
// handshake is done, each reassembled message's ciphertext in one
// piece.
package crypt

import (
	"crypto/tls"
	"io"
	"time"

	"github.com/opencardev/aahead/aaerr"
)

// Status reports handshake progress.
type Status int

const (
	NeedMoreData Status = iota
	HandshakeDone
)

// CertificateSource supplies the head unit's TLS client certificate
// and private key as PEM text. A source that returns two empty
// strings defers to the compiled-in default identity.
type CertificateSource interface {
	Certificate() (certPEM, keyPEM string)
}

// DefaultCertificateSource always defers to the compiled-in default.
type DefaultCertificateSource struct{}

// Certificate implements CertificateSource.
func (DefaultCertificateSource) Certificate() (string, string) { return "", "" }

// Cryptor is the interface the messenger layer drives: feed handshake
// bytes received from the peer, read handshake bytes to send to the
// peer, advance the handshake, and once done, encrypt/decrypt frame
// payloads.
type Cryptor interface {
	FeedHandshake(data []byte) error
	ReadHandshakeOutput() ([]byte, error)
	DoHandshake() (Status, error)
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	Close() error
}

// decryptWait bounds how long Decrypt's drain loop waits for pump to
// produce the next chunk of a call's own decrypted output before
// concluding there is no more of it. Callers are expected to pass
// Decrypt the complete, self-contained ciphertext of one whole
// Encrypt call (see Decrypt's doc comment), so under normal operation
// every chunk pump produces from that feed arrives well within this
// bound; decryptWait only needs to be long enough to absorb scheduler
// jitter, not to wait out a genuinely incomplete record.
const decryptWait = 50 * time.Millisecond

// TLSCryptor is the Cryptor implementation: a tls.Client run over a
// halfConn pair, driven from outside by Feed/Read/Do methods instead
// of a real net.Conn.
type TLSCryptor struct {
	outer   *halfConn
	tlsConn *tls.Conn

	handshakeDone chan struct{}
	handshakeErr  error

	decrypted *queueConn
	pumpErr   chan error
}

// NewTLSCryptor builds a Cryptor configured as a TLS client, the role
// the head unit plays towards the phone's TLS server.
func NewTLSCryptor(source CertificateSource) (*TLSCryptor, error) {
	certPEM, keyPEM := source.Certificate()
	if certPEM == "" || keyPEM == "" {
		certPEM, keyPEM = defaultCertPEM, defaultKeyPEM
	}
	cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return nil, aaerr.Wrap(aaerr.KindSSLHandshake, err)
	}

	inner, outer := newPipePair()
	cfg := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, // the phone's certificate is not verified against a CA; AOAP pairing is the trust anchor
	}

	c := &TLSCryptor{
		outer:         outer,
		tlsConn:       tls.Client(inner, cfg),
		handshakeDone: make(chan struct{}),
		decrypted:     newQueueConn(),
	}

	go func() {
		c.handshakeErr = c.tlsConn.Handshake()
		close(c.handshakeDone)
		c.pump()
	}()

	return c, nil
}

// pump runs after the handshake completes, continuously copying
// decrypted application data into c.decrypted so Decrypt can drain it
// without itself calling the blocking tlsConn.Read.
func (c *TLSCryptor) pump() {
	buf := make([]byte, 16384)
	for {
		n, err := c.tlsConn.Read(buf)
		if n > 0 {
			c.decrypted.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// FeedHandshake delivers a handshake blob received over the control
// channel to the TLS engine.
func (c *TLSCryptor) FeedHandshake(data []byte) error {
	_, err := c.outer.Write(data)
	return err
}

// ReadHandshakeOutput drains whatever handshake bytes the TLS engine
// has produced for sending to the peer since the last call.
func (c *TLSCryptor) ReadHandshakeOutput() ([]byte, error) {
	return c.outer.readQ.TryReadAll(), nil
}

// DoHandshake reports whether the handshake has completed. It never
// blocks; call it again after feeding more handshake data.
func (c *TLSCryptor) DoHandshake() (Status, error) {
	select {
	case <-c.handshakeDone:
		if c.handshakeErr != nil {
			return NeedMoreData, aaerr.Wrap(aaerr.KindSSLHandshake, c.handshakeErr)
		}
		return HandshakeDone, nil
	default:
		return NeedMoreData, nil
	}
}

// Encrypt TLS-writes plaintext and returns the ciphertext produced.
func (c *TLSCryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if _, err := c.tlsConn.Write(plaintext); err != nil {
		return nil, aaerr.Wrap(aaerr.KindSSLWrite, err)
	}
	return c.outer.readQ.TryReadAll(), nil
}

// Decrypt feeds ciphertext to the TLS engine and returns the
// plaintext it decrypts to. ciphertext must be the complete output of
// one Encrypt call — callers reassemble a fragmented message's
// ciphertext across every frame it spans before calling Decrypt, the
// same way Encrypt is itself only ever called once per whole message
// before fragmentation — so the record(s) it completes are always
// fully determined by this call alone, never left pending for a
// later, unrelated Decrypt call to stumble onto. The drain loop below
// exists only to collect every chunk pump produces as a result
// (crypto/tls may hand back less than one full record per Read),
// not to paper over genuinely incomplete input.
func (c *TLSCryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if _, err := c.outer.Write(ciphertext); err != nil {
		return nil, aaerr.Wrap(aaerr.KindSSLRead, err)
	}

	var plaintext []byte
	buf := make([]byte, 16384)
	for {
		n, ok := c.decrypted.ReadWithTimeout(buf, decryptWait)
		if !ok || n == 0 {
			return plaintext, nil
		}
		plaintext = append(plaintext, buf[:n]...)
	}
}

// Close tears down the TLS connection and its in-memory pipe.
func (c *TLSCryptor) Close() error {
	_ = c.tlsConn.Close()
	return c.outer.Close()
}

var _ io.Closer = (*TLSCryptor)(nil)
