package crypt

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"sync"
	"time"
)

// defaultCertPEM and defaultKeyPEM back DefaultCertificateSource. They
// are generated once per process rather than embedded as a literal,
// since a single static compiled-in certificate shared across every
// installation of this module would be a weaker trust anchor than a
// key pair unique to the running binary.
var (
	defaultCertPEM string
	defaultKeyPEM  string
	defaultCertGen sync.Once
)

func init() {
	defaultCertGen.Do(generateDefaultIdentity)
}

func generateDefaultIdentity() {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic("crypt: generate default identity: " + err.Error())
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"aahead head unit"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		panic("crypt: create default certificate: " + err.Error())
	}

	var certBuf bytes.Buffer
	_ = pem.Encode(&certBuf, &pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		panic("crypt: marshal default private key: " + err.Error())
	}
	var keyBuf bytes.Buffer
	_ = pem.Encode(&keyBuf, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	defaultCertPEM = certBuf.String()
	defaultKeyPEM = keyBuf.String()
}
