// Package signer mints the leaf certificates presented to clients of
// MITM'd tunnels.
package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"
)

const leafValidity = 365 * 24 * time.Hour

func randomSerial() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
}

func leaf(ca tls.Certificate) (*x509.Certificate, error) {
	if ca.Leaf != nil {
		return ca.Leaf, nil
	}
	if len(ca.Certificate) == 0 {
		return nil, errors.New("empty CA certificate")
	}
	return x509.ParseCertificate(ca.Certificate[0])
}

// SignHost returns a certificate for hosts signed by ca. IP literals become
// IP SANs, everything else a DNS name.
func SignHost(ca tls.Certificate, hosts []string) (*tls.Certificate, error) {
	x509ca, err := leaf(ca)
	if err != nil {
		return nil, fmt.Errorf("parse CA: %w", err)
	}
	signerKey, ok := ca.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, errors.New("CA private key cannot sign")
	}

	if len(hosts) == 0 {
		return nil, errors.New("no hosts to sign")
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Issuer:       x509ca.Subject,
		Subject: pkix.Name{
			Organization: x509ca.Subject.Organization,
			CommonName:   hosts[0],
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(leafValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if template.NotAfter.After(x509ca.NotAfter) {
		template.NotAfter = x509ca.NotAfter
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, x509ca, &key.PublicKey, signerKey)
	if err != nil {
		return nil, err
	}
	cert := &tls.Certificate{
		Certificate: [][]byte{der, x509ca.Raw},
		PrivateKey:  key,
	}
	cert.Leaf, err = x509.ParseCertificate(der)
	return cert, err
}

// NewCA creates a self signed certificate authority.
func NewCA(organization string, validity time.Duration) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := randomSerial()
	if err != nil {
		return tls.Certificate{}, err
	}
	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   organization + " CA",
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	ca := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	ca.Leaf, err = x509.ParseCertificate(der)
	return ca, err
}

// LoadCA reads a PEM certificate and key pair.
func LoadCA(certFile, keyFile string) (tls.Certificate, error) {
	ca, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return ca, err
	}
	if ca.Leaf, err = x509.ParseCertificate(ca.Certificate[0]); err != nil {
		return ca, err
	}
	if !ca.Leaf.IsCA {
		return ca, fmt.Errorf("%s is not a certificate authority", certFile)
	}
	return ca, nil
}

// WriteCertificate writes the PEM encoding of the first certificate of cert,
// which is what clients need to install to trust the proxy.
func WriteCertificate(w io.Writer, cert tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return errors.New("empty certificate")
	}
	return pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
}

// WriteKey writes the PEM encoding of the private key of cert.
func WriteKey(w io.Writer, cert tls.Certificate) error {
	der, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	if err != nil {
		return err
	}
	return pem.Encode(w, &pem.Block{Type: "PRIVATE KEY", Bytes: der})
}
