// Package checks holds the certificate analysis checks the scan pipeline
// runs over every logged certificate. A check inspects one parsed
// certificate and reports zero or more findings; findings are stored as
// observations, never treated as pipeline errors.
package checks

import (
	"crypto/x509"
	"fmt"
	"time"
)

// Check examines a single certificate at a given reference time and returns
// one detail string per finding.
type Check interface {
	Name() string
	Check(cert *x509.Certificate, now time.Time) []string
}

// All returns every shipped check, in a stable order.
func All() []Check {
	return []Check{
		Expired{},
		NotYetValid{},
		LongValidity{},
		NoSAN{},
		WeakSignature{},
	}
}

// Select resolves check names to checks. An empty names slice selects all
// shipped checks; an unknown name is an error.
func Select(names []string) ([]Check, error) {
	all := All()
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]Check, len(all))
	for _, c := range all {
		byName[c.Name()] = c
	}
	out := make([]Check, 0, len(names))
	for _, n := range names {
		c, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown check %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}

// Expired reports certificates whose validity ended before the scan time.
type Expired struct{}

func (Expired) Name() string { return "expired" }

func (Expired) Check(cert *x509.Certificate, now time.Time) []string {
	if cert.NotAfter.Before(now) {
		return []string{fmt.Sprintf("expired %s", cert.NotAfter.UTC().Format(time.RFC3339))}
	}
	return nil
}

// NotYetValid reports certificates logged before their validity starts.
type NotYetValid struct{}

func (NotYetValid) Name() string { return "not_yet_valid" }

func (NotYetValid) Check(cert *x509.Certificate, now time.Time) []string {
	if cert.NotBefore.After(now) {
		return []string{fmt.Sprintf("not valid until %s", cert.NotBefore.UTC().Format(time.RFC3339))}
	}
	return nil
}

// maxLeafValidity is the CA/Browser Forum limit for subscriber certificates.
const maxLeafValidity = 398 * 24 * time.Hour

// LongValidity reports end-entity certificates whose validity period exceeds
// the ballot SC31 limit. CA certificates are exempt.
type LongValidity struct{}

func (LongValidity) Name() string { return "long_validity" }

func (LongValidity) Check(cert *x509.Certificate, _ time.Time) []string {
	if cert.IsCA {
		return nil
	}
	if v := cert.NotAfter.Sub(cert.NotBefore); v > maxLeafValidity {
		return []string{fmt.Sprintf("validity period %.0f days exceeds 398", v.Hours()/24)}
	}
	return nil
}

// NoSAN reports end-entity certificates without a Subject Alternative Name
// extension.
type NoSAN struct{}

func (NoSAN) Name() string { return "no_san" }

func (NoSAN) Check(cert *x509.Certificate, _ time.Time) []string {
	if cert.IsCA {
		return nil
	}
	if len(cert.DNSNames) == 0 && len(cert.IPAddresses) == 0 &&
		len(cert.EmailAddresses) == 0 && len(cert.URIs) == 0 {
		return []string{"certificate has no subject alternative names"}
	}
	return nil
}

// WeakSignature reports certificates signed with deprecated algorithms.
type WeakSignature struct{}

func (WeakSignature) Name() string { return "weak_signature" }

func (WeakSignature) Check(cert *x509.Certificate, _ time.Time) []string {
	switch cert.SignatureAlgorithm {
	case x509.MD2WithRSA, x509.MD5WithRSA, x509.SHA1WithRSA,
		x509.DSAWithSHA1, x509.ECDSAWithSHA1:
		return []string{fmt.Sprintf("signed with %s", cert.SignatureAlgorithm)}
	}
	return nil
}
