package bundle

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"path"
	"strings"

	"github.com/smallstep/pkcs7"
)

// Certificate is a signing certificate found in the bundle. It is recorded,
// never verified against a trust anchor.
type Certificate struct {
	Path        string `json:"path"`
	Subject     string `json:"subject"`
	Issuer      string `json:"issuer"`
	Serial      string `json:"serial"`
	Fingerprint string `json:"sha256"`
	Raw         []byte `json:"-"`
}

func isCertEntry(name string) bool {
	if !strings.HasPrefix(name, "META-INF/") {
		return false
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".pem", ".crt", ".cer", ".der", ".rsa", ".dsa", ".ec":
		return true
	}
	return false
}

// CertError records a certificate entry that could not be read. The entry is
// skipped; inspection carries on.
type CertError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// parseCertificates accepts PEM blocks, a PKCS#7 signature block as found in
// META-INF/*.RSA, or a single DER certificate.
func parseCertificates(name string, data []byte) ([]Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		if p7, err := pkcs7.Parse(data); err == nil {
			certs = p7.Certificates
		} else if cert, derErr := x509.ParseCertificate(data); derErr == nil {
			certs = []*x509.Certificate{cert}
		} else {
			return nil, fmt.Errorf("neither PKCS#7 (%v) nor DER (%v)", err, derErr)
		}
	}

	out := make([]Certificate, 0, len(certs))
	for _, cert := range certs {
		sum := sha256.Sum256(cert.Raw)
		out = append(out, Certificate{
			Path:        name,
			Subject:     cert.Subject.String(),
			Issuer:      cert.Issuer.String(),
			Serial:      cert.SerialNumber.String(),
			Fingerprint: hex.EncodeToString(sum[:]),
			Raw:         cert.Raw,
		})
	}
	return out, nil
}
