// Package bundletest builds extension bundles in memory for tests.
package bundletest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"html"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/smallstep/pkcs7"
)

// Builder assembles a bundle. The zero value is not usable; call New.
type Builder struct {
	Package     string
	Label       string
	VersionName string
	VersionCode string
	// Feature is the declared feature marker; empty omits it.
	Feature string
	Meta    map[string]string

	// SkipManifest leaves AndroidManifest.xml out entirely.
	SkipManifest bool

	files map[string][]byte
}

// New returns a builder for a valid single-source bundle declaring entry.
func New(pkg, entry string) *Builder {
	return &Builder{
		Package:     pkg,
		Label:       "Test: " + pkg,
		VersionName: "1.4.1",
		VersionCode: "1",
		Feature:     "tachiyomi.extension",
		Meta: map[string]string{
			"tachiyomi.extension.class": entry,
			"tachiyomi.extension.nsfw":  "0",
		},
		files: map[string][]byte{},
	}
}

// WithVersion sets versionName.
func (b *Builder) WithVersion(v string) *Builder {
	b.VersionName = v
	return b
}

// WithMeta sets a meta-data entry; an empty value removes it.
func (b *Builder) WithMeta(key, value string) *Builder {
	if value == "" {
		delete(b.Meta, key)
	} else {
		b.Meta[key] = value
	}
	return b
}

// WithoutFeature drops the feature marker.
func (b *Builder) WithoutFeature() *Builder {
	b.Feature = ""
	return b
}

// Class adds a class unit by fully-qualified name.
func (b *Builder) Class(name, src string) *Builder {
	b.files["classes/"+strings.ReplaceAll(name, ".", "/")+".js"] = []byte(src)
	return b
}

// Asset adds a resource under assets/.
func (b *Builder) Asset(name string, data []byte) *Builder {
	b.files["assets/"+name] = data
	return b
}

// File adds an arbitrary entry.
func (b *Builder) File(name string, data []byte) *Builder {
	b.files[name] = data
	return b
}

// Cert adds a freshly generated self-signed certificate as PEM.
func (b *Builder) Cert(commonName string) *Builder {
	der, err := SelfSigned(commonName)
	if err != nil {
		panic(err)
	}
	b.files["META-INF/CERT.pem"] = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return b
}

// SignatureBlock adds META-INF/CERT.RSA: a certs-only PKCS#7 block holding a
// freshly generated self-signed certificate, as jarsigner lays it out.
func (b *Builder) SignatureBlock(commonName string) *Builder {
	der, err := SelfSigned(commonName)
	if err != nil {
		panic(err)
	}
	block, err := pkcs7.DegenerateCertificate(der)
	if err != nil {
		panic(err)
	}
	b.files["META-INF/CERT.RSA"] = block
	return b
}

// Manifest renders AndroidManifest.xml.
func (b *Builder) Manifest() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	fmt.Fprintf(&sb, `<manifest xmlns:android="http://schemas.android.com/apk/res/android" package=%q android:versionCode=%q android:versionName=%q>`+"\n",
		b.Package, b.VersionCode, b.VersionName)
	if b.Feature != "" {
		fmt.Fprintf(&sb, `  <uses-feature android:name=%q />`+"\n", b.Feature)
	}
	fmt.Fprintf(&sb, `  <application android:label="%s">`+"\n", html.EscapeString(b.Label))

	keys := make([]string, 0, len(b.Meta))
	for k := range b.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, `    <meta-data android:name="%s" android:value="%s" />`+"\n", html.EscapeString(k), html.EscapeString(b.Meta[k]))
	}
	sb.WriteString("  </application>\n</manifest>\n")
	return sb.String()
}

// Build returns the zip bytes.
func (b *Builder) Build() []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name string, data []byte) {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(data); err != nil {
			panic(err)
		}
	}

	if !b.SkipManifest {
		write("AndroidManifest.xml", []byte(b.Manifest()))
	}
	names := make([]string, 0, len(b.files))
	for name := range b.files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		write(name, b.files[name])
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Base64 returns the bundle as the RPC "data" field expects it.
func (b *Builder) Base64() string {
	return base64.StdEncoding.EncodeToString(b.Build())
}

// SelfSigned generates a DER-encoded self-signed certificate.
func SelfSigned(commonName string) ([]byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	return x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
}
