// Package bundle reads extension bundles and their descriptors.
//
// A bundle is a zip archive carrying AndroidManifest.xml (plain XML), one
// script unit per class under classes/, signing certificates under
// META-INF/ and resources under assets/. Inspect validates the descriptor
// and the declared library version before anything else touches the bundle.
package bundle

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/exterr"
)

// Glob patterns for bundle sections.
const (
	ClassPattern = "classes/**/*.js"
	AssetPattern = "assets/**"

	classPrefix = "classes/"
	classSuffix = ".js"
	assetPrefix = "assets/"
)

// Descriptor is the metadata declared by a bundle.
type Descriptor struct {
	Package     string        `json:"package"`
	Label       string        `json:"label"`
	VersionName string        `json:"versionName"`
	VersionCode string        `json:"versionCode"`
	LibVersion  float64       `json:"libVersion"`
	Entries     []string      `json:"entries"`
	Factory     bool          `json:"factory"`
	NSFW        bool          `json:"nsfw"`
	Certs       []Certificate `json:"certificates"`
	CertErrors  []CertError   `json:"certificateErrors,omitempty"`
	// Verified is always false: certificates are extracted, not checked.
	Verified bool `json:"verified"`
}

// Bundle is an inspected extension bundle.
type Bundle struct {
	Descriptor Descriptor

	raw     []byte
	files   map[string]*zip.File
	classes []string
	assets  []string
}

// Inspect parses raw bundle bytes. It fails with BundleFormatError for
// anything that is not an extension bundle and with VersionRangeError when
// the declared library version is unsupported.
func Inspect(raw []byte) (*Bundle, error) {
	if len(raw) == 0 {
		return nil, exterr.BundleFormat("empty bundle")
	}
	if mt := mimetype.Detect(raw); !isZip(mt) {
		return nil, exterr.BundleFormat("bundle is not a zip archive (detected %s)", mt.String())
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, exterr.BundleFormatWrap(err, "open bundle")
	}

	b := &Bundle{raw: raw, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		b.files[f.Name] = f
	}

	mf, err := b.readManifest()
	if err != nil {
		return nil, err
	}
	if err := b.describe(mf); err != nil {
		return nil, err
	}
	if err := b.index(); err != nil {
		return nil, err
	}
	return b, nil
}

// isZip accepts zip and every zip-derived container (jar, apk).
func isZip(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

func (b *Bundle) readManifest() (*manifestXML, error) {
	f, ok := b.files[ManifestPath]
	if !ok {
		return nil, exterr.BundleFormat("missing %s", ManifestPath)
	}
	data, err := readZipFile(f)
	if err != nil {
		return nil, exterr.BundleFormatWrap(err, "read %s", ManifestPath)
	}
	var mf manifestXML
	if err := xml.Unmarshal(data, &mf); err != nil {
		return nil, exterr.BundleFormatWrap(err, "parse %s", ManifestPath)
	}
	return &mf, nil
}

func (b *Bundle) describe(mf *manifestXML) error {
	if !mf.hasFeature(FeatureMarker) {
		return exterr.BundleFormat("package %q does not declare feature %s", mf.Package, FeatureMarker)
	}

	d := Descriptor{
		Package:     mf.Package,
		Label:       mf.Application.Label,
		VersionName: mf.VersionName,
		VersionCode: mf.VersionCode,
	}

	classValue, hasClass := mf.meta(MetaClass)
	factoryValue, hasFactory := mf.meta(MetaFactory)
	switch {
	case hasFactory && strings.TrimSpace(factoryValue) != "":
		d.Entries = entryClasses(factoryValue, mf.Package)
		d.Factory = true
	case hasClass:
		d.Entries = entryClasses(classValue, mf.Package)
	}
	if len(d.Entries) == 0 {
		return exterr.BundleFormat("package %q declares neither %s nor %s", mf.Package, MetaClass, MetaFactory)
	}

	v, ok := libVersion(mf.VersionName)
	if !ok {
		return exterr.VersionRange("unparsable library version in versionName %q", mf.VersionName)
	}
	if v < LibVersionMin || v > LibVersionMax {
		return exterr.VersionRange("library version %.1f outside supported range [%.1f, %.1f]", v, LibVersionMin, LibVersionMax)
	}
	d.LibVersion = v

	if nsfw, ok := mf.meta(MetaNSFW); ok {
		d.NSFW = truthy(nsfw)
	}

	b.Descriptor = d
	return nil
}

func (b *Bundle) index() error {
	names := make([]string, 0, len(b.files))
	for name := range b.files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		switch {
		case match(ClassPattern, name):
			b.classes = append(b.classes, classNameOf(name))
		case match(AssetPattern, name):
			b.assets = append(b.assets, strings.TrimPrefix(name, assetPrefix))
		case isCertEntry(name):
			data, err := readZipFile(b.files[name])
			if err != nil {
				return exterr.BundleFormatWrap(err, "read %s", name)
			}
			certs, err := parseCertificates(name, data)
			if err != nil {
				b.Descriptor.CertErrors = append(b.Descriptor.CertErrors, CertError{Path: name, Error: err.Error()})
				continue
			}
			b.Descriptor.Certs = append(b.Descriptor.Certs, certs...)
		}
	}
	return nil
}

func match(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

func classNameOf(entry string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(entry, classPrefix), classSuffix)
	return strings.ReplaceAll(name, "/", ".")
}

func classEntry(name string) string {
	return classPrefix + strings.ReplaceAll(name, ".", "/") + classSuffix
}

// Identity tags diagnostics and workspace directories.
func (b *Bundle) Identity() string {
	return fmt.Sprintf("%s-v%s", b.Descriptor.Package, b.Descriptor.VersionName)
}

// Raw returns the original payload.
func (b *Bundle) Raw() []byte {
	return b.raw
}

// Classes lists fully-qualified class names in the code section, sorted.
func (b *Bundle) Classes() []string {
	return append([]string(nil), b.classes...)
}

// ReadClass returns the source of one class unit.
func (b *Bundle) ReadClass(name string) ([]byte, error) {
	f, ok := b.files[classEntry(name)]
	if !ok {
		return nil, fmt.Errorf("class %s not in bundle", name)
	}
	return readZipFile(f)
}

// Assets lists resource paths relative to assets/.
func (b *Bundle) Assets() []string {
	return append([]string(nil), b.assets...)
}

// HasAsset reports whether a resource exists.
func (b *Bundle) HasAsset(name string) bool {
	_, ok := b.files[assetPrefix+strings.TrimPrefix(name, "/")]
	return ok
}

// ReadAsset returns a resource by path relative to assets/.
func (b *Bundle) ReadAsset(name string) ([]byte, error) {
	f, ok := b.files[assetPrefix+strings.TrimPrefix(name, "/")]
	if !ok {
		return nil, fmt.Errorf("asset %s not in bundle", name)
	}
	return readZipFile(f)
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
