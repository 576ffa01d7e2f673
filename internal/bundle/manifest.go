package bundle

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Descriptor keys and bounds.
const (
	FeatureMarker = "tachiyomi.extension"
	MetaClass     = "tachiyomi.extension.class"
	MetaFactory   = "tachiyomi.extension.factory"
	MetaNSFW      = "tachiyomi.extension.nsfw"

	LibVersionMin = 1.3
	LibVersionMax = 1.5

	ManifestPath = "AndroidManifest.xml"
)

type manifestXML struct {
	XMLName     xml.Name     `xml:"manifest"`
	Package     string       `xml:"package,attr"`
	VersionName string       `xml:"versionName,attr"`
	VersionCode string       `xml:"versionCode,attr"`
	Features    []namedXML   `xml:"uses-feature"`
	Application applicationX `xml:"application"`
}

type applicationX struct {
	Label    string    `xml:"label,attr"`
	MetaData []metaXML `xml:"meta-data"`
}

type namedXML struct {
	Name string `xml:"name,attr"`
}

type metaXML struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func (m *manifestXML) hasFeature(name string) bool {
	for _, f := range m.Features {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (m *manifestXML) meta(name string) (string, bool) {
	for _, md := range m.Application.MetaData {
		if md.Name == name {
			return md.Value, true
		}
	}
	return "", false
}

// libVersion drops the last dot-separated segment of versionName and parses
// the rest: "1.4.12" is 1.4.
func libVersion(versionName string) (float64, bool) {
	i := strings.LastIndexByte(versionName, '.')
	if i <= 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(versionName[:i], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// entryClasses splits a ';'-separated class list. A leading '.' is relative
// to the package name.
func entryClasses(value, pkg string) []string {
	var out []string
	for _, part := range strings.Split(value, ";") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if strings.HasPrefix(name, ".") {
			name = pkg + name
		}
		out = append(out, name)
	}
	return out
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
