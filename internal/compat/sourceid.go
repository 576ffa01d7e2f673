package compat

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// SourceID derives the stable id of a source from its name, language and
// version id: the first eight bytes of MD5("name/lang/versionId") with the
// name lower-cased, big-endian, sign bit cleared.
func SourceID(name, lang string, versionID int) int64 {
	key := fmt.Sprintf("%s/%s/%d", strings.ToLower(name), lang, versionID)
	sum := md5.Sum([]byte(key))
	return int64(binary.BigEndian.Uint64(sum[:8]) & math.MaxInt64)
}
