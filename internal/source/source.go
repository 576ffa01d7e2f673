// Package source defines the capability surface every loaded extension
// source implements, and the data it exchanges with callers.
package source

import (
	"context"
	"errors"
)

// Version is the capability surface version implemented by this host.
const Version = "1.5"

// Operation is a wire method name on the capability surface.
type Operation string

const (
	OpPopularManga  Operation = "getPopularManga"
	OpLatestUpdates Operation = "getLatestUpdates"
	OpSearchManga   Operation = "getSearchManga"
	OpMangaDetails  Operation = "getMangaDetails"
	OpChapterList   Operation = "getChapterList"
	OpPageList      Operation = "getPageList"
	OpImageURL      Operation = "getImageUrl"
	OpFilterList    Operation = "getFilterList"
	OpLogin         Operation = "login"
	OpSourceInfo    Operation = "getSourceInfo"
)

// Signature describes one operation of the surface.
type Signature struct {
	Op Operation
	// Required operations must be present for a source to load.
	Required bool
}

// Surface is the closed, ordered capability table for Version.
var Surface = []Signature{
	{Op: OpPopularManga, Required: true},
	{Op: OpLatestUpdates},
	{Op: OpSearchManga},
	{Op: OpMangaDetails, Required: true},
	{Op: OpChapterList, Required: true},
	{Op: OpPageList, Required: true},
	{Op: OpImageURL},
	{Op: OpFilterList},
	{Op: OpLogin},
	{Op: OpSourceInfo, Required: true},
}

// Lookup returns the surface entry for a wire name.
func Lookup(name string) (Signature, bool) {
	for _, s := range Surface {
		if string(s.Op) == name {
			return s, true
		}
	}
	return Signature{}, false
}

// ErrUnsupported is returned by optional operations a source does not implement.
var ErrUnsupported = errors.New("operation not supported by source")

// Source is a loaded content provider.
//
// Every method runs to completion; ctx carries the per-invocation network
// session used by the source's outbound calls.
type Source interface {
	Info() Info
	// Supports reports whether the source implements op.
	Supports(op Operation) bool

	PopularManga(ctx context.Context, page int) (*MangasPage, error)
	LatestUpdates(ctx context.Context, page int) (*MangasPage, error)
	SearchManga(ctx context.Context, page int, query string, filters FilterList) (*MangasPage, error)
	MangaDetails(ctx context.Context, manga Manga) (*Manga, error)
	ChapterList(ctx context.Context, manga Manga) ([]Chapter, error)
	PageList(ctx context.Context, chapter Chapter) ([]Page, error)
	ImageURL(ctx context.Context, page Page) (string, error)
	FilterList(ctx context.Context) (FilterList, error)
	Login(ctx context.Context, username, password string) (bool, error)
}
