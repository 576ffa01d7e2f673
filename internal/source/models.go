package source

// Manga status values.
const (
	StatusUnknown            = 0
	StatusOngoing            = 1
	StatusCompleted          = 2
	StatusLicensed           = 3
	StatusPublishingFinished = 4
	StatusCancelled          = 5
	StatusOnHiatus           = 6
)

// Manga is a catalogue entry.
type Manga struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	Artist         string `json:"artist,omitempty"`
	Author         string `json:"author,omitempty"`
	Description    string `json:"description,omitempty"`
	Genre          string `json:"genre,omitempty"`
	Status         int    `json:"status"`
	ThumbnailURL   string `json:"thumbnail_url,omitempty"`
	UpdateStrategy string `json:"update_strategy,omitempty"`
	Initialized    bool   `json:"initialized"`
}

// Chapter is one readable unit of a manga.
type Chapter struct {
	URL           string  `json:"url"`
	Name          string  `json:"name"`
	DateUpload    int64   `json:"date_upload"`
	ChapterNumber float64 `json:"chapter_number"`
	Scanlator     string  `json:"scanlator,omitempty"`
}

// Page is one image of a chapter.
type Page struct {
	Index    int    `json:"index"`
	URL      string `json:"url"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// MangasPage is one page of a listing.
type MangasPage struct {
	Mangas      []Manga `json:"mangas"`
	HasNextPage bool    `json:"hasNextPage"`
}

// Filter is a search filter as exposed by the extension. State is whatever
// the filter kind carries (bool, index, text, nested sort selection).
type Filter struct {
	Type    string      `json:"type"`
	Name    string      `json:"name"`
	State   interface{} `json:"state,omitempty"`
	Values  []string    `json:"values,omitempty"`
	Filters []Filter    `json:"filters,omitempty"`
}

// FilterList is the ordered filter set of a source.
type FilterList []Filter

// Info describes a loaded source.
type Info struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Lang           string `json:"lang"`
	BaseURL        string `json:"baseUrl"`
	SupportsLatest bool   `json:"supportsLatest"`
	VersionID      int    `json:"versionId"`
	Class          string `json:"className,omitempty"`
}
