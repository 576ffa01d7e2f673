package bundletest

import "fmt"

// HTTPSource returns a class unit for a minimal HttpSource-based extension
// whose listing endpoints hit baseURL. Popular manga requests go to
// /popular?page=N and return the upstream JSON body as the listing.
func HTTPSource(name, baseURL string) string {
	return fmt.Sprintf(`
const HttpSource = require("eu.kanade.tachiyomi.source.online.HttpSource");

class TestSource extends HttpSource {
  constructor() {
    super();
    this.name = %q;
    this.lang = "en";
    this.baseUrl = %q;
    this.supportsLatest = true;
  }

  getPopularManga(page) {
    const resp = this.request(this.GET(this.baseUrl + "/popular?page=" + page));
    return JSON.parse(resp.body);
  }

  getLatestUpdates(page) {
    return { mangas: [], hasNextPage: false };
  }

  getMangaDetails(manga) {
    return Object.assign({}, manga, { description: "details for " + manga.title, initialized: true });
  }

  getChapterList(manga) {
    return [{ url: manga.url + "/1", name: "Chapter 1", date_upload: 1700000000000, chapter_number: 1 }];
  }

  getPageList(chapter) {
    return [{ index: 0, url: chapter.url + "/p0", imageUrl: "" }];
  }
}

module.exports = TestSource;
`, name, baseURL)
}
