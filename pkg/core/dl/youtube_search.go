package dl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/ppalone/ytsearch"
	"github.com/zuchzub/trackdl/pkg/core/cache"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

var (
	ErrNoInitialData = errors.New("ytInitialData not found")
	initialDataRegex = regexp.MustCompile(`(?s)(?:var ytInitialData|window\["ytInitialData"\])\s*=\s*(\{.*?\});\s*</script>`)
)

// YTSearcher is a Searcher backed by the ytsearch client.
type YTSearcher struct {
	client *ytsearch.Client
}

// NewYTSearcher builds a YTSearcher. A nil httpClient uses the library default.
func NewYTSearcher(httpClient *http.Client) *YTSearcher {
	return &YTSearcher{client: ytsearch.NewClient(httpClient)}
}

// Search returns up to limit video results for query.
func (s *YTSearcher) Search(ctx context.Context, query string, limit int) ([]cache.SearchResult, error) {
	res, err := s.client.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("the search request failed: %w", err)
	}

	var out []cache.SearchResult
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		r := cache.SearchResult{
			ID:         v.VideoID,
			Title:      v.Title,
			Duration:   v.Duration,
			Link:       WatchURL(v.VideoID),
			Thumbnails: []cache.Thumbnail{{URL: thumbnailURL(v.VideoID)}},
		}
		r.Channel.Name = v.Channel
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// TextFetcher is the part of Client the playlist scraper depends on.
type TextFetcher interface {
	GetText(ctx context.Context, rawURL string, opts ...RequestOption) (string, error)
}

// PlaylistScraper lists playlist entries by reading the playlist page's ytInitialData.
type PlaylistScraper struct {
	fetcher TextFetcher
}

// NewPlaylistScraper builds a PlaylistScraper on top of fetcher.
func NewPlaylistScraper(fetcher TextFetcher) *PlaylistScraper {
	return &PlaylistScraper{fetcher: fetcher}
}

// Playlist returns the entries of the playlist at playlistURL in page order.
func (p *PlaylistScraper) Playlist(ctx context.Context, playlistURL string) ([]cache.SearchResult, error) {
	page, err := p.fetcher.GetText(ctx, playlistURL,
		WithHeader("User-Agent", browserUserAgent),
		WithHeader("Accept-Language", "en-US,en;q=0.9"),
	)
	if err != nil {
		return nil, err
	}
	return parsePlaylistPage(page)
}

// parsePlaylistPage extracts playlistVideoRenderer entries from a playlist page.
func parsePlaylistPage(page string) ([]cache.SearchResult, error) {
	match := initialDataRegex.FindStringSubmatch(page)
	if len(match) < 2 {
		return nil, ErrNoInitialData
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(match[1]), &data); err != nil {
		return nil, fmt.Errorf("failed to decode ytInitialData: %w", err)
	}

	var results []cache.SearchResult
	collectPlaylistVideos(data, &results)
	return results, nil
}

// collectPlaylistVideos walks the tree depth-first and appends every playlist video.
func collectPlaylistVideos(node interface{}, results *[]cache.SearchResult) {
	switch v := node.(type) {
	case []interface{}:
		for _, item := range v {
			collectPlaylistVideos(item, results)
		}
	case map[string]interface{}:
		if vid, ok := v["playlistVideoRenderer"].(map[string]interface{}); ok {
			if r, ok := playlistEntry(vid); ok {
				*results = append(*results, r)
			}
			return
		}
		for _, child := range v {
			collectPlaylistVideos(child, results)
		}
	}
}

func playlistEntry(vid map[string]interface{}) (cache.SearchResult, bool) {
	id := safeString(vid["videoId"])
	if id == "" {
		return cache.SearchResult{}, false
	}

	r := cache.SearchResult{
		ID:       id,
		Title:    textOf(vid["title"]),
		Duration: safeString(dig(vid, "lengthText", "simpleText")),
		Link:     WatchURL(id),
	}
	if r.Duration == "" {
		r.Duration = textOf(vid["lengthText"])
	}
	if r.Duration == "" {
		if secs, err := strconv.Atoi(safeString(vid["lengthSeconds"])); err == nil {
			r.Duration = cache.SecToMin(secs)
		}
	}
	r.Channel.Name = textOf(vid["shortBylineText"])

	if thumbs, ok := dig(vid, "thumbnail", "thumbnails").([]interface{}); ok {
		for _, t := range thumbs {
			if u := safeString(dig(t, "url")); u != "" {
				r.Thumbnails = append(r.Thumbnails, cache.Thumbnail{URL: u})
			}
		}
	}
	if len(r.Thumbnails) == 0 {
		r.Thumbnails = []cache.Thumbnail{{URL: thumbnailURL(id)}}
	}
	return r, true
}

// textOf reads either {simpleText} or the concatenated {runs[].text}.
func textOf(node interface{}) string {
	if s := safeString(dig(node, "simpleText")); s != "" {
		return s
	}
	runs, ok := dig(node, "runs").([]interface{})
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, run := range runs {
		b.WriteString(safeString(dig(run, "text")))
	}
	return b.String()
}

// dig safely walks nested JSON by map keys and slice indexes.
func dig(m interface{}, path ...interface{}) interface{} {
	curr := m
	for _, p := range path {
		switch key := p.(type) {
		case string:
			mm, ok := curr.(map[string]interface{})
			if !ok {
				return nil
			}
			curr = mm[key]
		case int:
			arr, ok := curr.([]interface{})
			if !ok || key < 0 || len(arr) <= key {
				return nil
			}
			curr = arr[key]
		}
	}
	return curr
}

func safeString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func thumbnailURL(videoID string) string {
	return "https://i.ytimg.com/vi/" + videoID + "/hqdefault.jpg"
}
