package dl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Laky-64/gologging"
	"github.com/zuchzub/trackdl/pkg/core/cache"
)

const (
	defaultTitleLimit  = 25
	defaultSearchTTL   = 10 * time.Minute
	defaultSearchLimit = 1
	// defaultIDSearchLimit is how many results an id lookup scans for the exact id.
	defaultIDSearchLimit = 10
)

var (
	ErrNoResults  = errors.New("no video results were found")
	ErrNoSearcher = errors.New("no search collaborator is configured")
	ErrNoLister   = errors.New("no playlist collaborator is configured")
)

// Searcher runs free-text searches.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]cache.SearchResult, error)
}

// PlaylistLister lists the entries of a playlist.
type PlaylistLister interface {
	Playlist(ctx context.Context, playlistURL string) ([]cache.SearchResult, error)
}

// LookupOptions configures a Lookup.
type LookupOptions struct {
	TitleLimit int
	SearchTTL  time.Duration
}

// Lookup converts queries and playlist links into Tracks.
type Lookup struct {
	searcher   Searcher
	lister     PlaylistLister
	results    *cache.Cache[[]cache.SearchResult]
	titleLimit int
}

// NewLookup builds a Lookup. Either collaborator may be nil; the matching call then fails.
func NewLookup(searcher Searcher, lister PlaylistLister, opts LookupOptions) *Lookup {
	if opts.TitleLimit <= 0 {
		opts.TitleLimit = defaultTitleLimit
	}
	if opts.SearchTTL <= 0 {
		opts.SearchTTL = defaultSearchTTL
	}
	return &Lookup{
		searcher:   searcher,
		lister:     lister,
		results:    cache.NewCache[[]cache.SearchResult](opts.SearchTTL),
		titleLimit: opts.TitleLimit,
	}
}

// Search resolves query to its first result. messageID is attached when non-zero.
// Results are cached per case-insensitive query.
func (l *Lookup) Search(ctx context.Context, query string, messageID int, video bool) (cache.Track, error) {
	query = strings.TrimSpace(query)
	results, err := l.search(ctx, "q:"+strings.ToLower(query), query, defaultSearchLimit)
	if err != nil {
		return cache.Track{}, err
	}

	for _, r := range results {
		if r.ID != "" {
			return l.track(r, messageID, video), nil
		}
	}
	return cache.Track{}, ErrNoResults
}

// Video looks up display metadata for videoID. It scans the search results for
// the exact, case-sensitive id and returns ErrNoResults when none matches.
func (l *Lookup) Video(ctx context.Context, videoID string, messageID int, video bool) (cache.Track, error) {
	videoID = strings.TrimSpace(videoID)
	results, err := l.search(ctx, "id:"+videoID, videoID, defaultIDSearchLimit)
	if err != nil {
		return cache.Track{}, err
	}

	for _, r := range results {
		if r.ID == videoID {
			return l.track(r, messageID, video), nil
		}
	}
	return cache.Track{}, ErrNoResults
}

// search runs query through the searcher unless key is cached.
func (l *Lookup) search(ctx context.Context, key, query string, limit int) ([]cache.SearchResult, error) {
	if l.searcher == nil {
		return nil, ErrNoSearcher
	}
	if query == "" {
		return nil, ErrNoResults
	}

	if results, ok := l.results.Get(key); ok {
		return results, nil
	}
	results, err := l.searcher.Search(ctx, query, limit)
	if err != nil {
		gologging.WarnF("Search failed for %q: %v", query, err)
		return nil, err
	}
	if len(results) > 0 {
		l.results.Set(key, results)
	}
	return results, nil
}

func (l *Lookup) track(r cache.SearchResult, messageID int, video bool) cache.Track {
	track := TrackFromResult(r, l.titleLimit)
	track.Video = video
	if messageID != 0 {
		id := messageID
		track.MessageID = &id
	}
	return track
}

// Playlist resolves up to limit entries of a playlist. A non-positive limit keeps all.
func (l *Lookup) Playlist(ctx context.Context, playlistURL string, limit int, user string, video bool) ([]cache.Track, error) {
	if l.lister == nil {
		return nil, ErrNoLister
	}

	entries, err := l.lister.Playlist(ctx, playlistURL)
	if err != nil {
		gologging.WarnF("Playlist fetch failed: %v", err)
		return nil, fmt.Errorf("the playlist fetch failed: %w", err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	tracks := make([]cache.Track, 0, len(entries))
	for _, r := range entries {
		if r.ID == "" {
			continue
		}
		track := TrackFromResult(r, l.titleLimit)
		track.ViewCount = ""
		track.Video = video
		if user != "" {
			u := user
			track.User = &u
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}

// TrackFromResult maps a collaborator result to a Track. The URL is always rebuilt
// from the id.
func TrackFromResult(r cache.SearchResult, titleLimit int) cache.Track {
	track := cache.Track{
		ID:          r.ID,
		Title:       cache.Truncate(r.Title, titleLimit),
		ChannelName: r.Channel.Name,
		Duration:    r.Duration,
		DurationSec: cache.ToSeconds(r.Duration),
		URL:         WatchURL(r.ID),
		ViewCount:   r.ViewCount.Short,
	}
	if n := len(r.Thumbnails); n > 0 {
		track.Thumbnail = cache.StripQuery(r.Thumbnails[n-1].URL)
	}
	return track
}
