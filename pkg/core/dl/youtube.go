package dl

import (
	"regexp"
	"strings"

	"github.com/zuchzub/trackdl/pkg/core/cache"
)

// Kind says whether an input is a recognised link or free text.
type Kind int

const (
	SearchQuery Kind = iota
	DirectLink
)

// String returns the wire name of the kind, "direct_link" or "search_query".
func (k Kind) String() string {
	if k == DirectLink {
		return "direct_link"
	}
	return "search_query"
}

// Classification is the outcome of Classify. For a DirectLink exactly one of
// VideoID and PlaylistID is set.
type Classification struct {
	Kind       Kind
	VideoID    string
	PlaylistID string
}

// IsPlaylist reports whether the input pointed at a playlist.
func (c Classification) IsPlaylist() bool {
	return c.Kind == DirectLink && c.PlaylistID != ""
}

// linkRegex matches watch, shorts, youtu.be and playlist links with an optional
// scheme and an optional www./m./music. prefix. The link must start the input and
// its id must end at a non-id character; whatever follows is ignored.
var linkRegex = regexp.MustCompile(
	`^(?:https?://)?(?:www\.|m\.|music\.)?` +
		`(?:youtube\.com/(?:watch\?v=|shorts/)([A-Za-z0-9_-]{11})` +
		`|youtu\.be/([A-Za-z0-9_-]{11})` +
		`|youtube\.com/playlist\?list=([A-Z]{2}[A-Za-z0-9_-]+))` +
		`(?:$|[^A-Za-z0-9_-])`,
)

// Classify tells a media link apart from a search query. It never fails: anything
// that is not a recognised link is a search query.
func Classify(input string) Classification {
	m := linkRegex.FindStringSubmatch(strings.TrimSpace(input))
	if m == nil {
		return Classification{Kind: SearchQuery}
	}

	switch {
	case m[1] != "":
		return Classification{Kind: DirectLink, VideoID: m[1]}
	case m[2] != "":
		return Classification{Kind: DirectLink, VideoID: m[2]}
	default:
		return Classification{Kind: DirectLink, PlaylistID: m[3]}
	}
}

// WatchURL builds the canonical watch URL for a video id.
func WatchURL(videoID string) string {
	return cache.WatchBase + videoID
}

// PlaylistURL builds the canonical playlist URL for a playlist id.
func PlaylistURL(playlistID string) string {
	return "https://www.youtube.com/playlist?list=" + playlistID
}
