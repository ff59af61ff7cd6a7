package cache

import "time"

// WatchBase is the canonical watch URL prefix; a Track's URL is WatchBase + ID.
const WatchBase = "https://www.youtube.com/watch?v="

// Track is a resolved reference to one piece of media with display and playback metadata.
// It is created per request and passed by value.
type Track struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	ChannelName string  `json:"channel_name"`
	Duration    string  `json:"duration"`
	DurationSec *int    `json:"duration_sec"`
	URL         string  `json:"url"`
	Thumbnail   string  `json:"thumbnail"`
	ViewCount   string  `json:"view_count"`
	MessageID   *int    `json:"message_id"`
	User        *string `json:"user"`
	Video       bool    `json:"video"`
}

// TrackDescriptor is the transcoding API response. Only CdnURL is consumed.
type TrackDescriptor struct {
	CdnURL string `json:"cdnurl"`
}

// DownloadResult reports the outcome of a streaming download.
// FilePath is set when Success is true, Error otherwise.
type DownloadResult struct {
	Success  bool   `json:"success"`
	FilePath string `json:"file_path,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Failed builds an unsuccessful DownloadResult.
func Failed(msg string) DownloadResult {
	return DownloadResult{Error: msg}
}

// Delivered builds a successful DownloadResult.
func Delivered(path string) DownloadResult {
	return DownloadResult{Success: true, FilePath: path}
}

// Thumbnail is a single preview image of a search result.
type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// SearchResult is the shape returned by search and playlist collaborators.
type SearchResult struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Duration string `json:"duration"`
	Link     string `json:"link"`
	Channel  struct {
		Name string `json:"name"`
	} `json:"channel"`
	Thumbnails []Thumbnail `json:"thumbnails"`
	ViewCount  struct {
		Short string `json:"short"`
	} `json:"viewCount"`
}

// Attempt is a single network call as seen by the transport, kept for observability.
type Attempt struct {
	URL       string        `json:"url" bson:"url"`
	Kind      string        `json:"kind" bson:"kind"`
	Number    int           `json:"number" bson:"number"`
	Status    int           `json:"status" bson:"status"`
	Latency   time.Duration `json:"latency" bson:"latency"`
	Err       string        `json:"error,omitempty" bson:"error,omitempty"`
	StartedAt time.Time     `json:"started_at" bson:"started_at"`
}

// OK reports whether the attempt completed without error.
func (a Attempt) OK() bool {
	return a.Err == ""
}

const (
	AttemptJSON     = "json"
	AttemptText     = "text"
	AttemptDownload = "download"
)
