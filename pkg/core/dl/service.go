package dl

import (
	"context"
	"errors"

	"github.com/Laky-64/gologging"
	"github.com/zuchzub/trackdl/pkg/core/cache"
)

// Request carries the per-call context the caller wants attached to resolved tracks.
type Request struct {
	MessageID int
	User      string
	Video     bool
}

// Service ties the resolver, metadata lookup and orchestrator together.
type Service struct {
	lookup        *Lookup
	orchestrator  *Orchestrator
	playlistLimit int
}

// NewService builds a Service. A non-positive playlistLimit keeps every entry.
func NewService(lookup *Lookup, orchestrator *Orchestrator, playlistLimit int) *Service {
	return &Service{lookup: lookup, orchestrator: orchestrator, playlistLimit: playlistLimit}
}

// Tracks resolves input into one or more tracks: a playlist link yields its entries,
// a video link or a free-text query yields a single track.
func (s *Service) Tracks(ctx context.Context, input string, req Request) ([]cache.Track, error) {
	c := Classify(input)
	switch {
	case c.IsPlaylist():
		return s.lookup.Playlist(ctx, PlaylistURL(c.PlaylistID), s.playlistLimit, req.User, req.Video)
	case c.Kind == DirectLink:
		return []cache.Track{s.videoTrack(ctx, c.VideoID, req)}, nil
	default:
		track, err := s.lookup.Search(ctx, input, req.MessageID, req.Video)
		if err != nil {
			return nil, err
		}
		return []cache.Track{track}, nil
	}
}

// videoTrack looks the id up for display metadata and falls back to a bare track
// when the lookup cannot confirm it.
func (s *Service) videoTrack(ctx context.Context, videoID string, req Request) cache.Track {
	track, err := s.lookup.Video(ctx, videoID, req.MessageID, req.Video)
	if err == nil {
		return withUser(track, req.User)
	}
	if err != nil && !errors.Is(err, ErrNoResults) {
		gologging.DebugF("Metadata lookup for %s failed: %v", videoID, err)
	}

	track = cache.Track{ID: videoID, URL: WatchURL(videoID), Video: req.Video}
	if req.MessageID != 0 {
		id := req.MessageID
		track.MessageID = &id
	}
	return withUser(track, req.User)
}

// Fetch returns the local file for track.
func (s *Service) Fetch(ctx context.Context, track cache.Track) (string, error) {
	return s.orchestrator.Resolve(ctx, track.ID, track.Video)
}

// Play resolves input and fetches the first resulting track.
func (s *Service) Play(ctx context.Context, input string, req Request) (cache.Track, string, error) {
	tracks, err := s.Tracks(ctx, input, req)
	if err != nil {
		return cache.Track{}, "", err
	}
	if len(tracks) == 0 {
		return cache.Track{}, "", ErrNoResults
	}

	track := tracks[0]
	filePath, err := s.Fetch(ctx, track)
	if err != nil {
		return track, "", err
	}
	return track, filePath, nil
}

func withUser(track cache.Track, user string) cache.Track {
	if user != "" && track.User == nil {
		u := user
		track.User = &u
	}
	return track
}
