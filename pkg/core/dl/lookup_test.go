package dl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zuchzub/trackdl/pkg/core/cache"
)

type fakeSearcher struct {
	results []cache.SearchResult
	err     error
	queries []string
	limits  []int
}

func (f *fakeSearcher) Search(_ context.Context, query string, limit int) ([]cache.SearchResult, error) {
	f.queries = append(f.queries, query)
	f.limits = append(f.limits, limit)
	return f.results, f.err
}

type fakeLister struct {
	entries []cache.SearchResult
	err     error
}

func (f *fakeLister) Playlist(context.Context, string) ([]cache.SearchResult, error) {
	return f.entries, f.err
}

func result(id, title, duration string) cache.SearchResult {
	r := cache.SearchResult{
		ID:       id,
		Title:    title,
		Duration: duration,
		Thumbnails: []cache.Thumbnail{
			{URL: "https://i.ytimg.com/vi/" + id + "/default.jpg"},
			{URL: "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg?sqp=abc"},
		},
	}
	r.Channel.Name = "Channel"
	r.ViewCount.Short = "1.2M views"
	return r
}

func TestLookupSearch_MapsFirstResult(t *testing.T) {
	s := &fakeSearcher{results: []cache.SearchResult{
		result("dQw4w9WgXcQ", "Rick Astley - Never Gonna Give You Up (Official Video)", "3:33"),
		result("otherid0000", "Other", "1:00"),
	}}
	l := NewLookup(s, nil, LookupOptions{})

	track, err := l.Search(context.Background(), "never gonna give you up", 77, true)
	require.NoError(t, err)

	assert.Equal(t, "dQw4w9WgXcQ", track.ID)
	assert.Equal(t, "Rick Astley - Never Gonna", track.Title)
	assert.Equal(t, "Channel", track.ChannelName)
	assert.Equal(t, "3:33", track.Duration)
	require.NotNil(t, track.DurationSec)
	assert.Equal(t, 213, *track.DurationSec)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", track.URL)
	assert.Equal(t, "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg", track.Thumbnail)
	assert.Equal(t, "1.2M views", track.ViewCount)
	assert.True(t, track.Video)
	require.NotNil(t, track.MessageID)
	assert.Equal(t, 77, *track.MessageID)
}

func TestLookupSearch_CachesByNormalisedQuery(t *testing.T) {
	s := &fakeSearcher{results: []cache.SearchResult{result("dQw4w9WgXcQ", "Song", "")}}
	l := NewLookup(s, nil, LookupOptions{})

	_, err := l.Search(context.Background(), "Some Song", 0, false)
	require.NoError(t, err)
	track, err := l.Search(context.Background(), "  some song ", 0, false)
	require.NoError(t, err)

	assert.Len(t, s.queries, 1)
	assert.Nil(t, track.MessageID)
	assert.Nil(t, track.DurationSec)
}

func TestLookupSearch_NoResults(t *testing.T) {
	l := NewLookup(&fakeSearcher{results: []cache.SearchResult{{Title: "no id"}}}, nil, LookupOptions{})
	_, err := l.Search(context.Background(), "anything", 0, false)
	assert.ErrorIs(t, err, ErrNoResults)

	_, err = l.Search(context.Background(), "   ", 0, false)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestLookupSearch_Errors(t *testing.T) {
	boom := errors.New("boom")
	l := NewLookup(&fakeSearcher{err: boom}, nil, LookupOptions{})
	_, err := l.Search(context.Background(), "q", 0, false)
	assert.ErrorIs(t, err, boom)

	_, err = NewLookup(nil, nil, LookupOptions{}).Search(context.Background(), "q", 0, false)
	assert.ErrorIs(t, err, ErrNoSearcher)
}

func TestLookupVideo_ScansForExactID(t *testing.T) {
	s := &fakeSearcher{results: []cache.SearchResult{
		result("dqw4w9wgxcq", "Lowercase twin", "1:00"),
		result("otherid0000", "Other", "2:00"),
		result("dQw4w9WgXcQ", "The one", "3:33"),
	}}
	l := NewLookup(s, nil, LookupOptions{})

	track, err := l.Video(context.Background(), "dQw4w9WgXcQ", 0, false)
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ", track.ID)
	assert.Equal(t, "The one", track.Title)
	assert.Equal(t, []int{defaultIDSearchLimit}, s.limits)
}

func TestLookupVideo_CacheKeysAreCaseSensitive(t *testing.T) {
	s := &fakeSearcher{results: []cache.SearchResult{
		result("dQw4w9WgXcQ", "Upper", "3:33"),
		result("dqw4w9wgxcq", "Lower", "1:00"),
	}}
	l := NewLookup(s, nil, LookupOptions{})

	upper, err := l.Video(context.Background(), "dQw4w9WgXcQ", 0, false)
	require.NoError(t, err)
	lower, err := l.Video(context.Background(), "dqw4w9wgxcq", 0, false)
	require.NoError(t, err)

	assert.Equal(t, "Upper", upper.Title)
	assert.Equal(t, "Lower", lower.Title)
	assert.Equal(t, []string{"dQw4w9WgXcQ", "dqw4w9wgxcq"}, s.queries)

	// Query searches use their own cache entries.
	_, err = l.Search(context.Background(), "dQw4w9WgXcQ", 0, false)
	require.NoError(t, err)
	assert.Len(t, s.queries, 3)
}

func TestLookupVideo_NoExactMatch(t *testing.T) {
	l := NewLookup(&fakeSearcher{results: []cache.SearchResult{result("otherid0000", "Other", "")}}, nil, LookupOptions{})
	_, err := l.Video(context.Background(), "dQw4w9WgXcQ", 0, false)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestLookupPlaylist(t *testing.T) {
	lister := &fakeLister{entries: []cache.SearchResult{
		result("aaaaaaaaaaa", "First", "4:01"),
		{Title: "deleted video"},
		result("bbbbbbbbbbb", "Second", "1:02:03"),
		result("ccccccccccc", "Third", "0:10"),
	}}
	l := NewLookup(nil, lister, LookupOptions{TitleLimit: 3})

	tracks, err := l.Playlist(context.Background(), PlaylistURL("PL1"), 3, "alice", false)
	require.NoError(t, err)
	require.Len(t, tracks, 2)

	assert.Equal(t, "aaaaaaaaaaa", tracks[0].ID)
	assert.Equal(t, "Fir", tracks[0].Title)
	assert.Empty(t, tracks[0].ViewCount)
	require.NotNil(t, tracks[0].User)
	assert.Equal(t, "alice", *tracks[0].User)

	assert.Equal(t, "bbbbbbbbbbb", tracks[1].ID)
	require.NotNil(t, tracks[1].DurationSec)
	assert.Equal(t, 3723, *tracks[1].DurationSec)
}

func TestLookupPlaylist_Errors(t *testing.T) {
	_, err := NewLookup(nil, nil, LookupOptions{}).Playlist(context.Background(), "u", 0, "", false)
	assert.ErrorIs(t, err, ErrNoLister)

	boom := errors.New("boom")
	_, err = NewLookup(nil, &fakeLister{err: boom}, LookupOptions{}).Playlist(context.Background(), "u", 0, "", false)
	assert.ErrorIs(t, err, boom)
}

func TestTrackFromResult_NoThumbnails(t *testing.T) {
	track := TrackFromResult(cache.SearchResult{ID: "x", Title: "Ünïcödé títle"}, 5)
	assert.Equal(t, "Ünïcö", track.Title)
	assert.Empty(t, track.Thumbnail)
	assert.Equal(t, WatchURL("x"), track.URL)
}
