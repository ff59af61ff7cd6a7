package dl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Laky-64/gologging"
	"github.com/zuchzub/trackdl/pkg/core/cache"
	"golang.org/x/sync/singleflight"
)

// defaultResolveTimeout bounds one shared resolution, API call and download included.
const defaultResolveTimeout = 10 * time.Minute

var (
	ErrAPINotConfigured = errors.New("the API URL is not configured")
	ErrInvalidVideoID   = errors.New("the video id is empty")
	ErrAPIRequest       = errors.New("the API request failed")
	ErrMissingCDNURL    = errors.New("cdnurl missing in API response")
	ErrDirectDownload   = errors.New("the CDN download failed")
	ErrNoPlatform       = errors.New("no messaging platform is configured")
	ErrPlatformFetch    = errors.New("the Telegram CDN fetch failed")
)

// Transport is the part of Client the Orchestrator depends on.
type Transport interface {
	GetJSON(ctx context.Context, rawURL string, out any, opts ...RequestOption) error
	DownloadFile(ctx context.Context, rawURL, destPath string, overwrite bool, opts ...DownloadOption) cache.DownloadResult
	DownloadsDir() string
}

// Orchestrator turns a media id into a local file through the transcoding API and
// whichever delivery transport its answer points at.
type Orchestrator struct {
	apiURL    string
	transport Transport
	platform  Platform
	group     singleflight.Group
	timeout   time.Duration
}

// NewOrchestrator builds an Orchestrator. platform may be nil, in which case
// Telegram-hosted assets cannot be fetched.
func NewOrchestrator(apiURL string, transport Transport, platform Platform) *Orchestrator {
	return &Orchestrator{
		apiURL:    strings.TrimRight(apiURL, "/"),
		transport: transport,
		platform:  platform,
		timeout:   defaultResolveTimeout,
	}
}

// Resolve returns the local path of the media for videoID. Concurrent calls for the
// same id and format share one resolution, which runs detached from any single
// caller: a caller whose ctx ends gets ctx.Err() while the others keep waiting.
// Every other failure is logged and returned as an error wrapping one of the
// package's sentinel errors; callers may treat any error as "could not resolve
// this id right now".
func (o *Orchestrator) Resolve(ctx context.Context, videoID string, wantVideo bool) (string, error) {
	if o.apiURL == "" {
		gologging.ErrorF("API_URL not set in config.")
		return "", ErrAPINotConfigured
	}
	if videoID == "" {
		return "", ErrInvalidVideoID
	}

	key := videoID + ":" + strconv.FormatBool(wantVideo)
	ch := o.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()
		return o.resolve(shared, videoID, wantVideo)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			gologging.DebugF("Resolution of %s was shared with a concurrent request", key)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (o *Orchestrator) resolve(ctx context.Context, videoID string, wantVideo bool) (string, error) {
	descriptor, err := o.fetchDescriptor(ctx, videoID, wantVideo)
	if err != nil {
		return "", err
	}

	if !IsTelegramLink(descriptor.CdnURL) {
		return o.downloadDirect(ctx, videoID, wantVideo, descriptor.CdnURL)
	}
	return o.downloadFromPlatform(ctx, descriptor.CdnURL)
}

// TrackURL builds the transcoding API request for a video id.
func (o *Orchestrator) TrackURL(videoID string, wantVideo bool) string {
	q := url.Values{}
	q.Set("url", WatchURL(videoID))
	q.Set("video", strconv.FormatBool(wantVideo))
	return o.apiURL + "/api/track?" + q.Encode()
}

// fetchDescriptor calls the transcoding API. Retries happen inside the transport.
func (o *Orchestrator) fetchDescriptor(ctx context.Context, videoID string, wantVideo bool) (cache.TrackDescriptor, error) {
	var descriptor cache.TrackDescriptor
	if err := o.transport.GetJSON(ctx, o.TrackURL(videoID, wantVideo), &descriptor); err != nil {
		gologging.WarnF("API request failed for %s: %v", videoID, err)
		return descriptor, fmt.Errorf("%w: %w", ErrAPIRequest, err)
	}

	descriptor.CdnURL = strings.TrimSpace(descriptor.CdnURL)
	if descriptor.CdnURL == "" {
		gologging.WarnF("cdnurl missing in API response for %s.", videoID)
		return descriptor, ErrMissingCDNURL
	}
	return descriptor, nil
}

// downloadDirect streams a directly fetchable asset into a file named after the
// media id, so repeated requests hit the existing file without any network I/O.
// When the CDN URL has no extension the response supplies it.
func (o *Orchestrator) downloadDirect(ctx context.Context, videoID string, wantVideo bool, cdnURL string) (string, error) {
	dest, ext := o.destinationFor(videoID, wantVideo, cdnURL)
	if dest == "" {
		return "", fmt.Errorf("%w: %q is not usable as a file name", ErrInvalidVideoID, videoID)
	}

	var opts []DownloadOption
	if ext == "" {
		opts = append(opts, WithInferredExtension())
	}
	result := o.transport.DownloadFile(ctx, cdnURL, dest, false, opts...)
	if !result.Success {
		gologging.WarnF("CDN download failed for %s: %s", videoID, result.Error)
		return "", fmt.Errorf("%w: %s", ErrDirectDownload, result.Error)
	}
	return result.FilePath, nil
}

// destinationFor returns <downloads>/<id>[_video]<ext> and the extension taken from
// the CDN URL path, which is empty when the path has none. It returns "" when the
// id sanitises to nothing.
func (o *Orchestrator) destinationFor(videoID string, wantVideo bool, cdnURL string) (string, string) {
	name := sanitizeFilename(videoID)
	if name == "" {
		return "", ""
	}
	if wantVideo {
		name += "_video"
	}

	var ext string
	if u, err := url.Parse(cdnURL); err == nil {
		ext = mediaExtension(path.Ext(u.Path))
	}
	return filepath.Join(o.transport.DownloadsDir(), name+ext), ext
}

// downloadFromPlatform fetches an asset that the API parked in a Telegram message.
func (o *Orchestrator) downloadFromPlatform(ctx context.Context, cdnURL string) (string, error) {
	if o.platform == nil {
		gologging.WarnF("Telegram CDN link %s cannot be fetched: %v", cdnURL, ErrNoPlatform)
		return "", fmt.Errorf("%w: %w", ErrPlatformFetch, ErrNoPlatform)
	}

	link, err := ParseMessageLink(cdnURL)
	if err != nil {
		gologging.WarnF("Telegram CDN failed: %v", err)
		return "", fmt.Errorf("%w: %w", ErrPlatformFetch, err)
	}

	msg, err := o.platform.GetMessage(ctx, link.Chat, link.MessageID)
	if err != nil {
		gologging.WarnF("Telegram CDN failed for %s/%d: %v", link.Chat, link.MessageID, err)
		return "", fmt.Errorf("%w: %w", ErrPlatformFetch, err)
	}
	if msg == nil {
		return "", fmt.Errorf("%w: %w", ErrPlatformFetch, ErrMessageNotFound)
	}

	filePath, err := msg.Download(ctx, o.transport.DownloadsDir())
	if err != nil {
		gologging.WarnF("Telegram CDN download failed for %s/%d: %v", link.Chat, link.MessageID, err)
		return "", fmt.Errorf("%w: %w", ErrPlatformFetch, err)
	}
	return filePath, nil
}
