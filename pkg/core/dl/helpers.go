package dl

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	defaultDownloadDirPerm = 0755
	maxExtensionLen        = 6
)

// mediaExtensions maps the content types a CDN usually serves to their extension.
// Anything else falls back to the system MIME table.
var mediaExtensions = map[string]string{
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/mpeg":  ".mp3",
	"audio/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/opus":  ".opus",
	"audio/aac":   ".aac",
	"audio/flac":  ".flac",
	"video/mp4":   ".mp4",
	"video/webm":  ".webm",
}

var (
	sanitizeRegex = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	filenameRegex = regexp.MustCompile(`(?i)filename\*?=(?:UTF-8'')?"?([^";]+)"?`)
)

// sanitizeFilename removes characters that are unsafe in a file name.
func sanitizeFilename(fileName string) string {
	fileName = sanitizeRegex.ReplaceAllString(fileName, "")
	fileName = strings.TrimSpace(fileName)
	if fileName == "." || fileName == ".." {
		return ""
	}
	return fileName
}

// extractFilename returns the percent-decoded file name from a Content-Disposition header.
// Both "filename=" and "filename*=" are supported.
func extractFilename(contentDisp string) string {
	if contentDisp == "" {
		return ""
	}

	if _, params, err := mime.ParseMediaType(contentDisp); err == nil {
		if name := params["filename"]; name != "" {
			if decoded, err := url.PathUnescape(name); err == nil {
				return decoded
			}
			return name
		}
	}

	matches := filenameRegex.FindStringSubmatch(contentDisp)
	if len(matches) > 1 {
		if decoded, err := url.PathUnescape(strings.TrimSpace(matches[1])); err == nil {
			return decoded
		}
		return strings.TrimSpace(matches[1])
	}
	return ""
}

// determineFilename picks the destination for a download under dir: Content-Disposition
// first, then the URL's last path segment, then a unique generated name.
func determineFilename(dir, rawURL, contentDisp string) string {
	if filename := sanitizeFilename(extractFilename(contentDisp)); filename != "" {
		return filepath.Join(dir, filename)
	}

	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		if filename := sanitizeFilename(path.Base(parsed.Path)); filename != "" {
			return filepath.Join(dir, filename)
		}
	}

	return filepath.Join(dir, generateUniqueName())
}

// generateUniqueName returns a random hex name without extension.
func generateUniqueName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// decodeJSON decodes body into out and rejects trailing data.
func decodeJSON(body []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after the JSON value")
	}
	return nil
}

// mediaExtension returns ext when it is a plausible file extension and "" otherwise.
func mediaExtension(ext string) string {
	if len(ext) < 2 || len(ext) > maxExtensionLen || strings.ContainsAny(ext, " /\\") {
		return ""
	}
	return ext
}

// responseExtension picks the extension of a download from the response headers:
// the Content-Disposition file name first, then the Content-Type. It returns ""
// when neither names one.
func responseExtension(h http.Header) string {
	if name := sanitizeFilename(extractFilename(h.Get("Content-Disposition"))); name != "" {
		if ext := mediaExtension(filepath.Ext(name)); ext != "" {
			return ext
		}
	}

	mediaType, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return ""
	}
	if ext, ok := mediaExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return mediaExtension(exts[0])
	}
	return ""
}

// findByStem returns the first regular file in stem's directory named
// <stem> or <stem>.<ext>, ignoring temp files. It returns "" when there is none.
func findByStem(stem string) string {
	if fileExists(stem) {
		return stem
	}
	entries, err := os.ReadDir(filepath.Dir(stem))
	if err != nil {
		return ""
	}
	prefix := filepath.Base(stem) + "."
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if rest := strings.TrimPrefix(name, prefix); rest != "" && !strings.Contains(rest, ".") {
			return filepath.Join(filepath.Dir(stem), name)
		}
	}
	return ""
}
