// SPDX-License-Identifier: MPL-2.0

package inputfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"codebroker/internal/config"
	"codebroker/internal/issue"
	"codebroker/pkg/contracts"
	"codebroker/pkg/fspath"
	"codebroker/pkg/types"
)

// fetchTimeout bounds a single HTTP GET, connection through body close.
const fetchTimeout = 30 * time.Second

// maxConcurrentFetches caps how many downloads run at once per request,
// independent of the broker-wide admission semaphore.
const maxConcurrentFetches = 4

// Fetcher downloads a request's input URLs into its workspace input directory.
type Fetcher struct {
	client   *http.Client
	settings *config.Settings
	logger   *slog.Logger
}

// NewFetcher returns a Fetcher bound to settings' input size/count budgets.
func NewFetcher(settings *config.Settings, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:   &http.Client{Timeout: fetchTimeout},
		settings: settings,
		logger:   logger,
	}
}

// Result is the outcome of fetching a request's input URLs.
type Result struct {
	// ContainerPaths maps each requested URL to its in-container path.
	ContainerPaths map[string]string
	// Files describes each downloaded file for the response's "inputs" field.
	Files []contracts.InputFile
}

// FetchAll downloads every url into dir, enforcing InputMaxFiles,
// InputFileMaxBytes and InputTotalMaxBytes. It fails the whole request on
// the first violation, matching the original broker's all-or-nothing intake.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, dir types.FilesystemPath) (*Result, error) {
	if len(urls) > f.settings.InputMaxFiles {
		return nil, issue.ClassifyResource(issue.CategoryValidation, "fetch input files", "",
			fmt.Errorf("%d input files exceeds limit of %d", len(urls), f.settings.InputMaxFiles))
	}

	if err := os.MkdirAll(string(dir), 0o777); err != nil {
		return nil, issue.Classify(issue.CategoryFetch, "create input directory", err)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentFetches)

	files := make([]contracts.InputFile, len(urls))
	var totalBytes atomic.Int64
	var mu sync.Mutex
	used := make(map[string]struct{})

	for i, rawURL := range urls {
		i, rawURL := i, rawURL
		group.Go(func() error {
			name, size, err := f.fetchOne(gctx, rawURL, dir, &mu, used, &totalBytes)
			if err != nil {
				return err
			}
			files[i] = contracts.InputFile{
				URL:          rawURL,
				OriginalName: name,
				LocalName:    name,
				SizeBytes:    size,
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	containerPaths := make(map[string]string, len(urls))
	for _, file := range files {
		containerPaths[file.URL] = file.LocalPath()
	}
	return &Result{ContainerPaths: containerPaths, Files: files}, nil
}

// queryFilename returns the "filename" query parameter of rawURL, if any,
// already URL-decoded by net/url.
func queryFilename(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("filename")
}

// lastPathSegment returns the final path segment of rawURL, the fallback
// filename source when no other precedence level yields a name.
func lastPathSegment(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Base(parsed.Path)
}

// fetchOne downloads rawURL into dir, resolving its local filename by the
// documented precedence (query parameter, then Content-Disposition, then
// the URL's last path segment) once response headers are available, then
// streams the body under the per-file and running-total byte budgets.
func (f *Fetcher) fetchOne(ctx context.Context, rawURL string, dir types.FilesystemPath, mu *sync.Mutex, used map[string]struct{}, totalBytes *atomic.Int64) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, issue.ClassifyResource(issue.CategoryValidation, "build request", rawURL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, issue.ClassifyResource(issue.CategoryFetch, "download", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, issue.ClassifyResource(issue.CategoryFetch, "download", rawURL,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	candidate := queryFilename(rawURL)
	if candidate == "" {
		candidate = contentDispositionFilename(resp.Header.Get("Content-Disposition"))
	}
	if candidate == "" {
		candidate = lastPathSegment(rawURL)
	}
	name, err := sanitizeFilename(candidate)
	if err != nil {
		return "", 0, issue.ClassifyResource(issue.CategoryValidation, "resolve input filename", rawURL, err)
	}

	mu.Lock()
	name = deduplicate(used, name)
	used[name] = struct{}{}
	mu.Unlock()

	localPath := fspath.JoinStr(dir, name)
	out, err := os.OpenFile(string(localPath), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o666)
	if err != nil {
		return "", 0, issue.ClassifyResource(issue.CategoryFetch, "create local file", string(localPath), err)
	}
	defer out.Close()

	limited := io.LimitReader(resp.Body, f.settings.InputFileMaxBytes+1)
	written, err := io.Copy(out, limited)
	if err != nil {
		return "", 0, issue.ClassifyResource(issue.CategoryFetch, "download", rawURL, err)
	}
	if written > f.settings.InputFileMaxBytes {
		return "", 0, issue.ClassifyResource(issue.CategoryFetch, "download", rawURL,
			fmt.Errorf("file exceeds %d byte limit", f.settings.InputFileMaxBytes))
	}

	if totalBytes.Add(written) > f.settings.InputTotalMaxBytes {
		return "", 0, issue.Classify(issue.CategoryFetch, "download",
			fmt.Errorf("total input size exceeds %d byte limit", f.settings.InputTotalMaxBytes))
	}

	return name, written, nil
}

// sanitizeFilename reduces name to a basename and rejects anything empty or
// that resolves to "." or "..".
func sanitizeFilename(name string) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid filename %q", name)
	}
	return name, nil
}

// deduplicate returns a name not already present in used, appending "_n"
// before the extension as needed.
func deduplicate(used map[string]struct{}, name string) string {
	if _, taken := used[name]; !taken {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := base + "_" + strconv.Itoa(n) + ext
		if _, taken := used[candidate]; !taken {
			return candidate
		}
	}
}

// contentDispositionFilename extracts a filename from a Content-Disposition
// header value, preferring the RFC-5987 filename* parameter over filename.
func contentDispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	if encoded, ok := params["filename*"]; ok {
		if decoded, ok := decodeRFC5987(encoded); ok {
			return decoded
		}
	}
	return params["filename"]
}

// decodeRFC5987 decodes a charset''percent-encoded value per RFC 5987,
// e.g. "UTF-8''result%20chart.png" -> "result chart.png".
func decodeRFC5987(value string) (string, bool) {
	parts := strings.SplitN(value, "''", 2)
	if len(parts) != 2 {
		return "", false
	}
	decoded, err := url.QueryUnescape(parts[1])
	if err != nil {
		return "", false
	}
	return decoded, true
}
