package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/patchkit/contentpatch/internal/manifest"
)

// HTTPSource fetches bundles and blocks from an HTTP(S) manifest
// root using multi-range requests (spec.md §4.5 "Remote mode").
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSource returns a Source backed by an HTTP(S) base URL. A nil
// client falls back to http.DefaultClient.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

// FetchBundle issues a single GET with a comma-joined Range header
// covering every requested member, sorted by start offset, and
// handles the three documented response shapes: 206 multipart,
// 206 single-range, or fallback to downloading the whole bundle.
func (s *HTTPSource) FetchBundle(ctx context.Context, bundleID string, members []manifest.BundleMember) (map[string][]byte, error) {
	url := s.BaseURL + "/bundles/" + bundleID

	sorted := append([]manifest.BundleMember(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BlockOffset < sorted[j].BlockOffset })

	rangeHeader := buildRangeHeader(sorted)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build bundle request %s: %w", url, err)
	}
	req.Header.Set("Range", rangeHeader)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: bundle request %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		contentType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if err == nil && strings.HasPrefix(contentType, "multipart/") {
			return parseMultipartByteranges(resp.Body, params["boundary"], sorted)
		}
		return parseSingleRange(resp, sorted)
	default:
		return fallbackFullBundle(resp.Body, sorted)
	}
}

func buildRangeHeader(members []manifest.BundleMember) string {
	parts := make([]string, 0, len(members))
	for _, m := range members {
		end := m.BlockOffset + m.Length - 1
		parts = append(parts, fmt.Sprintf("%d-%d", m.BlockOffset, end))
	}
	return "bytes=" + strings.Join(parts, ",")
}

// parseMultipartByteranges handles the 206 multipart/byteranges case:
// each part carries a Content-Range header identifying its offsets,
// matched back to the requested members by start offset.
func parseMultipartByteranges(body io.Reader, boundary string, members []manifest.BundleMember) (map[string][]byte, error) {
	if boundary == "" {
		return nil, fmt.Errorf("fetch: multipart response missing boundary")
	}
	byStart := make(map[int]manifest.BundleMember, len(members))
	for _, m := range members {
		byStart[m.BlockOffset] = m
	}

	out := make(map[string][]byte, len(members))
	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("fetch: read multipart part: %w", err)
		}
		start, _, _, err := parseContentRange(part.Header.Get("Content-Range"))
		if err != nil {
			return nil, fmt.Errorf("fetch: parse Content-Range: %w", err)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("fetch: read part body: %w", err)
		}
		if m, ok := byStart[start]; ok {
			out[m.Hash] = data
		}
	}
	return out, nil
}

// parseSingleRange handles the 206 single-range case: the whole body
// is the one requested range.
func parseSingleRange(resp *http.Response, members []manifest.BundleMember) (map[string][]byte, error) {
	if len(members) != 1 {
		return nil, fmt.Errorf("fetch: server returned a single range for %d requested members", len(members))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: read single-range body: %w", err)
	}
	return map[string][]byte{members[0].Hash: data}, nil
}

// fallbackFullBundle handles any non-206 status (including 200) by
// downloading the entire bundle and slicing locally.
func fallbackFullBundle(body io.Reader, members []manifest.BundleMember) (map[string][]byte, error) {
	full, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("fetch: read full bundle fallback body: %w", err)
	}
	out := make(map[string][]byte, len(members))
	for _, m := range members {
		end := m.BlockOffset + m.Length
		if m.BlockOffset < 0 || end > len(full) {
			return nil, fmt.Errorf("fetch: member %s range [%d:%d] out of bounds (len %d)", m.Hash, m.BlockOffset, end, len(full))
		}
		out[m.Hash] = full[m.BlockOffset:end]
	}
	return out, nil
}

// parseContentRange parses "bytes start-end/total".
func parseContentRange(header string) (start, end, total int, err error) {
	header = strings.TrimSpace(strings.TrimPrefix(header, "bytes"))
	header = strings.TrimSpace(header)
	slashParts := strings.SplitN(header, "/", 2)
	if len(slashParts) != 2 {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", header)
	}
	rangeParts := strings.SplitN(slashParts[0], "-", 2)
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", header)
	}
	start, err = strconv.Atoi(rangeParts[0])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range start %q: %w", rangeParts[0], err)
	}
	end, err = strconv.Atoi(rangeParts[1])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range end %q: %w", rangeParts[1], err)
	}
	if slashParts[1] != "*" {
		total, err = strconv.Atoi(slashParts[1])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("malformed Content-Range total %q: %w", slashParts[1], err)
		}
	}
	return start, end, total, nil
}

// FetchBlock issues a plain GET for one standalone block.
func (s *HTTPSource) FetchBlock(ctx context.Context, hash string) ([]byte, error) {
	url := s.BaseURL + "/blocks/" + hash
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build block request %s: %w", url, err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: block request %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: block %s: unexpected status %d", hash, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: read block body %s: %w", hash, err)
	}
	return data, nil
}
