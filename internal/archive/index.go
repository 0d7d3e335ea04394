package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// Directory indexes on both mirrors are plain HTML listings; only the href
// targets are needed.
var hrefRe = regexp.MustCompile(`href="([^"?#]+)"`)

// ListIndex fetches an HTTP directory index and returns the listed entry
// names. Parent links and absolute URLs are dropped.
func ListIndex(ctx context.Context, client *http.Client, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing %s: status %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("reading index %s: %w", url, err)
	}

	var names []string
	for _, m := range hrefRe.FindAllStringSubmatch(string(body), -1) {
		name := m[1]
		if strings.HasPrefix(name, "/") || strings.Contains(name, "://") || strings.HasPrefix(name, "..") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
