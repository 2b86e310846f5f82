package imagepkg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNotAnImage is returned when a remote response is HTML or otherwise not image content.
var ErrNotAnImage = errors.New("response is not an image")

// Download fetches url with client and returns the body when the declared or
// sniffed content type is an image and neither is HTML. At most maxBytes are read.
func Download(ctx context.Context, client *http.Client, url string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("non-200 response: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, err
	}
	if !IsImageContent(resp.Header.Get("Content-Type"), body) {
		return nil, ErrNotAnImage
	}
	return body, nil
}

// IsImageContent applies the declared-or-sniffed rule used for remote photos.
func IsImageContent(declared string, body []byte) bool {
	declared = strings.ToLower(declared)
	sniffed := http.DetectContentType(body)
	if strings.Contains(declared, "text/html") || strings.HasPrefix(sniffed, "text/html") {
		return false
	}
	return strings.HasPrefix(declared, "image/") || strings.HasPrefix(sniffed, "image/")
}
