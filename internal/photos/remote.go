package photos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"

	imagepkg "github.com/youruser/certbatch/internal/image"
	"github.com/youruser/certbatch/internal/util"
)

// ErrNoFileID is returned when a link carries no recognizable file identifier.
var ErrNoFileID = errors.New("no file identifier in link")

var (
	accountSegment = regexp.MustCompile(`/u/\d+/`)
	idParam        = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
	idPath         = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`)
)

// IsURL reports whether s looks like an http(s) link.
func IsURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// ExtractFileID pulls a file identifier out of a sharing link: an id= query
// parameter (including /open?id=) or a /d/<id>/ path segment. Account
// segments such as /u/1/ are ignored.
func ExtractFileID(link string) (string, error) {
	link = accountSegment.ReplaceAllString(strings.TrimSpace(link), "/")
	if m := idParam.FindStringSubmatch(link); m != nil {
		return m[1], nil
	}
	if m := idPath.FindStringSubmatch(link); m != nil {
		return m[1], nil
	}
	return "", ErrNoFileID
}

// DriveFetcher downloads files by id from a Drive-style download endpoint,
// following the large-file confirmation cookie once.
type DriveFetcher struct {
	Client   *http.Client
	BaseURL  string
	MaxBytes int64
}

func (f *DriveFetcher) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	if fileID == "" {
		return nil, ErrNoFileID
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client := util.NewHTTPClient(0)
	if f.Client != nil {
		c := *f.Client
		client = &c
	}
	client.Jar = jar

	maxBytes := f.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}

	u := f.downloadURL(fileID, "")
	body, err := imagepkg.Download(ctx, client, u.String(), maxBytes)
	if !errors.Is(err, imagepkg.ErrNotAnImage) {
		return body, err
	}
	token := confirmToken(jar, u)
	if token == "" {
		return nil, fmt.Errorf("file %s: %w (check sharing permissions)", fileID, err)
	}
	return imagepkg.Download(ctx, client, f.downloadURL(fileID, token).String(), maxBytes)
}

func (f *DriveFetcher) downloadURL(fileID, confirm string) *url.URL {
	base := strings.TrimRight(f.BaseURL, "/")
	if base == "" {
		base = "https://drive.google.com"
	}
	u, err := url.Parse(base + "/uc")
	if err != nil {
		u = &url.URL{Scheme: "https", Host: "drive.google.com", Path: "/uc"}
	}
	q := url.Values{"export": {"download"}, "id": {fileID}}
	if confirm != "" {
		q.Set("confirm", confirm)
	}
	u.RawQuery = q.Encode()
	return u
}

func confirmToken(jar http.CookieJar, u *url.URL) string {
	for _, c := range jar.Cookies(u) {
		if strings.HasPrefix(c.Name, "download_warning") {
			return c.Value
		}
	}
	return ""
}
