package domain

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var ErrNotPostURL = errors.New("not a recognised post url")

var (
	tweetPath    = regexp.MustCompile(`^/([A-Za-z0-9_]{1,15})/status(?:es)?/([0-9]{1,25})(?:/.*)?$`)
	tweetIDPath  = regexp.MustCompile(`^/i/(?:web/)?status/([0-9]{1,25})(?:/.*)?$`)
	warpcastPath = regexp.MustCompile(`^/([a-z0-9][a-z0-9.-]{0,30})/(0x[0-9a-fA-F]{6,64})$`)
)

// PostRef identifies one public post. Canonical is the evidence identity:
// every URL spelling of the same post maps to the same value.
type PostRef struct {
	Platform  Platform
	Author    string
	PostID    string
	Canonical string
}

func ParsePostURL(raw string) (PostRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PostRef{}, ErrNotPostURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return PostRef{}, ErrNotPostURL
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "mobile.")
	path := strings.TrimSuffix(u.Path, "/")

	switch host {
	case "x.com", "twitter.com":
		if m := tweetPath.FindStringSubmatch(path); m != nil {
			if strings.EqualFold(m[1], "i") {
				return PostRef{Platform: PlatformTwitter, PostID: m[2], Canonical: canonicalTweet(m[2])}, nil
			}
			return PostRef{
				Platform:  PlatformTwitter,
				Author:    NormalizeHandle(m[1]),
				PostID:    m[2],
				Canonical: canonicalTweet(m[2]),
			}, nil
		}
		if m := tweetIDPath.FindStringSubmatch(path); m != nil {
			return PostRef{Platform: PlatformTwitter, PostID: m[1], Canonical: canonicalTweet(m[1])}, nil
		}
	case "warpcast.com":
		if m := warpcastPath.FindStringSubmatch(strings.ToLower(path)); m != nil {
			return PostRef{
				Platform:  PlatformFarcaster,
				Author:    m[1],
				PostID:    m[2],
				Canonical: "https://warpcast.com/" + m[1] + "/" + m[2],
			}, nil
		}
	}
	return PostRef{}, ErrNotPostURL
}

func canonicalTweet(id string) string {
	return "https://x.com/i/status/" + id
}

// NormalizeEvidenceURL returns the evidence identity of a URL. URLs that are
// not recognised posts are lowercased and stripped of query and fragment.
func NormalizeEvidenceURL(raw string) string {
	if ref, err := ParsePostURL(raw); err == nil {
		return ref.Canonical
	}
	raw = strings.TrimSpace(raw)
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		u.RawQuery = ""
		u.Fragment = ""
		u.Host = strings.ToLower(u.Host)
		return strings.TrimSuffix(u.String(), "/")
	}
	return strings.ToLower(raw)
}
