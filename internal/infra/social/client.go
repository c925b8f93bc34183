package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rewardguard/internal/config"
	"rewardguard/internal/domain"
)

const maxResponseBytes = 1 << 20

// Client reads public state from the social read API. It never retries;
// every failure to get a well-formed answer is reported as
// domain.ErrExternalUnavailable.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func NewFromConfig(cfg config.Config) (*Client, error) {
	if cfg.SocialAPIBaseURL == "" {
		return nil, errors.New("SOCIAL_API_BASE_URL is required")
	}
	return New(cfg.SocialAPIBaseURL, cfg.SocialAPIToken, cfg.SocialAPITimeout()), nil
}

type postResponse struct {
	ID           string `json:"id"`
	AuthorHandle string `json:"author_handle"`
	InReplyToID  string `json:"in_reply_to_id"`
}

func (c *Client) CheckPublicPost(ctx context.Context, postID string) (domain.PostCheck, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return domain.PostCheck{}, errors.New("post id is required")
	}
	var resp postResponse
	found, err := c.get(ctx, "/v1/posts/"+url.PathEscape(postID), &resp)
	if err != nil || !found {
		return domain.PostCheck{PostID: postID}, err
	}
	if resp.ID != "" && resp.ID != postID {
		return domain.PostCheck{}, fmt.Errorf("%w: post id mismatch in response", domain.ErrExternalUnavailable)
	}
	return domain.PostCheck{
		Exists:       true,
		PostID:       postID,
		AuthorHandle: domain.NormalizeHandle(resp.AuthorHandle),
		InReplyToID:  resp.InReplyToID,
	}, nil
}

func (c *Client) CheckFollow(ctx context.Context, platform domain.Platform, handle, target string) (bool, error) {
	handle, target = domain.NormalizeHandle(handle), domain.NormalizeHandle(target)
	if handle == "" || target == "" {
		return false, errors.New("handle and target are required")
	}
	var resp struct {
		Following *bool `json:"following"`
	}
	path := fmt.Sprintf("/v1/%s/users/%s/following/%s", url.PathEscape(string(platform)), url.PathEscape(handle), url.PathEscape(target))
	found, err := c.get(ctx, path, &resp)
	if err != nil || !found {
		return false, err
	}
	if resp.Following == nil {
		return false, fmt.Errorf("%w: follow response missing field", domain.ErrExternalUnavailable)
	}
	return *resp.Following, nil
}

func (c *Client) CheckMembership(ctx context.Context, platform domain.Platform, handle, channelID string) (bool, error) {
	handle = domain.NormalizeHandle(handle)
	channelID = strings.TrimSpace(channelID)
	if handle == "" || channelID == "" {
		return false, errors.New("handle and channel are required")
	}
	var resp struct {
		Member *bool `json:"member"`
	}
	path := fmt.Sprintf("/v1/%s/channels/%s/members/%s", url.PathEscape(string(platform)), url.PathEscape(channelID), url.PathEscape(handle))
	found, err := c.get(ctx, path, &resp)
	if err != nil || !found {
		return false, err
	}
	if resp.Member == nil {
		return false, fmt.Errorf("%w: membership response missing field", domain.ErrExternalUnavailable)
	}
	return *resp.Member, nil
}

// get decodes a 200 response into out. A 404 is a definite negative answer
// and returns found=false without error.
func (c *Client) get(ctx context.Context, path string, out any) (bool, error) {
	if c == nil || c.baseURL == "" {
		return false, fmt.Errorf("%w: social client not configured", domain.ErrExternalUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, fmt.Errorf("%w: read body: %v", domain.ErrExternalUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("%w: status %d", domain.ErrExternalUnavailable, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("%w: malformed response: %v", domain.ErrExternalUnavailable, err)
	}
	return true, nil
}
