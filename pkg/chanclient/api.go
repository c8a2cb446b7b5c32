// Package chanclient is the client side of the channel protocol. Key pairs
// are generated and kept here; the server only ever sees public keys, wrapped
// group keys and ciphertext.
package chanclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"e2ee-channels/internal/dto"
)

// Errors reported by the server, matched with errors.Is against an APIError.
var (
	ErrMembershipChanged = errors.New("eligible members changed")
	ErrNonceReuse        = errors.New("nonce already used in channel")
	ErrSlugTaken         = errors.New("channel slug taken")
	ErrEmailTaken        = errors.New("email already registered")
	ErrNotMember         = errors.New("not a channel member")
	ErrForbidden         = errors.New("forbidden")
	ErrKeyMaterial       = errors.New("user has no key material")
	ErrNoChannelKey      = errors.New("chanclient: no key for channel")
	ErrNotLoggedIn       = errors.New("chanclient: not logged in")
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Is matches the server's sentinel error text.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrMembershipChanged, ErrNonceReuse, ErrSlugTaken, ErrEmailTaken, ErrNotMember, ErrForbidden, ErrKeyMaterial:
		return strings.HasPrefix(e.Message, target.Error())
	}
	return false
}

type Client struct {
	baseURL  string
	http     *http.Client
	token    string
	identity *Identity
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithIdentity(id *Identity) Option {
	return func(c *Client) {
		c.identity = id
		if id != nil && id.Token != "" {
			c.token = id.Token
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: normalizeBaseURL(baseURL),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Identity() *Identity { return c.identity }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var e dto.ErrorResponse
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func (c *Client) Login(ctx context.Context, email, password string) (dto.LoginResponse, error) {
	var res dto.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", dto.LoginRequest{Email: email, Password: password}, &res); err != nil {
		return dto.LoginResponse{}, err
	}
	c.token = res.Token
	if c.identity != nil {
		c.identity.Token = res.Token
	}
	return res, nil
}

func (c *Client) ProvisionKey(ctx context.Context, publicKey string) (dto.PublicKeyResponse, error) {
	var res dto.PublicKeyResponse
	err := c.do(ctx, http.MethodPut, "/v1/users/me/key", dto.ProvisionKeyRequest{PublicKey: publicKey}, &res)
	return res, err
}

func (c *Client) PublicKey(ctx context.Context, userID string) (dto.PublicKeyResponse, error) {
	var res dto.PublicKeyResponse
	err := c.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/public-key", nil, &res)
	return res, err
}

// UserData fetches the caller's profile and wrapped key rows. An empty
// channelID returns rows for every channel.
func (c *Client) UserData(ctx context.Context, channelID string) (dto.UserData, error) {
	path := "/v1/users/me"
	if channelID != "" {
		path += "?channelId=" + url.QueryEscape(channelID)
	}
	var res dto.UserData
	err := c.do(ctx, http.MethodGet, path, nil, &res)
	return res, err
}

func (c *Client) EligibleMembers(ctx context.Context) (dto.MembersResponse, error) {
	var res dto.MembersResponse
	err := c.do(ctx, http.MethodGet, "/v1/channels/eligible-members", nil, &res)
	return res, err
}

func (c *Client) ListChannels(ctx context.Context) (dto.ChannelsResponse, error) {
	var res dto.ChannelsResponse
	err := c.do(ctx, http.MethodGet, "/v1/channels", nil, &res)
	return res, err
}

func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/channels/"+url.PathEscape(channelID), nil, nil)
}

func (c *Client) JoinChannel(ctx context.Context, channelID string) (dto.JoinResponse, error) {
	var res dto.JoinResponse
	err := c.do(ctx, http.MethodPost, "/v1/channels/"+url.PathEscape(channelID)+"/join", nil, &res)
	return res, err
}

func (c *Client) PendingJoins(ctx context.Context, channelID string) (dto.PendingJoinsResponse, error) {
	var res dto.PendingJoinsResponse
	err := c.do(ctx, http.MethodGet, "/v1/channels/"+url.PathEscape(channelID)+"/join-requests", nil, &res)
	return res, err
}

func (c *Client) AddChannelKey(ctx context.Context, channelID string, row dto.WrappedKeyInput) (dto.WrappedKey, error) {
	var res dto.WrappedKey
	err := c.do(ctx, http.MethodPost, "/v1/channels/"+url.PathEscape(channelID)+"/keys", row, &res)
	return res, err
}

func (c *Client) AddMessage(ctx context.Context, channelID string, req dto.AddMessageRequest) (dto.Message, error) {
	var res dto.Message
	err := c.do(ctx, http.MethodPost, "/v1/channels/"+url.PathEscape(channelID)+"/messages", req, &res)
	return res, err
}

func (c *Client) ListMessages(ctx context.Context, channelID string) (dto.MessagesResponse, error) {
	var res dto.MessagesResponse
	err := c.do(ctx, http.MethodGet, "/v1/channels/"+url.PathEscape(channelID)+"/messages", nil, &res)
	return res, err
}

func (c *Client) ClearMessages(ctx context.Context, channelID string) (dto.ClearMessagesResponse, error) {
	var res dto.ClearMessagesResponse
	err := c.do(ctx, http.MethodDelete, "/v1/channels/"+url.PathEscape(channelID)+"/messages", nil, &res)
	return res, err
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/messages/"+url.PathEscape(messageID), nil, nil)
}

func normalizeBaseURL(in string) string {
	return strings.TrimRight(strings.TrimSpace(in), "/")
}
