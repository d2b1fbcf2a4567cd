package signalr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"PPHub/tools/errs"
)

const (
	TransportWebSockets = "WebSockets"
	NegotiateVersion    = 1

	maxRedirects = 100
)

type AvailableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

// NegotiateResponse is either a connection description or a redirect
// (URL and AccessToken set).
type NegotiateResponse struct {
	ConnectionID        string               `json:"connectionId,omitempty"`
	ConnectionToken     string               `json:"connectionToken,omitempty"`
	NegotiateVersion    int                  `json:"negotiateVersion"`
	AvailableTransports []AvailableTransport `json:"availableTransports"`
	URL                 string               `json:"url,omitempty"`
	AccessToken         string               `json:"accessToken,omitempty"`
	Error               string               `json:"error,omitempty"`
}

func (r *NegotiateResponse) supportsWebSockets() bool {
	if len(r.AvailableTransports) == 0 {
		return true
	}
	for _, t := range r.AvailableTransports {
		if t.Transport == TransportWebSockets {
			return true
		}
	}
	return false
}

// token is what goes in the id query parameter: the connection token for
// version 1, the connection id for version 0.
func (r *NegotiateResponse) token() string {
	if r.NegotiateVersion >= 1 && r.ConnectionToken != "" {
		return r.ConnectionToken
	}
	return r.ConnectionID
}

// Negotiated is the outcome of a negotiate exchange: where to open the WebSocket.
type Negotiated struct {
	HubURL       string
	ConnectionID string
	SocketURL    string
	AccessToken  string
}

// Negotiate runs the negotiate exchange for hubURL, following redirects.
func Negotiate(ctx context.Context, client *http.Client, hubURL string) (*Negotiated, error) {
	if client == nil {
		client = http.DefaultClient
	}
	accessToken := ""
	for i := 0; i < maxRedirects; i++ {
		resp, err := negotiateOnce(ctx, client, hubURL, accessToken)
		if err != nil {
			return nil, err
		}
		if resp.Error != "" {
			return nil, errs.ErrHandshake.WrapMsg(resp.Error)
		}
		if resp.URL != "" {
			hubURL = resp.URL
			accessToken = resp.AccessToken
			continue
		}
		if !resp.supportsWebSockets() {
			return nil, errs.ErrHandshake.WrapMsg("hub does not offer WebSockets")
		}
		socketURL, err := WebSocketURL(hubURL, resp.token(), accessToken)
		if err != nil {
			return nil, err
		}
		return &Negotiated{
			HubURL:       hubURL,
			ConnectionID: resp.ConnectionID,
			SocketURL:    socketURL,
			AccessToken:  accessToken,
		}, nil
	}
	return nil, errs.ErrHandshake.WrapMsg("too many negotiate redirects")
}

func negotiateOnce(ctx context.Context, client *http.Client, hubURL, accessToken string) (*NegotiateResponse, error) {
	u, err := NegotiateURL(hubURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, errs.ErrHandshake.WrapErr(err)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, errs.ErrHandshake.WrapErr(err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, errs.ErrHandshake.WrapErr(err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, errs.ErrHandshake.WrapMsg("negotiate rejected", "status", res.StatusCode)
	}
	var out NegotiateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.ErrHandshake.WrapErr(err)
	}
	return &out, nil
}

// NegotiateURL appends /negotiate to the hub path, keeping its query.
func NegotiateURL(hubURL string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", errs.ErrHandshake.WrapErr(err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/negotiate"
	q := u.Query()
	q.Set("negotiateVersion", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// WebSocketURL turns a hub URL into the WebSocket endpoint: http becomes ws,
// https becomes wss, and the connection token goes in the id parameter.
func WebSocketURL(hubURL, connectionToken, accessToken string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", errs.ErrHandshake.WrapErr(err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errs.ErrHandshake.WrapMsg("unsupported hub url scheme", "url", hubURL)
	}
	if u.Host == "" {
		return "", errs.ErrHandshake.WrapMsg("hub url without host", "url", hubURL)
	}
	q := u.Query()
	if connectionToken != "" {
		q.Set("id", connectionToken)
	}
	if accessToken != "" {
		q.Set("access_token", accessToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
