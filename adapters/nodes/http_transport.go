package nodes

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/litkit/adapters/tokenizer"
	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/ports"
)

const (
	HandshakePath   = "/web/handshake"
	SessionSignPath = "/web/session/sign"

	// RequestIDHeader carries the session round id to every node
	RequestIDHeader = "X-Request-Id"

	maxResponseBytes = 1 << 20
)

// HandshakeRequest is the body of a handshake call
type HandshakeRequest struct {
	Challenge string `json:"challenge"`
}

// HandshakeResponse is a node's answer to a handshake
type HandshakeResponse struct {
	NodeVersion     string `json:"nodeVersion"`
	NodeIdentityKey string `json:"nodeIdentityKey"`
	Challenge       string `json:"challenge"`
}

// SessionSignRequest is the body of a session signature call
type SessionSignRequest struct {
	RequestID     string                        `json:"requestId"`
	WalletAddress string                        `json:"walletAddress"`
	AuthSig       core.AuthorizationSignature   `json:"authSig"`
	Requests      []core.ResourceAbilityRequest `json:"resourceAbilityRequests"`
	Expiration    time.Time                     `json:"expiration"`
}

// SessionSignResponse is a node's answer to a session signature call.
// A node that wants its own nonce signed answers 409 with Error "challenge".
type SessionSignResponse struct {
	SessionToken string `json:"sessionToken,omitempty"`
	Error        string `json:"error,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
}

// HTTPTransport talks to nodes over JSON/HTTP and verifies the session
// tokens they return against the identity keys learned in the handshake
type HTTPTransport struct {
	client    *http.Client
	tokenizer ports.SessionTokenizer

	mu   sync.RWMutex
	keys map[string]*ecdsa.PublicKey
}

// NewHTTPTransport creates a transport. A nil client uses http.DefaultClient.
func NewHTTPTransport(client *http.Client, tok ports.SessionTokenizer) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if tok == nil {
		tok = tokenizer.NewJWTTokenizer()
	}
	return &HTTPTransport{
		client:    client,
		tokenizer: tok,
		keys:      make(map[string]*ecdsa.PublicKey),
	}
}

var _ ports.NodeTransport = (*HTTPTransport)(nil)

// Handshake checks the node is reachable and records its identity key
func (t *HTTPTransport) Handshake(ctx context.Context, nodeURL string) (*core.NodeInfo, error) {
	challenge := uuid.New().String()
	var resp HandshakeResponse
	status, err := t.post(ctx, nodeURL+HandshakePath, "", HandshakeRequest{Challenge: challenge}, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("handshake with %s returned status %d", nodeURL, status)
	}
	if resp.Challenge != "" && resp.Challenge != challenge {
		return nil, fmt.Errorf("handshake with %s echoed the wrong challenge", nodeURL)
	}
	key, err := tokenizer.DecodePublicKey(resp.NodeIdentityKey)
	if err != nil {
		return nil, fmt.Errorf("handshake with %s: %w", nodeURL, err)
	}

	t.mu.Lock()
	t.keys[nodeURL] = key
	t.mu.Unlock()

	return &core.NodeInfo{
		URL:         nodeURL,
		Version:     resp.NodeVersion,
		IdentityKey: resp.NodeIdentityKey,
	}, nil
}

// SignSession submits the authorization and returns the node's verified credential
func (t *HTTPTransport) SignSession(ctx context.Context, nodeURL string, req *core.SessionRequest) (*core.NodeCredential, error) {
	t.mu.RLock()
	key := t.keys[nodeURL]
	t.mu.RUnlock()
	if key == nil {
		return nil, fmt.Errorf("no handshake with %s", nodeURL)
	}

	body := SessionSignRequest{
		RequestID:     req.RequestID,
		WalletAddress: req.WalletAddress,
		AuthSig:       req.AuthSig,
		Requests:      req.Requests,
		Expiration:    req.Expiration.UTC(),
	}
	var resp SessionSignResponse
	status, err := t.post(ctx, nodeURL+SessionSignPath, req.RequestID, body, &resp)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusConflict && resp.Error == "challenge":
		return nil, &core.ChallengeError{Node: nodeURL, Nonce: core.FreshnessToken(resp.Nonce)}
	case status != http.StatusOK:
		msg := resp.Error
		if msg == "" {
			msg = http.StatusText(status)
		}
		return nil, fmt.Errorf("node %s refused session: %d %s", nodeURL, status, msg)
	}
	return t.tokenizer.TokenToCredential(resp.SessionToken, nodeURL, key, req)
}

func (t *HTTPTransport) post(ctx context.Context, url, requestID string, in, out interface{}) (int, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("malformed response from %s: %s", url, strings.TrimSpace(string(data)))
	}
	return resp.StatusCode, nil
}
