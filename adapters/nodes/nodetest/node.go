// Package nodetest runs in-process signing nodes that speak the HTTP node protocol.
package nodetest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/layer-3/litkit/adapters/nodes"
	"github.com/layer-3/litkit/adapters/tokenizer"
)

// Options controls how a node behaves
type Options struct {
	// Challenge makes the node demand a signature over its own nonce
	Challenge bool
	// Refuse makes every session request fail with 503
	Refuse bool
	// Delay is added before answering session requests
	Delay time.Duration
	// MaxTTL caps the expiration the node grants
	MaxTTL time.Duration
}

// Node is a fake signing node backed by httptest.Server
type Node struct {
	Server *httptest.Server
	Key    *ecdsa.PrivateKey

	opts      Options
	tokenizer *tokenizer.JWTTokenizer
	sessions  atomic.Int64

	mu     sync.Mutex
	nonces map[string]string
}

// NewNode starts a node. Close it with Close.
func NewNode(opts Options) *Node {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	n := &Node{
		Key:       key,
		opts:      opts,
		tokenizer: tokenizer.NewJWTTokenizer(),
		nonces:    make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(nodes.HandshakePath, n.handshake)
	mux.HandleFunc(nodes.SessionSignPath, n.sessionSign)
	n.Server = httptest.NewServer(mux)
	return n
}

func (n *Node) URL() string { return n.Server.URL }

// SessionRequests counts session sign calls received
func (n *Node) SessionRequests() int64 { return n.sessions.Load() }

func (n *Node) Close() { n.Server.Close() }

func (n *Node) handshake(w http.ResponseWriter, r *http.Request) {
	var req nodes.HandshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, nodes.SessionSignResponse{Error: err.Error()})
		return
	}
	identity, err := tokenizer.EncodePublicKey(&n.Key.PublicKey)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, nodes.SessionSignResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, nodes.HandshakeResponse{
		NodeVersion:     "test",
		NodeIdentityKey: identity,
		Challenge:       req.Challenge,
	})
}

func (n *Node) sessionSign(w http.ResponseWriter, r *http.Request) {
	n.sessions.Add(1)
	if n.opts.Delay > 0 {
		select {
		case <-time.After(n.opts.Delay):
		case <-r.Context().Done():
			return
		}
	}
	if n.opts.Refuse {
		writeJSON(w, http.StatusServiceUnavailable, nodes.SessionSignResponse{Error: "node unavailable"})
		return
	}

	var req nodes.SessionSignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, nodes.SessionSignResponse{Error: err.Error()})
		return
	}
	if err := verify(req); err != nil {
		writeJSON(w, http.StatusUnauthorized, nodes.SessionSignResponse{Error: err.Error()})
		return
	}

	if n.opts.Challenge {
		n.mu.Lock()
		nonce, ok := n.nonces[req.WalletAddress]
		if !ok {
			nonce = "0x" + strings.ReplaceAll(uuid.New().String(), "-", "")
			n.nonces[req.WalletAddress] = nonce
		}
		n.mu.Unlock()
		if !strings.Contains(req.AuthSig.SignedMessage, "Nonce: "+nonce+"\n") {
			writeJSON(w, http.StatusConflict, nodes.SessionSignResponse{Error: "challenge", Nonce: nonce})
			return
		}
	}

	now := time.Now()
	expires := req.Expiration
	if n.opts.MaxTTL > 0 && expires.After(now.Add(n.opts.MaxTTL)) {
		expires = now.Add(n.opts.MaxTTL)
	}
	token, err := n.tokenizer.GrantToToken(n.Key, tokenizer.SessionGrant{
		Node:      n.URL(),
		Wallet:    req.WalletAddress,
		Requests:  req.Requests,
		IssuedAt:  now,
		ExpiresAt: expires,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, nodes.SessionSignResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, nodes.SessionSignResponse{SessionToken: token})
}

func verify(req nodes.SessionSignRequest) error {
	sig, err := hexutil.Decode(req.AuthSig.Sig)
	if err != nil || len(sig) != crypto.SignatureLength {
		return errors.New("malformed signature")
	}
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(req.AuthSig.SignedMessage)), sig)
	if err != nil {
		return errors.New("unrecoverable signature")
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(req.WalletAddress) {
		return errors.New("signature does not match wallet")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
