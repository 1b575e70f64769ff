package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/internal/metrics"
	"github.com/layer-3/litkit/ports"
)

const (
	ToolMintPKP        = "mint_pkp"
	ToolGetSessionSigs = "get_session_sigs"

	// DefaultSessionTTL is used when a tool call does not ask for a ttl
	DefaultSessionTTL = 10 * time.Minute

	// MaxSessionTTL is the longest session a tool call may ask for
	MaxSessionTTL = 24 * time.Hour
)

// Tool describes an operation the orchestration layer may call
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var tools = []Tool{
	{
		Name:        ToolMintPKP,
		Description: "Mints a programmable key pair held by the node network. Args: send_pkp_to_itself (bool, false unless the user asks), scopes (optional list, default [\"SignAnything\"]).",
	},
	{
		Name:        ToolGetSessionSigs,
		Description: "Obtains session signatures from the node network. Args: abilities (optional list of {resource, ability}), ttl_seconds (optional, default 600, at most 86400).",
	},
}

// MintArgs are the arguments of the mint_pkp tool
type MintArgs struct {
	SendPKPToItself bool         `json:"send_pkp_to_itself"`
	Scopes          []core.Scope `json:"scopes,omitempty"`
}

// SessionArgs are the arguments of the get_session_sigs tool
type SessionArgs struct {
	Abilities  []core.ResourceAbilityRequest `json:"abilities,omitempty"`
	TTLSeconds int64                         `json:"ttl_seconds,omitempty"`
}

// ToolError is the serialized error description handed back to the caller
type ToolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Toolkit exposes the session broker and minter as named tools acting for one wallet
type Toolkit struct {
	broker     *SessionBroker
	minter     *Minter
	signer     ports.Signer
	sessionURI string
}

// NewToolkit creates a toolkit acting on behalf of signer
func NewToolkit(broker *SessionBroker, minter *Minter, signer ports.Signer) *Toolkit {
	return &Toolkit{broker: broker, minter: minter, signer: signer}
}

// WithSessionURI sets the purpose string bound into session authorizations
func (t *Toolkit) WithSessionURI(uri string) *Toolkit {
	t.sessionURI = uri
	return t
}

// Tools lists the available tools
func (t *Toolkit) Tools() []Tool {
	return append([]Tool(nil), tools...)
}

// Invoke runs the named tool with JSON args and returns its JSON result
func (t *Toolkit) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	out, err := t.invoke(ctx, name, args)
	kind := core.ErrorKind(err)
	if kind == "" {
		kind = "ok"
	}
	metrics.ToolCalls.WithLabelValues(name, kind).Inc()
	return out, err
}

func (t *Toolkit) invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	switch name {
	case ToolMintPKP:
		var a MintArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if len(a.Scopes) == 0 {
			a.Scopes = []core.Scope{core.ScopeSignAnything}
		}
		pkp, err := t.minter.MintKeyPair(ctx, t.signer, a.Scopes, a.SendPKPToItself)
		if err != nil {
			return nil, err
		}
		return json.Marshal(pkp)

	case ToolGetSessionSigs:
		var a SessionArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		params := SessionParams{Requests: a.Abilities, TTL: DefaultSessionTTL, URI: t.sessionURI}
		if len(params.Requests) == 0 {
			params.Requests = core.DefaultAbilityRequests()
		}
		if a.TTLSeconds != 0 {
			if a.TTLSeconds < 0 || a.TTLSeconds > int64(MaxSessionTTL/time.Second) {
				return nil, fmt.Errorf("%w: ttl_seconds must be between 1 and %d", core.ErrValidation, int64(MaxSessionTTL/time.Second))
			}
			params.TTL = time.Duration(a.TTLSeconds) * time.Second
		}
		set, err := t.broker.GetSessionCredentials(ctx, t.signer, params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(set)

	default:
		return nil, fmt.Errorf("%w: unknown tool %q", core.ErrValidation, name)
	}
}

// Call is Invoke for callers that only handle strings: it returns either the
// JSON result or a JSON {"error": {...}} description
func (t *Toolkit) Call(ctx context.Context, name string, args string) string {
	out, err := t.Invoke(ctx, name, json.RawMessage(args))
	if err != nil {
		return string(EncodeToolError(err))
	}
	return string(out)
}

// EncodeToolError serializes err as {"error": {"kind", "message"}}
func EncodeToolError(err error) []byte {
	b, _ := json.Marshal(struct {
		Error ToolError `json:"error"`
	}{Error: ToolError{Kind: core.ErrorKind(err), Message: err.Error()}})
	return b
}

func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(args)) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: invalid arguments: %v", core.ErrValidation, err)
	}
	return nil
}
