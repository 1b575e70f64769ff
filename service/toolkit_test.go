package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/service"
)

func newToolkit(t *testing.T, registry *fakeRegistry) (*service.Toolkit, *brokerFixture) {
	t.Helper()
	bf := newBrokerFixture(t, 3, nil, service.BrokerConfig{})
	mf := newMinterFixture(registry, 0)
	return service.NewToolkit(bf.broker, mf.minter, newSigner(t)), bf
}

func TestToolkit_Tools(t *testing.T) {
	tk, _ := newToolkit(t, &fakeRegistry{})
	names := []string{}
	for _, tool := range tk.Tools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.Equal(t, []string{service.ToolMintPKP, service.ToolGetSessionSigs}, names)
}

func TestToolkit_MintDefaults(t *testing.T) {
	registry := &fakeRegistry{receipt: &core.MintReceipt{TokenID: "42", PublicKey: "0x04"}}
	tk, _ := newToolkit(t, registry)

	out, err := tk.Invoke(context.Background(), service.ToolMintPKP, json.RawMessage(`{}`))
	require.NoError(t, err)

	var pkp core.MintedKeyPair
	require.NoError(t, json.Unmarshal(out, &pkp))
	assert.Equal(t, "42", pkp.TokenID)
	assert.Equal(t, []core.Scope{core.ScopeSignAnything}, pkp.GrantedScopes)
	assert.False(t, pkp.SelfCustody)
	assert.False(t, registry.calls()[0].SelfCustody)
}

func TestToolkit_MintSelfCustody(t *testing.T) {
	registry := &fakeRegistry{receipt: &core.MintReceipt{TokenID: "42"}}
	tk, _ := newToolkit(t, registry)

	_, err := tk.Invoke(context.Background(), service.ToolMintPKP,
		json.RawMessage(`{"send_pkp_to_itself": true, "scopes": ["PersonalSign"]}`))
	require.NoError(t, err)

	req := registry.calls()[0]
	assert.True(t, req.SelfCustody)
	assert.Equal(t, []core.Scope{core.ScopePersonalSign}, req.Scopes)
}

func TestToolkit_SessionSigs(t *testing.T) {
	tk, bf := newToolkit(t, &fakeRegistry{})

	out, err := tk.Invoke(context.Background(), service.ToolGetSessionSigs, nil)
	require.NoError(t, err)

	var set core.SessionCredentialSet
	require.NoError(t, json.Unmarshal(out, &set))
	assert.GreaterOrEqual(t, set.Len(), 2)
	assert.Len(t, set.Requests(), 2)
	assert.True(t, bf.clock.Now().Truncate(time.Millisecond).Add(service.DefaultSessionTTL).Equal(set.Expiration()))
}

func TestToolkit_SessionSigsWithArgs(t *testing.T) {
	tk, _ := newToolkit(t, &fakeRegistry{})

	out, err := tk.Invoke(context.Background(), service.ToolGetSessionSigs,
		json.RawMessage(`{"abilities":[{"resource":"*","ability":"lit-action-execution"}],"ttl_seconds":60}`))
	require.NoError(t, err)

	var set core.SessionCredentialSet
	require.NoError(t, json.Unmarshal(out, &set))
	require.Len(t, set.Requests(), 1)
	assert.Equal(t, core.AbilityActionExecution, set.Requests()[0].Ability())
}

func TestToolkit_SessionSigsMaxTTL(t *testing.T) {
	tk, bf := newToolkit(t, &fakeRegistry{})

	out, err := tk.Invoke(context.Background(), service.ToolGetSessionSigs, json.RawMessage(`{"ttl_seconds":86400}`))
	require.NoError(t, err)

	var set core.SessionCredentialSet
	require.NoError(t, json.Unmarshal(out, &set))
	assert.True(t, bf.clock.Now().Truncate(time.Millisecond).Add(service.MaxSessionTTL).Equal(set.Expiration()))
}

func TestToolkit_Errors(t *testing.T) {
	tk, _ := newToolkit(t, &fakeRegistry{err: &core.ContractError{Reason: "mint transaction reverted", TxHash: "0xdead"}})
	ctx := context.Background()

	tests := []struct {
		name string
		tool string
		args string
		kind string
	}{
		{"unknown tool", "transfer", `{}`, "validation"},
		{"malformed args", service.ToolMintPKP, `{"scopes":`, "validation"},
		{"unknown scope", service.ToolMintPKP, `{"scopes":["Everything"]}`, "validation"},
		{"unknown ability", service.ToolGetSessionSigs, `{"abilities":[{"resource":"*","ability":"fly"}]}`, "validation"},
		{"negative ttl", service.ToolGetSessionSigs, `{"ttl_seconds":-5}`, "validation"},
		{"ttl overflowing a duration", service.ToolGetSessionSigs, `{"ttl_seconds":18446744074}`, "validation"},
		{"ttl above maximum", service.ToolGetSessionSigs, `{"ttl_seconds":86401}`, "validation"},
		{"line break in resource", service.ToolGetSessionSigs, `{"abilities":[{"resource":"*\nNonce: attacker","ability":"pkp-signing"}]}`, "validation"},
		{"reverted mint", service.ToolMintPKP, `{}`, "contract"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				Error service.ToolError `json:"error"`
			}
			require.NoError(t, json.Unmarshal([]byte(tk.Call(ctx, tt.tool, tt.args)), &out))
			assert.Equal(t, tt.kind, out.Error.Kind)
			assert.NotEmpty(t, out.Error.Message)
		})
	}
}
