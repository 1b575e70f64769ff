package core_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/litkit/core"
)

func TestNewSessionCredentialSet_TakesEarliestExpiration(t *testing.T) {
	issued := fixedNow
	notAfter := issued.Add(10 * time.Minute)
	creds := []core.NodeCredential{
		{Node: "https://n1", Signature: "s1", Expiration: issued.Add(20 * time.Minute)},
		{Node: "https://n2", Signature: "s2", Expiration: issued.Add(5 * time.Minute)},
		{Node: "https://n3", Signature: "s3"},
	}

	set, err := core.NewSessionCredentialSet(testWallet, core.DefaultAbilityRequests(), issued, notAfter, creds)
	require.NoError(t, err)

	assert.Equal(t, issued.Add(5*time.Minute), set.Expiration())
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, []string{"https://n1", "https://n2", "https://n3"}, set.Nodes())

	c, ok := set.Credential("https://n1")
	require.True(t, ok)
	assert.Equal(t, notAfter, c.Expiration, "clamped to the message expiration")
	c, ok = set.Credential("https://n3")
	require.True(t, ok)
	assert.Equal(t, notAfter, c.Expiration)

	assert.True(t, set.ValidAt(issued.Add(4*time.Minute)))
	assert.False(t, set.ValidAt(issued.Add(5*time.Minute)))
}

func TestNewSessionCredentialSet_Empty(t *testing.T) {
	_, err := core.NewSessionCredentialSet(testWallet, nil, fixedNow, fixedNow.Add(time.Minute), nil)
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestSessionCredentialSet_JSONRoundTrip(t *testing.T) {
	set, err := core.NewSessionCredentialSet(testWallet, core.DefaultAbilityRequests(), fixedNow, fixedNow.Add(time.Minute),
		[]core.NodeCredential{{Node: "https://n1", Signature: "token"}})
	require.NoError(t, err)

	b, err := json.Marshal(set)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"sessionSigs"`)

	var decoded core.SessionCredentialSet
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, set.WalletAddress(), decoded.WalletAddress())
	assert.True(t, set.Expiration().Equal(decoded.Expiration()))
	assert.Equal(t, set.Nodes(), decoded.Nodes())
	require.Len(t, decoded.Requests(), 2)
	assert.True(t, set.Requests()[1].Equal(decoded.Requests()[1]))

	err = json.Unmarshal([]byte(`{"sessionSigs":{}}`), &decoded)
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestSessionCredentialSet_RequestsIsCopy(t *testing.T) {
	set, err := core.NewSessionCredentialSet(testWallet, core.DefaultAbilityRequests(), fixedNow, fixedNow.Add(time.Minute),
		[]core.NodeCredential{{Node: "n", Signature: "s"}})
	require.NoError(t, err)

	r := set.Requests()
	r[0] = core.MustAbilityRequest("*", core.AbilityRateLimitIncreaseAuth)
	assert.Equal(t, core.AbilityActionExecution, set.Requests()[0].Ability())
}

func TestNetworkConfig_RequiredNodes(t *testing.T) {
	assert.Equal(t, 3, core.NetworkConfig{NodeURLs: make([]string, 5)}.RequiredNodes())
	assert.Equal(t, 3, core.NetworkConfig{NodeURLs: make([]string, 4)}.RequiredNodes())
	assert.Equal(t, 1, core.NetworkConfig{NodeURLs: make([]string, 1)}.RequiredNodes())
	assert.Equal(t, 2, core.NetworkConfig{NodeURLs: make([]string, 5), MinNodeCount: 2}.RequiredNodes())
}

func TestNodeCredential_Binds(t *testing.T) {
	requests := core.DefaultAbilityRequests()
	cred := core.NodeCredential{
		Node:         "https://n1",
		Wallet:       testWallet,
		Capabilities: []string{"lit-pkp://*#pkp-signing", "lit-litaction://*#lit-action-execution"},
	}
	require.NoError(t, cred.Binds("0x71C7656EC7ab88b098defB751B7401B5f6d8976F", requests))

	other := cred
	other.Wallet = "0x000000000000000000000000000000000000dEaD"
	assert.ErrorIs(t, other.Binds(testWallet, requests), core.ErrCredentialMismatch)

	unbound := cred
	unbound.Wallet = ""
	assert.ErrorIs(t, unbound.Binds(testWallet, requests), core.ErrCredentialMismatch)

	narrower := cred
	narrower.Capabilities = cred.Capabilities[:1]
	assert.ErrorIs(t, narrower.Binds(testWallet, requests), core.ErrCredentialMismatch)

	wider := cred
	wider.Capabilities = append([]string{"lit-ratelimitincrease://*#rate-limit-increase-auth"}, cred.Capabilities...)
	assert.ErrorIs(t, wider.Binds(testWallet, requests), core.ErrCredentialMismatch)
}
