package core_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/litkit/core"
)

func TestAbilityRequest_Resource(t *testing.T) {
	tests := []struct {
		ability  core.Ability
		resource string
	}{
		{core.AbilityActionExecution, "lit-litaction://*"},
		{core.AbilityPKPSigning, "lit-pkp://*"},
		{core.AbilityAccessControlConditionDecryption, "lit-accesscontrolcondition://*"},
		{core.AbilityAccessControlConditionSigning, "lit-accesscontrolcondition://*"},
		{core.AbilityRateLimitIncreaseAuth, "lit-ratelimitincrease://*"},
	}
	for _, tt := range tests {
		r := core.MustAbilityRequest(core.WildcardResource, tt.ability)
		assert.Equal(t, tt.resource, r.Resource())
		assert.Equal(t, tt.resource+"#"+string(tt.ability), r.String())
	}
}

func TestNewAbilityRequest_Invalid(t *testing.T) {
	_, err := core.NewAbilityRequest("", core.AbilityPKPSigning)
	require.ErrorIs(t, err, core.ErrValidation)

	_, err = core.NewAbilityRequest("*", core.Ability("teleport"))
	require.ErrorIs(t, err, core.ErrValidation)

	assert.Panics(t, func() { core.MustAbilityRequest("*", "teleport") })

	for _, pattern := range []string{"*'.\n\nURI: evil", "0x12\r34", "a b", "tab\there", "x\u2028y", "nul\x00"} {
		_, err = core.NewAbilityRequest(pattern, core.AbilityPKPSigning)
		assert.ErrorIs(t, err, core.ErrValidation, "%q", pattern)
	}
}

func TestAbilityRequest_JSONRejectsLineBreaks(t *testing.T) {
	var r core.ResourceAbilityRequest
	err := json.Unmarshal([]byte(`{"resource":"lit-pkp://*\nNonce: attacker","ability":"pkp-signing"}`), &r)
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestParseAbility(t *testing.T) {
	for in, want := range map[string]core.Ability{
		"pkp-signing":           core.AbilityPKPSigning,
		"PKPSigning":            core.AbilityPKPSigning,
		"lit-action-execution":  core.AbilityActionExecution,
		"ActionExecution":       core.AbilityActionExecution,
		"RateLimitIncreaseAuth": core.AbilityRateLimitIncreaseAuth,
	} {
		got, err := core.ParseAbility(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := core.ParseAbility("nope")
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestSortedAbilityRequests(t *testing.T) {
	in := []core.ResourceAbilityRequest{
		core.MustAbilityRequest("*", core.AbilityPKPSigning),
		core.MustAbilityRequest("*", core.AbilityActionExecution),
		core.MustAbilityRequest("*", core.AbilityAccessControlConditionSigning),
		core.MustAbilityRequest("*", core.AbilityAccessControlConditionDecryption),
	}
	sorted := core.SortedAbilityRequests(in)

	got := make([]string, 0, len(sorted))
	for _, r := range sorted {
		got = append(got, r.String())
	}
	assert.Equal(t, []string{
		"lit-accesscontrolcondition://*#access-control-condition-decryption",
		"lit-accesscontrolcondition://*#access-control-condition-signing",
		"lit-litaction://*#lit-action-execution",
		"lit-pkp://*#pkp-signing",
	}, got)
	assert.Equal(t, core.AbilityPKPSigning, in[0].Ability(), "input is not reordered")
}

func TestHasAbility(t *testing.T) {
	requests := core.DefaultAbilityRequests()
	assert.True(t, core.HasAbility(requests, core.AbilityPKPSigning))
	assert.False(t, core.HasAbility(requests, core.AbilityRateLimitIncreaseAuth))
}

func TestAbilityRequest_JSON(t *testing.T) {
	r := core.MustAbilityRequest("0x1234", core.AbilityPKPSigning)
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"resource":"0x1234","ability":"pkp-signing"}`, string(b))

	var decoded core.ResourceAbilityRequest
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.True(t, r.Equal(decoded))

	// a full resource URI is accepted too
	require.NoError(t, json.Unmarshal([]byte(`{"resource":"lit-pkp://*","ability":"PKPSigning"}`), &decoded))
	assert.True(t, core.MustAbilityRequest("*", core.AbilityPKPSigning).Equal(decoded))

	err = json.Unmarshal([]byte(`{"resource":"*","ability":"teleport"}`), &decoded)
	require.ErrorIs(t, err, core.ErrValidation)
}
