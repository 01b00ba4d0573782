package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("DF_PROJECT_ID", "proj")
	t.Setenv("DF_AGENT_ID", "agent-1")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "global", cfg.DFLocation)
	assert.Equal(t, "https://dialogflow.googleapis.com", cfg.DFEndpoint)
	assert.Equal(t, "handoff_requested", cfg.HandoffParam)
	assert.Equal(t, 3, cfg.CXRetryAttempts)
	assert.Equal(t, 2, cfg.SendRetryAttempts)
	assert.True(t, cfg.AggregationEnabled)
	assert.Equal(t, 5*time.Second, cfg.DebounceInitial)
	assert.Equal(t, 3*time.Second, cfg.DebounceExtend)
	assert.Equal(t, 10*time.Second, cfg.DebounceMax)
	assert.True(t, cfg.TranscriptionEnabled)
	assert.False(t, cfg.DisableHandoff)
	assert.True(t, cfg.ForceBotWhenDisabled)
	assert.False(t, cfg.AutoReplyDuringPending)
	assert.NotEmpty(t, cfg.HandoffTextHints)
	assert.NotEmpty(t, cfg.HandoffDisabledText)
}

func TestLoadDisabledTextOverride(t *testing.T) {
	setRequired(t)
	t.Setenv("HANDOFF_DISABLED_TEXT", "Atendimento humano em pausa.")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Atendimento humano em pausa.", cfg.HandoffDisabledText)
}

func TestLoadRequiresCoreVars(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("DF_PROJECT_ID", "proj")
	t.Setenv("DF_AGENT_ID", "agent-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TWILIO_ACCOUNT_SID")
}

func TestLoadRegionalEndpoint(t *testing.T) {
	setRequired(t)
	t.Setenv("DF_LOCATION", "southamerica-east1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://southamerica-east1-dialogflow.googleapis.com", cfg.DFEndpoint)
}

func TestLoadRESTTokenFallsBackToAuthToken(t *testing.T) {
	setRequired(t)
	t.Setenv("TWILIO_AUTH_TOKEN", "webhook-token")
	t.Setenv("TWILIO_AUTH_TOKEN_REST", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "webhook-token", cfg.TwilioAuthTokenRST)
}

func TestLoadHintsAreCasefolded(t *testing.T) {
	setRequired(t)
	t.Setenv("DF_HANDOFF_TEXT_HINTS", " Vou Transferir Você , Um Atendente Vai Te Ajudar ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"vou transferir você", "um atendente vai te ajudar"}, cfg.HandoffTextHints)
}

func TestLoadFractionalSeconds(t *testing.T) {
	setRequired(t)
	t.Setenv("CX_RETRY_BASE_SECONDS", "0.25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.CXRetryBase)
}
