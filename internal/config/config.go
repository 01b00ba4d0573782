package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	DataDir string

	// Twilio. AuthToken signs inbound webhooks; AuthTokenREST authenticates
	// outbound API calls (falls back to AuthToken when unset).
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioAuthTokenRST string
	TwilioFrom         string
	MessagingService   string

	// Dialogflow CX agent.
	DFProject     string
	DFLocation    string
	DFAgentID     string
	DFLangCode    string
	DFAccessToken string
	DFEndpoint    string // derived from DFLocation unless overridden

	CXTimeout       time.Duration
	CXRetryAttempts int
	CXRetryBase     time.Duration

	SendTimeout       time.Duration
	SendRetryAttempts int
	SendRetryBase     time.Duration

	// Handoff detection and messaging.
	HandoffParam           string
	HandoffMarker          string
	HandoffTextHints       []string // casefolded
	HandoffAckText         string
	HandoffDisabledText    string
	DisableHandoff         bool
	ForceBotWhenDisabled   bool
	AutoReplyDuringPending bool

	// Inbound burst aggregation.
	AggregationEnabled bool
	DebounceInitial    time.Duration
	DebounceExtend     time.Duration
	DebounceMax        time.Duration

	// Audio transcription.
	TranscriptionEnabled bool
	STTAPIKey            string
	STTLanguageCode      string
	STTTimeout           time.Duration
	STTFallbackText      string

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	// .env is optional; env vars may already be set (e.g. in production)
	_ = godotenv.Load()

	cfg := &Config{
		Port:    getenv("PORT", "8080"),
		DataDir: getenv("DATA_DIR", "."),

		TwilioAccountSID:   strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		TwilioAuthToken:    strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		TwilioAuthTokenRST: strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN_REST")),
		TwilioFrom:         strings.TrimSpace(os.Getenv("TWILIO_WHATSAPP_FROM")),
		MessagingService:   strings.TrimSpace(os.Getenv("TWILIO_MESSAGING_SERVICE_SID")),

		DFProject:     strings.TrimSpace(os.Getenv("DF_PROJECT_ID")),
		DFLocation:    getenv("DF_LOCATION", "global"),
		DFAgentID:     strings.TrimSpace(os.Getenv("DF_AGENT_ID")),
		DFLangCode:    getenv("DF_LANG_CODE", "pt-br"),
		DFAccessToken: strings.TrimSpace(os.Getenv("DF_ACCESS_TOKEN")),
		DFEndpoint:    strings.TrimSpace(os.Getenv("DF_ENDPOINT")),

		CXTimeout:       secondsEnv("CX_TIMEOUT_SECONDS", 15*time.Second),
		CXRetryAttempts: intEnv("CX_RETRY_ATTEMPTS", 3),
		CXRetryBase:     secondsEnv("CX_RETRY_BASE_SECONDS", 500*time.Millisecond),

		SendTimeout:       secondsEnv("SEND_TIMEOUT_SECONDS", 30*time.Second),
		SendRetryAttempts: intEnv("SEND_RETRY_ATTEMPTS", 2),
		SendRetryBase:     secondsEnv("SEND_RETRY_BASE_SECONDS", 500*time.Millisecond),

		HandoffParam:  getenv("DF_HANDOFF_PARAM", "handoff_requested"),
		HandoffMarker: getenv("DF_HANDOFF_MARKER", "##HANDOFF_TRIGGER##"),
		HandoffTextHints: csvCasefold("DF_HANDOFF_TEXT_HINTS",
			"transferindo você agora para um de nossos atendentes,atendente continuará seu atendimento em instantes"),
		HandoffAckText: getenv("HANDOFF_ACK_TEXT",
			"Certo! Um atendente vai assumir esta conversa em instantes."),
		HandoffDisabledText: getenv("HANDOFF_DISABLED_TEXT",
			"No momento o atendimento humano está indisponível. Pode deixar sua mensagem por aqui que respondemos assim que possível."),
		DisableHandoff:         boolEnv("FEATURE_DISABLE_HANDOFF", false),
		ForceBotWhenDisabled:   boolEnv("FEATURE_FORCE_BOT_WHEN_HANDOFF_DISABLED", true),
		AutoReplyDuringPending: boolEnv("FEATURE_AUTOREPLY_DURING_PENDING", false),

		AggregationEnabled: boolEnv("FEATURE_MESSAGE_AGGREGATION", true),
		DebounceInitial:    secondsEnv("MESSAGE_DEBOUNCE_INITIAL_SECONDS", 5*time.Second),
		DebounceExtend:     secondsEnv("MESSAGE_DEBOUNCE_EXTEND_SECONDS", 3*time.Second),
		DebounceMax:        secondsEnv("MESSAGE_DEBOUNCE_MAX_SECONDS", 10*time.Second),

		TranscriptionEnabled: boolEnv("FEATURE_AUDIO_TRANSCRIPTION", true),
		STTAPIKey:            strings.TrimSpace(os.Getenv("STT_API_KEY")),
		STTLanguageCode:      getenv("STT_LANGUAGE_CODE", "pt-BR"),
		STTTimeout:           secondsEnv("STT_TIMEOUT_SECONDS", 30*time.Second),
		STTFallbackText:      strings.TrimSpace(os.Getenv("STT_FALLBACK_TEXT")),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "console"),
	}

	if cfg.TwilioAuthTokenRST == "" {
		cfg.TwilioAuthTokenRST = cfg.TwilioAuthToken
	}
	if cfg.DFEndpoint == "" {
		cfg.DFEndpoint = fmt.Sprintf("https://%s-dialogflow.googleapis.com", cfg.DFLocation)
		if cfg.DFLocation == "global" {
			cfg.DFEndpoint = "https://dialogflow.googleapis.com"
		}
	}

	for _, req := range []struct {
		name, val string
	}{
		{"TWILIO_ACCOUNT_SID", cfg.TwilioAccountSID},
		{"DF_PROJECT_ID", cfg.DFProject},
		{"DF_AGENT_ID", cfg.DFAgentID},
	} {
		if req.val == "" {
			return nil, fmt.Errorf("required env var %s is not set", req.name)
		}
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return strings.EqualFold(v, "true")
}

func intEnv(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func secondsEnv(key string, fallback time.Duration) time.Duration {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return time.Duration(v * float64(time.Second))
}

func csvCasefold(key, fallback string) []string {
	raw := getenv(key, fallback)
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
