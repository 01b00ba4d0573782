package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/modavia/celia/internal/bot"
	"github.com/modavia/celia/internal/buffer"
	"github.com/modavia/celia/internal/config"
	"github.com/modavia/celia/internal/dialogflow"
	"github.com/modavia/celia/internal/logging"
	"github.com/modavia/celia/internal/retry"
	"github.com/modavia/celia/internal/store"
	"github.com/modavia/celia/internal/transcribe"
	"github.com/modavia/celia/internal/twilio"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", "console")
		log.Fatal().Err(err).Msg("config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := store.NewBoltStore(cfg.DataDir + "/celia.db")
	if err != nil {
		log.Fatal().Err(err).Msg("store")
	}
	defer db.Close()

	twilioClient := twilio.NewClient(
		cfg.TwilioAccountSID,
		cfg.TwilioAuthTokenRST,
		cfg.TwilioFrom,
		cfg.MessagingService,
		cfg.SendTimeout,
		retry.Policy{Attempts: cfg.SendRetryAttempts, Base: cfg.SendRetryBase},
	)

	cxClient := dialogflow.NewClient(dialogflow.Config{
		Endpoint:    cfg.DFEndpoint,
		Project:     cfg.DFProject,
		Location:    cfg.DFLocation,
		AgentID:     cfg.DFAgentID,
		Language:    cfg.DFLangCode,
		AccessToken: cfg.DFAccessToken,
		Timeout:     cfg.CXTimeout,
		Retry:       retry.Policy{Attempts: cfg.CXRetryAttempts, Base: cfg.CXRetryBase},
	})

	var stt bot.SpeechTranscriber
	if cfg.TranscriptionEnabled && cfg.STTAPIKey != "" {
		stt = transcribe.NewClient(cfg.STTAPIKey, cfg.STTLanguageCode, cfg.STTTimeout)
	}

	botHandler := bot.NewHandler(db, cxClient, twilioClient, twilioClient, stt, bot.Settings{
		DisableHandoff:         cfg.DisableHandoff,
		ForceBotWhenDisabled:   cfg.ForceBotWhenDisabled,
		AutoReplyDuringPending: cfg.AutoReplyDuringPending,
		HandoffParam:           cfg.HandoffParam,
		HandoffMarker:          cfg.HandoffMarker,
		HandoffTextHints:       cfg.HandoffTextHints,
		HandoffAckText:         cfg.HandoffAckText,
		HandoffDisabledText:    cfg.HandoffDisabledText,
		TranscriptionEnabled:   cfg.TranscriptionEnabled,
		STTFallbackText:        cfg.STTFallbackText,
		Aggregation: buffer.Config{
			Enabled: cfg.AggregationEnabled,
			Initial: cfg.DebounceInitial,
			Extend:  cfg.DebounceExtend,
			Max:     cfg.DebounceMax,
		},
	})

	webhookHandler := twilio.NewWebhookHandler(cfg.TwilioAuthToken, botHandler.HandleInbound)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("celia webhook up"))
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Post("/webhook", webhookHandler.HandleIncoming)
	r.Post("/twiml-test", webhookHandler.HandleTwiMLTest)

	r.Get("/debug/buffers", func(w http.ResponseWriter, _ *http.Request) {
		buffers := botHandler.Buffers()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"aggregation_enabled": buffers.Enabled(),
			"active_buffers":      buffers.Snapshot(),
			"config": map[string]any{
				"initial_seconds": buffers.Config().Initial.Seconds(),
				"extend_seconds":  buffers.Config().Extend.Seconds(),
				"max_seconds":     buffers.Config().Max.Seconds(),
			},
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("celia listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("celia shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("shutdown")
	}
	log.Info().Msg("celia stopped")
}
