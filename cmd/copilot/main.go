package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dataplug/copilot/internal/brain"
	"github.com/dataplug/copilot/internal/config"
	"github.com/dataplug/copilot/internal/conversation"
	"github.com/dataplug/copilot/internal/history"
	"github.com/dataplug/copilot/internal/httpapi"
	"github.com/dataplug/copilot/internal/observability"
	"github.com/dataplug/copilot/internal/orchestrator"
	"github.com/dataplug/copilot/internal/places"
	"github.com/dataplug/copilot/internal/session"
	"github.com/dataplug/copilot/internal/speech"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	transcripts, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer transcripts.Close()
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Printf("transcript store: in-memory")
	} else {
		log.Printf("transcript store: postgres")
	}

	var embedFn = places.LocalEmbedding()
	if cfg.DashScopeAPIKey != "" {
		embedFn = places.OpenAICompatEmbedding(cfg.EmbeddingBaseURL, cfg.DashScopeAPIKey, cfg.EmbeddingModel)
		log.Printf("spot embeddings: %s", cfg.EmbeddingModel)
	} else {
		log.Printf("spot embeddings: local deterministic (no DASHSCOPE_API_KEY)")
	}
	spots := places.New(embedFn, places.DefaultSpots())

	replyBrain := brain.NewAdapter(brain.Config{
		APIKey:      cfg.DashScopeAPIKey,
		BaseURL:     cfg.QwenBaseURL,
		Model:       cfg.QwenModel,
		MaxTokens:   cfg.QwenMaxTokens,
		Temperature: cfg.QwenTemperature,
		Timeout:     cfg.CollaboratorTimeout,
	})
	if cfg.DashScopeAPIKey != "" {
		log.Printf("reply brain: %s", cfg.QwenModel)
	} else {
		log.Printf("reply brain: template (no DASHSCOPE_API_KEY)")
	}

	var recognizer speech.Recognizer
	var synthesizer speech.Synthesizer
	if cfg.DashScopeAPIKey != "" {
		recognizer = speech.NewDashScopeRecognizer(speech.DashScopeConfig{
			APIKey:   cfg.DashScopeAPIKey,
			BaseURL:  cfg.ASRBaseURL,
			Model:    cfg.ASRModel,
			Language: cfg.ASRLanguage,
		})
		synthesizer = speech.NewQwenTTS(speech.QwenTTSConfig{
			APIKey:  cfg.DashScopeAPIKey,
			URL:     cfg.TTSURL,
			Model:   cfg.TTSModel,
			Voice:   cfg.TTSVoice,
			Timeout: cfg.CollaboratorTimeout,
		})
		log.Printf("speech: %s / %s", cfg.ASRModel, cfg.TTSModel)
	} else {
		recognizer = speech.NewMockRecognizer()
		synthesizer = &speech.StaticSynthesizer{}
		log.Printf("speech: mock (no DASHSCOPE_API_KEY)")
	}

	sessions := session.NewStore(cfg.SessionTTL)

	orch := orchestrator.New(orchestrator.Deps{
		Sessions:      sessions,
		Machine:       conversation.NewMachine(conversation.KeywordClassifier{}, cfg.MaxCandidates),
		Places:        spots,
		Brain:         replyBrain,
		History:       transcripts,
		Recognizer:    recognizer,
		Synthesizer:   synthesizer,
		Metrics:       metrics,
		Timeout:       cfg.CollaboratorTimeout,
		MaxCandidates: cfg.MaxCandidates,
	})
	sessions.SetExpireHook(orch.OnExpire)

	api := httpapi.New(cfg, sessions, orch, metrics, log.Default())
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, cfg.SweepInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
