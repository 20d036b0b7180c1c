// Command ema-gateway serves the realtime voice dialogue gateway: a websocket
// endpoint driving the speech-to-text, response generation and speech
// synthesis pipeline, plus a synchronous HTTP fallback and a status endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/koscakluka/ema-gateway/core/conversations"
	"github.com/koscakluka/ema-gateway/core/dialogue"
	"github.com/koscakluka/ema-gateway/core/llms/groq"
	"github.com/koscakluka/ema-gateway/core/llms/openai"
	deepgramstt "github.com/koscakluka/ema-gateway/core/speechtotext/deepgram"
	deepgramtts "github.com/koscakluka/ema-gateway/core/texttospeech/deepgram"
	"github.com/koscakluka/ema-gateway/gateway"
)

const defaultSystemPrompt = "You are a helpful voice assistant. Keep your answers short and conversational; they will be read aloud."

type config struct {
	addr               string
	databasePath       string
	systemPrompt       string
	llmProvider        string
	openAIAPIKey       string
	openAIModel        string
	groqAPIKey         string
	groqModel          string
	deepgramAPIKey     string
	maxConcurrentTurns int
	heartbeatInterval  time.Duration
}

func loadConfig() config {
	return config{
		addr:               envOr("GATEWAY_ADDR", ":8080"),
		databasePath:       envOr("GATEWAY_DATABASE_PATH", "conversations.db"),
		systemPrompt:       envOr("GATEWAY_SYSTEM_PROMPT", defaultSystemPrompt),
		llmProvider:        envOr("GATEWAY_LLM_PROVIDER", "openai"),
		openAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		openAIModel:        envOr("OPENAI_MODEL", "gpt-4o-mini"),
		groqAPIKey:         os.Getenv("GROQ_API_KEY"),
		groqModel:          os.Getenv("GROQ_MODEL"),
		deepgramAPIKey:     os.Getenv("DEEPGRAM_API_KEY"),
		maxConcurrentTurns: envOrInt("GATEWAY_MAX_CONCURRENT_TURNS", dialogue.DefaultMaxConcurrentTurns),
		heartbeatInterval:  envOrDuration("GATEWAY_HEARTBEAT_INTERVAL", gateway.DefaultHeartbeatInterval),
	}
}

func envOr(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Printf("ignoring invalid %s: %q", key, value)
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		log.Printf("ignoring invalid %s: %q", key, value)
	}
	return fallback
}

func main() {
	cfg := loadConfig()

	store, err := conversations.NewStore(cfg.databasePath)
	if err != nil {
		log.Fatalf("failed to open conversation store: %v", err)
	}
	defer store.Close()

	limiter := dialogue.NewLimiter(cfg.maxConcurrentTurns)

	orchestratorOptions := []dialogue.OrchestratorOption{
		dialogue.WithLimiter(limiter),
		dialogue.WithConversationStore(store),
		dialogue.WithSystemPrompt(cfg.systemPrompt),
	}

	llm, llmKey := streamingLLM(cfg)
	if llm != nil {
		orchestratorOptions = append(orchestratorOptions, dialogue.WithStreamingLLM(llm))
	} else {
		log.Printf("%s is not set; response generation is disabled", llmKey)
	}

	if cfg.deepgramAPIKey != "" {
		orchestratorOptions = append(orchestratorOptions,
			dialogue.WithSpeechToText(func() dialogue.SpeechToText {
				return deepgramstt.NewTranscriptionClient()
			}),
		)

		synthesizer, err := deepgramtts.NewTextToSpeechClient(context.Background(), deepgramtts.VoiceAsteria)
		if err != nil {
			log.Fatalf("failed to create speech synthesizer: %v", err)
		}
		orchestratorOptions = append(orchestratorOptions,
			dialogue.WithSpeechSynthesizer(synthesizer),
		)
	} else {
		log.Println("DEEPGRAM_API_KEY is not set; transcription and synthesis are disabled")
	}

	g := gateway.New(
		gateway.WithOrchestratorOptions(orchestratorOptions...),
		gateway.WithLimiter(limiter),
		gateway.WithHeartbeatInterval(cfg.heartbeatInterval),
		gateway.WithCollaboratorProbe("llm", llmProbe(llm, llmKey)),
		gateway.WithCollaboratorProbe("stt", keyProbe("DEEPGRAM_API_KEY", cfg.deepgramAPIKey)),
		gateway.WithCollaboratorProbe("tts", keyProbe("DEEPGRAM_API_KEY", cfg.deepgramAPIKey)),
	)

	server := &http.Server{
		Addr:              cfg.addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on %s", cfg.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g.Manager().CloseAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown incomplete: %v", err)
	}
}

// streamingLLM builds the configured provider's client, also reporting which
// environment variable gates it.
func streamingLLM(cfg config) (dialogue.LLM, string) {
	switch cfg.llmProvider {
	case "groq":
		if cfg.groqAPIKey == "" {
			return nil, "GROQ_API_KEY"
		}
		return groq.NewClient(cfg.groqAPIKey, groq.WithModel(cfg.groqModel)), "GROQ_API_KEY"
	default:
		if cfg.openAIAPIKey == "" {
			return nil, "OPENAI_API_KEY"
		}
		return openai.NewClient(cfg.openAIAPIKey, openai.WithModel(cfg.openAIModel)), "OPENAI_API_KEY"
	}
}

func llmProbe(llm dialogue.LLM, key string) gateway.Probe {
	return func(context.Context) error {
		if llm == nil {
			return fmt.Errorf("%s is not set", key)
		}
		return nil
	}
}

func keyProbe(name string, value string) gateway.Probe {
	return func(context.Context) error {
		if value == "" {
			return fmt.Errorf("%s is not set", name)
		}
		return nil
	}
}
