package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/camera"
	"github.com/kozaktomas/candy-kiosk/internal/chat"
	"github.com/kozaktomas/candy-kiosk/internal/config"
	"github.com/kozaktomas/candy-kiosk/internal/dispatch"
	"github.com/kozaktomas/candy-kiosk/internal/fingerprint"
	"github.com/kozaktomas/candy-kiosk/internal/logging"
	"github.com/kozaktomas/candy-kiosk/internal/pipeline"
	"github.com/kozaktomas/candy-kiosk/internal/recognition"
	"github.com/kozaktomas/candy-kiosk/internal/session"
	"github.com/kozaktomas/candy-kiosk/internal/transport"
	"github.com/kozaktomas/candy-kiosk/internal/vision/opencv"
	"github.com/kozaktomas/candy-kiosk/internal/web"
	"github.com/kozaktomas/candy-kiosk/internal/web/handlers"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the kiosk server",
	Long: `Start the kiosk HTTP server.
The server streams the annotated camera feed, tracks the face session,
answers chatbot requests and forwards detected orders to the robot.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("start-camera", false, "Open the camera at startup instead of on first stream")
}

// resolveServeHostPort applies host and port flags over the environment.
func resolveServeHostPort(cmd *cobra.Command, web *config.WebConfig) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		web.Host = host
	}
}

// faceDetector picks the local Haar cascade when configured, otherwise the
// embedding server's detector.
func faceDetector(cfg config.CameraConfig, client *fingerprint.EmbeddingClient, logger *zap.Logger) (pipeline.Detector, func(), error) {
	if cfg.CascadePath == "" {
		logger.Info("using embedding server for face detection")
		return client, func() {}, nil
	}
	det, err := opencv.NewCascadeDetector(cfg.CascadePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load face cascade: %w", err)
	}
	logger.Info("using Haar cascade for face detection", zap.String("path", cfg.CascadePath))
	return det, func() { _ = det.Close() }, nil
}

// newChatProvider builds the provider named by CHAT_PROVIDER, or whichever has
// a key when none is named. It returns nil when no provider is configured.
func newChatProvider(ctx context.Context, cfg *config.Config) (chat.Provider, error) {
	name := cfg.Chat.Provider
	if name == "" {
		switch {
		case cfg.OpenAI.Token != "":
			name = "openai"
		case cfg.Gemini.APIKey != "":
			name = "gemini"
		default:
			return nil, nil
		}
	}

	switch name {
	case "openai":
		if cfg.OpenAI.Token == "" {
			return nil, errors.New("OPENAI_TOKEN environment variable is required")
		}
		return chat.NewOpenAIProvider(cfg.OpenAI.Token, cfg.Chat.OpenAIModel, cfg.Chat.Temperature), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable is required")
		}
		p, err := chat.NewGeminiProvider(ctx, cfg.Gemini.APIKey, cfg.Chat.GeminiModel, cfg.Chat.Temperature)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown chat provider: %s (supported: openai, gemini)", name)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	resolveServeHostPort(cmd, &cfg.Web)

	logger, err := logging.New(logging.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	st, err := openStores(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	embedder := fingerprint.NewEmbeddingClient(cfg.Embedding.URL, cfg.Embedding.Model)
	detector, closeDetector, err := faceDetector(cfg.Camera, embedder, logger)
	if err != nil {
		return err
	}
	defer closeDetector()

	source := camera.NewSource(opencv.OpenCamera(cfg.Camera), cfg.Camera, clock, logger)
	defer source.Stop()
	if mustGetBool(cmd, "start-camera") {
		if err := source.EnsureStarted(); err != nil {
			logger.Warn("camera not available at startup", zap.Error(err))
		}
	}

	sess := session.NewManager(cfg.Face.SessionTimeout, session.WithClock(clock))
	matcher := recognition.NewMatcher(embedder, st.identities, recognition.Config{
		Threshold: cfg.Face.MatchThreshold,
		Dim:       cfg.Embedding.Dim,
		Model:     embedder.Model(),
	}, logger)
	frames := pipeline.New(source, detector, matcher, st.identities, sess, pipeline.Config{
		Interval:    cfg.Camera.FrameInterval,
		JPEGQuality: cfg.Camera.JPEGQuality,
	}, clock, logger)

	robot := transport.NewUDPChannel(cfg.Robot, clock, logger)
	dispatcher := dispatch.New(cfg.Orders.Markers, robot, logger)

	h := web.Handlers{
		Camera: handlers.NewCameraHandler(source, frames, logger),
		Face:   handlers.NewFaceHandler(sess, st.identities, matcher, source, cfg.Face.MinUserIDLen, logger),
		Robot:  handlers.NewRobotHandler(robot, cfg.Robot, logger),
	}

	provider, err := newChatProvider(ctx, cfg)
	if err != nil {
		return err
	}
	if provider != nil {
		svc := chat.NewService(provider, st.chat, dispatcher, chat.Config{
			SystemPrompt: cfg.Chat.SystemPrompt,
			MaxHistory:   cfg.Chat.MaxHistory,
			ErrorReply:   cfg.Chat.ErrorReply,
		}, logger)
		h.Chatbot = handlers.NewChatbotHandler(svc, logger)
		logger.Info("chatbot enabled", zap.String("provider", svc.ProviderName()))
	} else {
		logger.Warn("no chat provider configured, chatbot endpoints disabled")
	}

	server := web.NewServer(cfg.Web, h, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	logger.Info("kiosk ready",
		zap.String("addr", server.Addr()),
		zap.String("robot", robot.Addr()),
		zap.Float64("match_threshold", matcher.Threshold()),
	)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("starting server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	dispatcher.Wait()
	st.saveIndex()
	logger.Info("shutdown complete",
		zap.Int("orders_dispatched", dispatcher.Dispatched()),
		zap.Int64("frames", frames.Stats().Frames),
	)
	return nil
}
