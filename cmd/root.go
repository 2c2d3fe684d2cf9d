package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "candy-kiosk",
	Short: "Face-aware ordering kiosk that drives a candy robot",
	Long: `Candy Kiosk watches a camera for faces, logs known customers in and out,
registers new ones on request, and turns chatbot orders into commands for the
robot arm control PC over UDP.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// cliLogger builds the logger for one-shot commands; it only reports warnings
// unless LOG_LEVEL asks for more.
func cliLogger() (*zap.Logger, error) {
	cfg := logging.ConfigFromEnv()
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.Level = "warn"
	}
	logger, err := logging.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
