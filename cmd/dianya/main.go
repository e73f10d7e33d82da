package main

import (
	"errors"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	dianya "github.com/dianya-ai/dianya-api-go"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("token", "", "Dianya API token")
	rootCmd.PersistentFlags().String("model", string(dianya.DefaultModel), "Transcription model (speed, quality, quality_v2)")
	rootCmd.PersistentFlags().String("base-url", dianya.DefaultBaseURL, "REST API base URL")
	rootCmd.PersistentFlags().String("ws-url", dianya.DefaultWebSocketURL, "Streaming WebSocket URL")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
	viper.BindPFlag("base_url", rootCmd.PersistentFlags().Lookup("base-url"))
	viper.BindPFlag("ws_url", rootCmd.PersistentFlags().Lookup("ws-url"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(streamCmd)
}

func initConfig() {
	viper.SetConfigName("dianya")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home + "/.config/dianya")
	}
	viper.SetEnvPrefix("DIANYA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "dianya",
		ReportTimestamp: true,
	})
	if level, err := log.ParseLevel(viper.GetString("log_level")); err == nil {
		logger.SetLevel(level)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logger.Warn("Error reading config file", "error", err)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "dianya",
	Short: "Command line client for the Dianya transcription API",
	Long:  `Create and close transcription sessions and stream raw PCM audio for real-time transcription.`,
}

func newClient() *dianya.Client {
	return dianya.NewClient(dianya.ClientOptions{
		BaseURL:      viper.GetString("base_url"),
		WebSocketURL: viper.GetString("ws_url"),
		Logger:       logger,
	})
}

func credential() string {
	token := viper.GetString("token")
	if token == "" {
		logger.Fatal("API token is required. Use --token or DIANYA_TOKEN.")
	}
	return token
}

func model() dianya.ModelType {
	m, err := dianya.ParseModelType(viper.GetString("model"))
	if err != nil {
		logger.Fatal("Invalid model", "error", err)
	}
	return m
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
