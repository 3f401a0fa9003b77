package cmd

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/avelov/tg-pulse/core/config"
	"github.com/avelov/tg-pulse/pkg/logredact"
)

var rootCmd = &cobra.Command{
	Use:   "tg-pulse",
	Short: "Telegram channel bridge: AI captions in discussion threads and daily photo polls",
}

func init() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()

	cobra.OnInitialize(initEnvConfig, initLogging)
}

func initFlags() {
	rootCmd.PersistentFlags().StringP("port", "p", "", "change port number with --port <number> | example: --port=8080")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().String("basic-auth", "", "Basic auth for the admin API (format: user:pass,user2:pass2)")

	viper.SetEnvPrefix("")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("app_port", rootCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("app_debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("app_basic_auth", rootCmd.PersistentFlags().Lookup("basic-auth"))
}

// initEnvConfig builds the global configuration and applies flag overrides.
func initEnvConfig() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Configuration invalid: %v", err)
	}

	if envPort := viper.GetString("app_port"); envPort != "" {
		cfg.App.Port = envPort
	}
	if viper.GetBool("app_debug") {
		cfg.App.Debug = true
	}
	if ba := viper.GetString("app_basic_auth"); ba != "" {
		cfg.App.BasicAuth = strings.Split(ba, ",")
	}

	config.Global = cfg
}

// initLogging configures logrus. The redaction hook keeps bot tokens out of
// every log line, including URLs echoed back by the Bot API.
func initLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logrus.AddHook(logredact.Hook{})

	if config.Global != nil && config.Global.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
