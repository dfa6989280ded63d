package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/garimajajoo/chatroom/internal/server"
)

type options struct {
	Config  string `short:"c" long:"config" description:"Path to TOML configuration file"`
	Bind    string `long:"bind" description:"Listen address, overrides config"`
	Verbose []bool `short:"v" long:"verbose" description:"Increase logging verbosity"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	setupLogging(len(opts.Verbose))

	cfg := loadConfig(opts)
	server.SetConfig(cfg)

	server.StartHub()

	mux := server.SetupRoutes()
	httpServer := server.CreateServer(cfg.Port, mux)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	if err := server.ShutdownServer(httpServer, 10*time.Second); err != nil {
		log.Printf("HTTP shutdown did not complete cleanly: %v", err)
	}
	if err := server.GetHub().Shutdown(10 * time.Second); err != nil {
		log.Printf("Hub shutdown did not complete cleanly: %v", err)
	}
}

func setupLogging(verbosity int) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	switch {
	case verbosity >= 2:
		log.SetLevel(log.DebugLevel)
	case verbosity == 1:
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
}

// loadConfig layers the sources: environment variables over defaults, then
// the optional config file, then CLI overrides.
func loadConfig(opts options) *server.Config {
	cfg := server.NewConfigFromEnv()

	if opts.Config != "" {
		viper.SetConfigFile(opts.Config)
		viper.SetConfigType("toml")
		if err := viper.ReadInConfig(); err != nil {
			log.Fatalf("Cannot read configuration: %v", err)
		}

		if viper.IsSet("bindAddr") {
			cfg.Port = viper.GetString("bindAddr")
		}
		if viper.IsSet("allowedOrigins") {
			cfg.AllowedOrigins = viper.GetStringSlice("allowedOrigins")
		}
		if viper.IsSet("maxMessageSize") {
			cfg.MaxMessageSize = viper.GetInt64("maxMessageSize")
		}
		if viper.IsSet("clientPage") {
			cfg.ClientPage = viper.GetString("clientPage")
		}
		if viper.IsSet("rateLimit.burst") {
			cfg.RateLimit.Burst = viper.GetInt("rateLimit.burst")
		}
		if viper.IsSet("rateLimit.refillSeconds") {
			cfg.RateLimit.RefillInterval = time.Duration(viper.GetInt("rateLimit.refillSeconds")) * time.Second
		}
	}

	if opts.Bind != "" {
		cfg.Port = opts.Bind
	}

	return cfg
}
