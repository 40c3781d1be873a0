// Auralink is the backend for the AuraLink ambient display.
//
// It subscribes to sensor readings published by the display over MQTT,
// answers each one with a short weather-aware quote and a summary of
// recent unread email, and publishes the result back for the display to
// render. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	auralink serve                 Run the bridge until interrupted
//	auralink init [dir]            Write an example config.yaml
//	auralink quote <temp> <hum>    Generate one quote (for testing)
//	auralink inbox                 Poll the mailbox once and summarize
//	auralink version               Print version and build information
//	auralink -o json version       Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/auralink/auralink-bridge/internal/bridge"
	"github.com/auralink/auralink-bridge/internal/buildinfo"
	"github.com/auralink/auralink-bridge/internal/config"
	"github.com/auralink/auralink-bridge/internal/email"
	"github.com/auralink/auralink-bridge/internal/httpkit"
	"github.com/auralink/auralink-bridge/internal/influx"
	"github.com/auralink/auralink-bridge/internal/llm"
	"github.com/auralink/auralink-bridge/internal/mqtt"
	"github.com/auralink/auralink-bridge/internal/textgen"
	"github.com/auralink/auralink-bridge/internal/usage"
)

// shutdownTimeout bounds how long serve waits for in-flight readings
// before disconnecting from the broker.
const shutdownTimeout = 10 * time.Second

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. ctx controls the lifetime of the
// process, structured logs go to stdout, and args is os.Args[1:].
// Arguments are parsed by hand to keep flag.CommandLine globals out of
// tests. run returns nil on clean shutdown.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case command == "" && !strings.HasPrefix(args[i], "-"):
			command = args[i]
		case command != "":
			// Negative temperatures look like flags; pass them through.
			cmdArgs = append(cmdArgs, args[i])
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "quote":
		if len(cmdArgs) != 2 {
			return fmt.Errorf("usage: auralink quote <temperature> <humidity>")
		}
		return runQuote(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "inbox":
		return runInbox(ctx, stdout, stderr, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "AuraLink Bridge - sensor readings in, quotes and inbox summaries out")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: auralink [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve               Run the MQTT bridge until interrupted")
	fmt.Fprintln(w, "  init [dir]          Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  quote <temp> <hum>  Generate one quote for a reading")
	fmt.Fprintln(w, "  inbox               Poll the mailbox once and print the summary")
	fmt.Fprintln(w, "  version             Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

// runServe connects to the broker and handles sensor readings until ctx
// is cancelled or the process receives SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level, cfg.LogFormat)

	logger.Info("starting AuraLink bridge",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"config", cfgPath,
	)
	for _, w := range cfg.Warnings() {
		logger.Warn("configuration warning", "detail", w)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	llmClient := createLLMClient(cfg, logger)
	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := llmClient.Ping(pingCtx); err != nil {
		logger.Warn("completion service unreachable, fallback text will be used until it recovers",
			"provider", cfg.LLM.Provider, "error", err)
	}
	pingCancel()

	tokens := usage.NewDailyTokens(nil)
	gen := textgen.New(llmClient, cfg.LLM.Model, tokens, logger)
	mailbox := email.NewReader(cfg.Email, logger)

	var br *bridge.Bridge
	client := mqtt.New(cfg.MQTT, func(ctx context.Context, topic string, payload []byte) {
		br.HandleMessage(ctx, topic, payload)
	}, logger)

	br = bridge.New(bridge.Config{
		BackendTopic:       cfg.MQTT.BackendTopic,
		EmailCheckInterval: cfg.Bridge.EmailCheckInterval(),
		MaxEmails:          cfg.Bridge.MaxEmails,
		SensorLog:          cfg.Bridge.SensorLog,
		HandlerTimeout:     time.Duration(cfg.Bridge.HandlerTimeoutSec) * time.Second,
	}, mailbox, gen, client, logger)
	br.SetTokenCounter(tokens)

	if cfg.InfluxDB.Configured() {
		sink := influx.New(cfg.InfluxDB, logger)
		defer sink.Close()

		healthCtx, healthCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := sink.Health(healthCtx); err != nil {
			logger.Warn("influxdb health check failed, writes may fail", "url", cfg.InfluxDB.URL, "error", err)
		}
		healthCancel()

		br.SetSensorSink(sink)
		logger.Info("influxdb sink enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if err := client.Start(ctx); err != nil {
		return err
	}
	logger.Info("bridge running",
		"sensor_topic", cfg.MQTT.SensorTopic,
		"backend_topic", cfg.MQTT.BackendTopic,
		"model", cfg.LLM.Model,
		"email_check_interval", cfg.Bridge.EmailCheckInterval(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := client.Stop(shutdownCtx); err != nil {
		logger.Warn("mqtt shutdown incomplete", "error", err)
	}

	in, out, requests := tokens.Snapshot()
	logger.Info("bridge stopped", "tokens_today", in+out, "llm_requests_today", requests)
	return nil
}

// runQuote generates a single quote for the given reading.
func runQuote(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt string, args []string) error {
	temperature, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid temperature %q: %w", args[0], err)
	}
	humidity, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid humidity %q: %w", args[1], err)
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, slog.LevelWarn, "text")

	gen := textgen.New(createLLMClient(cfg, logger), cfg.LLM.Model, nil, logger)
	quote := gen.GenerateQuote(ctx, temperature, humidity)

	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(map[string]any{
			"temperature": temperature,
			"humidity":    humidity,
			"quote":       quote,
		})
	}
	fmt.Fprintln(stdout, quote)
	return nil
}

// runInbox polls the mailbox once and prints the summary. Fetched
// messages are marked read unless email.peek is set.
func runInbox(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.Email.Configured() {
		return fmt.Errorf("email is not configured (set email.host and email.username)")
	}
	logger := newLogger(stderr, slog.LevelWarn, "text")

	items := email.NewReader(cfg.Email, logger).FetchRecentUnread(ctx, cfg.Bridge.MaxEmails)
	gen := textgen.New(createLLMClient(cfg, logger), cfg.LLM.Model, nil, logger)
	summary, urgency := gen.SummarizeEmails(ctx, items)

	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(map[string]any{
			"count":         len(items),
			"email_summary": summary,
			"urgency":       urgency,
		})
	}
	for _, it := range items {
		fmt.Fprintf(stdout, "- %s: %s\n", it.Sender, it.Subject)
	}
	fmt.Fprintf(stdout, "%s [%s]\n", summary, urgency)
	return nil
}

// newLogger creates a structured logger writing to w at the given level
// in the given format ("json" or anything else for text).
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. Returns the
// parsed config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// createLLMClient builds the completion client. The configured provider
// serves every model unless llm.routes sends a model elsewhere.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	timeout := cfg.LLM.Timeout()
	providers := map[string]func() llm.Client{
		"openai": func() llm.Client {
			return llm.NewOpenAIClient(cfg.LLM.OpenAI.BaseURL, cfg.LLM.OpenAI.APIKey, timeout, logger)
		},
		"ollama": func() llm.Client {
			var opts []httpkit.ClientOption
			if cfg.LLM.Ollama.InsecureSkipVerify {
				opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
			}
			return llm.NewOllamaClient(cfg.LLM.Ollama.URL, timeout, logger, opts...)
		},
		"anthropic": func() llm.Client {
			return llm.NewAnthropicClient(cfg.LLM.Anthropic.BaseURL, cfg.LLM.Anthropic.APIKey, timeout, logger)
		},
	}

	primary := providers[cfg.LLM.Provider]()
	if len(cfg.LLM.Routes) == 0 {
		return primary
	}

	multi := llm.NewMultiClient(primary)
	multi.AddProvider(cfg.LLM.Provider, primary)
	built := map[string]bool{cfg.LLM.Provider: true}
	for model, provider := range cfg.LLM.Routes {
		if !built[provider] {
			multi.AddProvider(provider, providers[provider]())
			built[provider] = true
		}
		multi.AddModel(model, provider)
		logger.Debug("llm route", "model", model, "provider", provider)
	}
	return multi
}
