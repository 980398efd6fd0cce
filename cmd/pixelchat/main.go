package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pixelchat/internal/adapter/tui/chat"
	"pixelchat/internal/infra/config"
	"pixelchat/internal/infra/logger"
	"pixelchat/internal/infra/tracer"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	args := os.Args[1:]
	command := "chat"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}
	for _, a := range args {
		if a == "--help" || a == "-h" {
			command = "help"
		}
	}

	flags := parseFlags(args)

	var err error
	switch command {
	case "help":
		showUsage()
		return
	case "chat":
		err = runChat(flags)
	case "serve":
		err = runServe(flags)
	case "doctor":
		err = runDoctor(flags)
	case "encrypt":
		err = runEncrypt(args)
	case "version":
		fmt.Println("pixelchat", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'pixelchat --help' for usage information.\n", command)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`pixelchat - chat with an image model from your terminal

USAGE:
    pixelchat [COMMAND] [FLAGS]

COMMANDS:
    chat        Start the terminal chat (default)
    serve       Run the websocket gateway without a terminal UI
    doctor      Check config, API keys and connectivity
    encrypt     Encrypt a secret for config.yaml (reads PIXELCHAT_CONFIG_KEY)
    version     Print the version

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --model NAME       Image model (overrides image.provider.model)
    --key KEY          Image provider API key
    --addr HOST:PORT   Gateway listen address
    --gateway          Also run the gateway while chatting

CONFIGURATION:
    Config file: ./config.yaml (optional; defaults apply without it)
    Environment: PIXELCHAT_* variables override config

EXAMPLES:
    pixelchat --key sk-or-...
    pixelchat chat --gateway
    PIXELCHAT_GATEWAY_TOKENS=secret pixelchat serve --addr 127.0.0.1:8787
    PIXELCHAT_CONFIG_KEY=pass pixelchat encrypt sk-or-...`)
}

// cliFlags holds the flags shared by every command.
type cliFlags struct {
	ConfigPath string
	Model      string
	APIKey     string
	Addr       string
	Gateway    bool
}

// parseFlags extracts the known flags from args. Unknown arguments are
// ignored so subcommands can read their own positionals.
func parseFlags(args []string) cliFlags {
	var flags cliFlags
	value := func(i *int, name string) (string, bool) {
		a := args[*i]
		if v, ok := strings.CutPrefix(a, name+"="); ok {
			return v, true
		}
		if a == name && *i+1 < len(args) {
			*i++
			return args[*i], true
		}
		return "", false
	}
	for i := 0; i < len(args); i++ {
		if v, ok := value(&i, "--config"); ok {
			flags.ConfigPath = v
			continue
		}
		if v, ok := value(&i, "--model"); ok {
			flags.Model = v
			continue
		}
		if v, ok := value(&i, "--key"); ok {
			flags.APIKey = v
			continue
		}
		if v, ok := value(&i, "--addr"); ok {
			flags.Addr = v
			continue
		}
		if args[i] == "--gateway" {
			flags.Gateway = true
		}
	}
	return flags
}

func configPath(flags cliFlags) string {
	if flags.ConfigPath != "" {
		return flags.ConfigPath
	}
	if p := os.Getenv("PIXELCHAT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// loadConfig reads the config file and applies flag overrides on top of the
// environment.
func loadConfig(flags cliFlags) (*config.Config, error) {
	cfg, err := config.Load(configPath(flags))
	if err != nil {
		return nil, err
	}
	if flags.Model != "" {
		cfg.Image.Provider.Model = flags.Model
	}
	if flags.APIKey != "" {
		cfg.Image.Provider.APIKey = flags.APIKey
		if cfg.Text.APIKey == "" {
			cfg.Text.APIKey = flags.APIKey
		}
	}
	if flags.Addr != "" {
		cfg.Gateway.Addr = flags.Addr
	}
	if flags.Gateway {
		cfg.Gateway.Enabled = true
	}
	return cfg, config.Validate(cfg)
}

func runChat(flags cliFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog, err := logger.NewForTerminal(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	rt, err := buildServices(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfg.Gateway.Enabled {
		srv, err := buildGateway(cfg, rt, log)
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Error("gateway server error", "error", err)
			}
		}()
	}

	log.Info("pixelchat starting",
		"version", version,
		"image_backend", cfg.Image.Provider.Type,
		"image_model", cfg.Image.Provider.Model,
		"text_model", cfg.Text.Model,
		"gateway", cfg.Gateway.Enabled,
	)
	return chat.NewApp(rt.Session, cfg.Image.Provider.Model, log).Run(ctx)
}

func runServe(flags cliFlags) error {
	flags.Gateway = true
	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Error("tracer shutdown error", "error", err)
		}
	}()

	rt, err := buildServices(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := buildGateway(cfg, rt, log)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	log.Info("pixelchat gateway starting",
		"version", version,
		"addr", cfg.Gateway.Addr,
		"image_backend", cfg.Image.Provider.Type,
		"image_model", cfg.Image.Provider.Model,
		"metrics", cfg.Metrics.Enabled,
	)
	return srv.Start(ctx)
}

// runEncrypt prints an "enc:" value for config.yaml.
func runEncrypt(args []string) error {
	passphrase := os.Getenv("PIXELCHAT_CONFIG_KEY")
	if passphrase == "" {
		return errors.New("set PIXELCHAT_CONFIG_KEY to the passphrase used when loading config")
	}
	var secret string
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			secret = a
			break
		}
	}
	if secret == "" {
		return errors.New("usage: pixelchat encrypt <secret>")
	}
	enc, err := config.EncryptValue(secret, passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}
