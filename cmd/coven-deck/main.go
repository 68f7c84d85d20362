// ABOUTME: Interactive terminal client for a coven gateway over websocket.
// ABOUTME: Provides readline-style input, session switching, and live event output.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-client/internal/client"
	"github.com/2389/coven-client/internal/config"
	"github.com/2389/coven-client/internal/content"
	"github.com/2389/coven-client/internal/identity"
	"github.com/2389/coven-client/internal/protocol"
)

var (
	dimText   = color.New(color.Faint)
	toolText  = color.New(color.FgYellow)
	errText   = color.New(color.FgRed)
	okText    = color.New(color.FgGreen)
	crossText = color.New(color.FgCyan)
)

func main() {
	configPath := flag.String("config", "", "Config file path (default: "+config.DefaultPath()+")")
	host := flag.String("host", "", "Gateway host (overrides config)")
	port := flag.Int("port", 0, "Gateway port (overrides config)")
	token := flag.String("token", "", "Gateway auth token (overrides config and COVEN_TOKEN)")
	session := flag.String("session", "", "Session key to bind to (overrides config)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, *host, *port, *token, *session)

	logger := buildLogger(cfg.Logging, *verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist. An explicit -config path must exist.
func loadConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, host string, port int, token, session string) {
	if host != "" {
		cfg.Gateway.Host = host
	}
	if port != 0 {
		cfg.Gateway.Port = port
	}
	if token != "" {
		cfg.Gateway.Token = token
	} else if cfg.Gateway.Token == "" {
		cfg.Gateway.Token = os.Getenv("COVEN_TOKEN")
	}
	if session != "" {
		cfg.Client.Session = session
	}
}

func buildLogger(cfg config.LoggingConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var signer identity.Signer
	if key := cfg.Identity.SSHKey; key != "" {
		s, err := identity.LoadSSHSigner(key, os.Getenv("COVEN_SSH_PASSPHRASE"))
		if err != nil {
			return fmt.Errorf("loading ssh signing key: %w", err)
		}
		signer = s
		logger.Debug("device signing via ssh key", "path", key, "deviceId", s.DeviceID())
	}

	c, err := client.New(client.Options{
		ClientID:             cfg.Client.ID,
		Mode:                 cfg.Client.Mode,
		IdentityPath:         cfg.Identity.Path,
		Signer:               signer,
		RequestTimeout:       cfg.Timeouts.Request,
		HandshakeTimeout:     cfg.Timeouts.Handshake,
		ReconnectBase:        cfg.Reconnect.Base,
		ReconnectGrowth:      cfg.Reconnect.Growth,
		ReconnectCap:         cfg.Reconnect.Cap,
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		Logger:               logger,
		Events: client.Events{
			OnConnected: func(hello *protocol.HelloPayload) {
				okText.Printf("[connected] gateway %s\n", hello.Server.Version)
			},
			OnDisconnected: func(err error) {
				if err != nil {
					dimText.Printf("[disconnected] %v\n", err)
				} else {
					dimText.Println("[disconnected]")
				}
			},
			OnChat:             printChat,
			OnCrossSessionChat: printCrossSession,
			OnAgent:            printAgent,
			OnError: func(err error) {
				errText.Printf("[error] %v\n", err)
			},
		},
	})
	if err != nil {
		return err
	}
	defer c.Disconnect()

	c.SetSession(cfg.Client.Session)

	target := client.Target{
		Host:     cfg.Gateway.Host,
		Port:     cfg.Gateway.Port,
		Scheme:   cfg.Gateway.Scheme,
		Token:    cfg.Gateway.Token,
		Password: cfg.Gateway.Password,
	}
	fmt.Printf("coven-deck connecting to %s:%d\n", target.Host, target.Port)
	if err := c.Connect(ctx, target); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	return inputLoop(ctx, c)
}

func inputLoop(ctx context.Context, c *client.Client) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("[%s]> ", c.CurrentSession())

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		if strings.HasPrefix(input, "/") {
			if err := handleCommand(ctx, c, input); err != nil {
				errText.Printf("[error] %v\n", err)
			}
			fmt.Println()
			continue
		}

		result, err := c.SendMessage(ctx, c.CurrentSession(), input)
		if err != nil {
			errText.Printf("[error] %v\n", err)
		} else if result.RunID != "" {
			dimText.Printf("[run %s]\n", result.RunID)
		}
		fmt.Println()
	}
}

func handleCommand(ctx context.Context, c *client.Client, input string) error {
	cmd, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)

	switch cmd {
	case "/help":
		printHelp()
		return nil
	case "/sessions":
		return listSessions(ctx, c)
	case "/use":
		if args == "" {
			return fmt.Errorf("usage: /use <session-key>")
		}
		c.SetSession(args)
		fmt.Printf("Now using session %s\n", args)
		return nil
	case "/watch":
		if args == "" {
			return fmt.Errorf("usage: /watch <session-key>")
		}
		c.WatchSession(args)
		fmt.Printf("Watching %s\n", args)
		return nil
	case "/unwatch":
		if args == "" {
			return fmt.Errorf("usage: /unwatch <session-key>")
		}
		c.UnwatchSession(args)
		fmt.Printf("Stopped watching %s\n", args)
		return nil
	case "/history":
		return showHistory(ctx, c, args)
	case "/inject":
		if args == "" {
			return fmt.Errorf("usage: /inject <message>")
		}
		return c.Inject(ctx, c.CurrentSession(), args, "coven-deck")
	case "/model":
		return patchModel(ctx, c, args)
	case "/label":
		return patchLabel(ctx, c, args)
	case "/config":
		return showConfig(ctx, c)
	case "/restart":
		delayMs := 0
		if args != "" {
			d, err := strconv.Atoi(args)
			if err != nil {
				return fmt.Errorf("usage: /restart [delay-ms]")
			}
			delayMs = d
		}
		if err := c.Restart(ctx, "requested from coven-deck", delayMs); err != nil {
			return err
		}
		fmt.Println("Restart requested")
		return nil
	default:
		return fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /sessions        List sessions")
	fmt.Println("  /use <key>       Switch the bound session")
	fmt.Println("  /watch <key>     Subscribe to another session's finished messages")
	fmt.Println("  /unwatch <key>   Drop a session subscription")
	fmt.Println("  /history [n]     Show recent messages for the bound session")
	fmt.Println("  /inject <msg>    Insert a note into the transcript without an agent turn")
	fmt.Println("  /model <id>      Set the session model (aliases: opus, sonnet, haiku)")
	fmt.Println("  /label <text>    Set the session label")
	fmt.Println("  /config          Show gateway config")
	fmt.Println("  /restart [ms]    Restart the gateway")
	fmt.Println("  /help            Show this help")
	fmt.Println("  /quit            Exit")
}

func listSessions(ctx context.Context, c *client.Client) error {
	sessions, err := c.ListSessions(ctx, protocol.SessionsListParams{IncludeDerivedTitles: true})
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions")
		return nil
	}

	fmt.Println("Sessions:")
	for _, s := range sessions {
		title := s.Label
		if title == "" {
			title = s.DerivedTitle
		}
		line := fmt.Sprintf("  %s", s.Key)
		if title != "" {
			line += fmt.Sprintf(": %s", title)
		}
		if s.Model != "" {
			line += fmt.Sprintf(" [%s]", s.Model)
		}
		if s.MessageCount > 0 {
			line += fmt.Sprintf(" (%d messages)", s.MessageCount)
		}
		fmt.Println(line)
	}
	return nil
}

func showHistory(ctx context.Context, c *client.Client, args string) error {
	limit := 20
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n <= 0 {
			return fmt.Errorf("usage: /history [count]")
		}
		limit = n
	}

	result, err := c.History(ctx, c.CurrentSession(), limit)
	if err != nil {
		return err
	}
	if len(result.Messages) == 0 {
		fmt.Println("No history")
		return nil
	}

	fmt.Println(strings.Repeat("-", 60))
	for _, raw := range result.Messages {
		role, text := renderHistoryRow(raw)
		switch role {
		case "user":
			fmt.Printf("%s %s\n", crossText.Sprint("you:"), truncate(text, 200))
		case "assistant":
			fmt.Printf("%s %s\n", okText.Sprint("agent:"), truncate(text, 200))
		default:
			if text != "" {
				dimText.Printf("[%s] %s\n", role, truncate(text, 120))
			}
		}
	}
	fmt.Println(strings.Repeat("-", 60))
	return nil
}

func patchModel(ctx context.Context, c *client.Client, args string) error {
	if args == "" {
		return fmt.Errorf("usage: /model <id>")
	}
	patch := protocol.SessionPatch{Key: c.CurrentSession(), Model: &args}
	if err := c.PatchSession(ctx, patch); err != nil {
		return err
	}
	fmt.Printf("Model set to %s\n", client.NormalizeModelID(args))
	return nil
}

func patchLabel(ctx context.Context, c *client.Client, args string) error {
	if args == "" {
		return fmt.Errorf("usage: /label <text>")
	}
	patch := protocol.SessionPatch{Key: c.CurrentSession(), Label: &args}
	if err := c.PatchSession(ctx, patch); err != nil {
		return err
	}
	fmt.Printf("Label set to %s\n", args)
	return nil
}

// renderHistoryRow pulls a displayable role and text out of one raw
// transcript row.
func renderHistoryRow(raw json.RawMessage) (role, text string) {
	var m struct {
		Role string `json:"role"`
	}
	_ = json.Unmarshal(raw, &m)

	extracted := content.Extract(raw, nil)
	return m.Role, extracted.Text
}

func showConfig(ctx context.Context, c *client.Client) error {
	cfg, err := c.ConfigGet(ctx)
	if err != nil {
		return err
	}
	fmt.Println(strings.Repeat("-", 60))
	fmt.Print(cfg.Raw)
	if !strings.HasSuffix(cfg.Raw, "\n") {
		fmt.Println()
	}
	fmt.Println(strings.Repeat("-", 60))
	if cfg.BaseHash != "" {
		dimText.Printf("hash: %s\n", cfg.BaseHash)
	}
	return nil
}

func printChat(n client.ChatNotice) {
	switch n.State {
	case "delta":
		fmt.Print(n.Text)
	case "final":
		if n.Text != "" {
			fmt.Printf("\n%s %s\n", okText.Sprint("agent:"), n.Text)
		}
		for _, img := range n.Images {
			dimText.Printf("[image] %s\n", truncate(img, 80))
		}
	case "error":
		errText.Printf("\n[error] %s\n", n.Err)
	case "aborted":
		dimText.Println("\n[aborted]")
	}
}

func printCrossSession(n client.ChatNotice) {
	crossText.Printf("\n[%s] %s\n", n.SessionKey, truncate(n.Text, 200))
}

func printAgent(n client.AgentNotice) {
	if n.Summary == "" {
		return
	}
	switch n.Stream {
	case "tool":
		toolText.Printf("[%s]\n", n.Summary)
	default:
		dimText.Printf("[%s]\n", n.Summary)
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
