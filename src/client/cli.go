package client

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/fleetdesk/portal/src/api"
	"github.com/fleetdesk/portal/src/realtime"
)

// Execute is the main entry point for the CLI
func Execute() error {
	flagSet := flag.NewFlagSet("portal-cli", flag.ContinueOnError)
	flagSet.Usage = func() {
		printUsage()
	}

	serverFlag := flagSet.String("server", "", "Server URL (overrides config)")
	tokenFlag := flagSet.String("token", "", "API token (overrides config)")
	outputFlag := flagSet.String("output", "", "Output format: json, table, plain (overrides config)")
	configFlag := flagSet.String("config", "", "Config file path (default: ~/.config/fleetdesk/portal/cli.yml)")
	noColorFlag := flagSet.Bool("no-color", false, "Disable colored output")
	debugFlag := flagSet.Bool("debug", false, "Enable debug logging")
	versionFlag := flagSet.Bool("version", false, "Show version information")
	helpFlag := flagSet.Bool("help", false, "Show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return NewUsageError(err.Error())
	}

	if *versionFlag {
		return printVersion()
	}
	if *helpFlag || flagSet.NArg() == 0 {
		printUsage()
		return nil
	}

	configPath := CLIConfigFile()
	if *configFlag != "" {
		configPath = *configFlag
	}

	config, err := LoadConfigFrom(configPath)
	if err != nil {
		return err
	}

	// Override config with flags
	if *serverFlag != "" {
		config.Server.URL = *serverFlag
	}
	if *tokenFlag != "" {
		config.Auth.Token = *tokenFlag
	}
	if *outputFlag != "" {
		config.Output.Format = *outputFlag
	}
	if *noColorFlag {
		config.Output.NoColor = true
	}
	if *debugFlag {
		config.Debug = true
	}

	args := flagSet.Args()
	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "login":
		return handleLoginCommand(config, configPath)
	case "logout":
		return handleLogoutCommand(config, configPath)
	case "notifications":
		return handleNotificationsCommand(config, commandArgs)
	case "conversations":
		return handleConversationsCommand(config)
	case "messages":
		return handleMessagesCommand(config, commandArgs)
	case "send":
		return handleSendCommand(config, commandArgs)
	case "watch":
		return handleWatchCommand(config, configPath)
	case "tui":
		return runTUI(config, configPath)
	case "config":
		return handleConfigCommand(config, configPath, commandArgs)
	case "version":
		return printVersion()
	default:
		return NewUsageError(fmt.Sprintf("unknown command: %s", command))
	}
}

// printUsage prints the CLI usage text
func printUsage() {
	fmt.Println(`portal-cli - terminal client for the FleetDesk portal

Usage:
  portal-cli [flags] <command> [args]

Commands:
  login                    Authenticate and store the token
  logout                   Forget the stored token
  notifications            List notifications
  notifications read <id>  Mark one notification read
  notifications read-all   Mark all notifications read
  conversations            List conversations
  messages <peer>          Show message history with a peer
  send <peer> <text>       Send a message
  watch                    Stream realtime events to the terminal
  tui                      Interactive mode
  config show|path         Inspect the configuration
  version                  Show version information

Flags:
  --server URL     Server URL (overrides config)
  --token TOKEN    API token (overrides config)
  --output FORMAT  json, table, plain
  --config PATH    Config file path
  --no-color       Disable colored output
  --debug          Enable debug logging`)
}

// handleLoginCommand prompts for a token, verifies it, and stores the
// resolved identity in the config.
func handleLoginCommand(config *CLIConfig, configPath string) error {
	token := config.Auth.Token
	if token == "" {
		fmt.Printf("Server: %s\n", config.ServerURL())
		fmt.Print("API token: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			// Not a terminal; fall back to a line read
			reader := bufio.NewReader(os.Stdin)
			line, readErr := reader.ReadString('\n')
			if readErr != nil {
				return NewUsageError("failed to read token")
			}
			raw = []byte(strings.TrimSpace(line))
		}
		token = strings.TrimSpace(string(raw))
	}
	if token == "" {
		return NewUsageError("no token provided")
	}

	client := api.NewClient(config.ServerURL(), token)
	client.UserAgent = UserAgent()
	user, err := client.CurrentUser(context.Background())
	if err != nil {
		if apiErr, ok := err.(*api.APIError); ok && apiErr.IsAuth() {
			return NewAuthError("token rejected by server")
		}
		return NewConnectionError(err.Error())
	}

	config.Auth.Token = token
	config.Auth.UserID = user.ID
	config.Auth.Username = user.Username
	if err := config.Save(configPath); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s\n", user.Username)
	return nil
}

// handleLogoutCommand clears the stored credentials.
func handleLogoutCommand(config *CLIConfig, configPath string) error {
	config.Auth = AuthConfig{}
	if err := config.Save(configPath); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

// handleNotificationsCommand lists notifications or mutates read state.
func handleNotificationsCommand(config *CLIConfig, args []string) error {
	session, err := NewSession(config)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx := context.Background()
	if err := session.Notifications.Load(ctx); err != nil {
		return NewConnectionError(err.Error())
	}

	if len(args) > 0 {
		switch args[0] {
		case "read":
			if len(args) < 2 {
				return NewUsageError("usage: notifications read <id>")
			}
			if err := session.Notifications.MarkRead(ctx, args[1]); err != nil {
				return NewAPIError(err.Error())
			}
			fmt.Println("Marked read.")
			return nil
		case "read-all":
			if err := session.Notifications.MarkAllRead(ctx); err != nil {
				return NewAPIError(err.Error())
			}
			fmt.Println("All notifications marked read.")
			return nil
		default:
			return NewUsageError(fmt.Sprintf("unknown subcommand: %s", args[0]))
		}
	}

	formatter := NewFormatter(config.Output.Format, config.Output.NoColor)
	fmt.Print(formatter.FormatNotifications(session.Notifications.Notifications(), session.Notifications.UnreadCount()))
	return nil
}

// handleConversationsCommand lists the conversation index.
func handleConversationsCommand(config *CLIConfig) error {
	session, err := NewSession(config)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Conversations.LoadConversations(context.Background()); err != nil {
		return NewConnectionError(err.Error())
	}

	formatter := NewFormatter(config.Output.Format, config.Output.NoColor)
	fmt.Print(formatter.FormatConversations(session.Conversations.Conversations()))
	return nil
}

// handleMessagesCommand shows the history with one peer and marks the
// conversation read, exactly as opening it in a view would.
func handleMessagesCommand(config *CLIConfig, args []string) error {
	if len(args) < 1 {
		return NewUsageError("usage: messages <peer>")
	}

	session, err := NewSession(config)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx := context.Background()
	if err := session.Conversations.LoadConversations(ctx); err != nil {
		return NewConnectionError(err.Error())
	}
	if err := session.Conversations.SelectConversation(ctx, args[0]); err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return NewNotFoundError(fmt.Sprintf("no such peer: %s", args[0]))
		}
		return NewAPIError(err.Error())
	}

	formatter := NewFormatter(config.Output.Format, config.Output.NoColor)
	fmt.Print(formatter.FormatMessages(session.Conversations.Messages(), config.Auth.UserID))
	return nil
}

// handleSendCommand sends one message.
func handleSendCommand(config *CLIConfig, args []string) error {
	if len(args) < 2 {
		return NewUsageError("usage: send <peer> <text>")
	}

	session, err := NewSession(config)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx := context.Background()
	if err := session.Conversations.SelectConversation(ctx, args[0]); err != nil {
		// History is optional for a one-shot send
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if _, err := session.Conversations.Send(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
		return NewAPIError(err.Error())
	}
	fmt.Println("Sent.")
	return nil
}

// handleWatchCommand runs a live session and streams store changes to
// the terminal until interrupted.
func handleWatchCommand(config *CLIConfig, configPath string) error {
	session, err := NewSession(config)
	if err != nil {
		return err
	}
	defer session.Close()

	session.EventTap = func(ev realtime.Event) {
		switch e := ev.(type) {
		case realtime.NotificationEvent:
			fmt.Printf("notification  %s  (%d unread)\n", e.Notification.Title, session.Notifications.UnreadCount())
		case realtime.MessageEvent:
			fmt.Printf("message       %s: %s\n", e.Message.SenderID, e.Message.Content)
		case realtime.PresenceEvent:
			fmt.Printf("presence      %s is %s\n", e.PeerID, e.Status)
		}
	}

	ctx := context.Background()
	if err := session.Start(ctx); err != nil {
		return err
	}

	// Rotate the connection when the token in the config file changes
	watcher, err := NewConfigWatcher(configPath, config.Auth.Token, session.Reauthenticate)
	if err == nil {
		if err := watcher.Start(); err == nil {
			defer watcher.Stop()
		}
	}

	fmt.Printf("Watching as %s (%s). Ctrl-C to stop.\n", config.Auth.Username, session.ConnectionState())
	if session.PollOnly() {
		fmt.Println("Push channel unavailable; polling snapshots instead.")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	fmt.Println("\nStopping.")
	return nil
}

// handleConfigCommand inspects the configuration.
func handleConfigCommand(config *CLIConfig, configPath string, args []string) error {
	sub := "show"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "path":
		fmt.Println(configPath)
		return nil
	case "show":
		fmt.Printf("server:        %s\n", config.ServerURL())
		fmt.Printf("realtime:      %s\n", config.RealtimeURL())
		fmt.Printf("poll interval: %s\n", config.PollInterval())
		fmt.Printf("output:        %s\n", config.Output.Format)
		if config.Auth.Username != "" {
			fmt.Printf("logged in as:  %s\n", config.Auth.Username)
		} else {
			fmt.Println("logged in as:  (not logged in)")
		}
		return nil
	default:
		return NewUsageError(fmt.Sprintf("unknown config subcommand: %s", sub))
	}
}
