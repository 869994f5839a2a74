// Command capyhub is the library-level CLI counterpart to the Hub: it
// discovers Agents on the local network via mDNS and drives one
// command (list, info, upload, shortcuts, delete, restart) against a
// chosen Agent over internal/hubclient. It intentionally carries no
// bundled UI; a desktop shell is a non-goal of this module.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/capydeploy/capydeploy/internal/hubclient"
	"github.com/capydeploy/capydeploy/pkg/auth"
	"github.com/capydeploy/capydeploy/pkg/config"
	"github.com/capydeploy/capydeploy/pkg/discovery"
	"github.com/capydeploy/capydeploy/pkg/protocol"
	"github.com/capydeploy/capydeploy/pkg/version"
)

func main() {
	var (
		agentAddr   string
		timeout     time.Duration
		showVersion bool
	)

	flag.StringVar(&agentAddr, "agent", "", "Agent host:port to connect to directly, bypassing mDNS discovery")
	flag.DurationVar(&timeout, "discover-timeout", 3*time.Second, "mDNS discovery timeout")
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("CapyDeploy Hub", version.Full())
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	command, rest := args[0], args[1:]

	if command == "list" {
		if err := runList(timeout); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	if isLocalConfigCommand(command) {
		if err := runLocalConfigCommand(command, rest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	if agentAddr == "" {
		fmt.Fprintln(os.Stderr, "-agent host:port is required for this command")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := runCommand(ctx, command, rest, agentAddr); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: capyhub [-agent host:port] <command> [args...]

commands:
  list                                   discover agents on the local network
  info                                   show the agent's identity and capabilities
  config                                 show the agent's install path
  users                                  list Steam users known to the agent
  shortcuts <userID>                     list a user's Steam shortcuts
  delete-shortcut <userID> <appID>       remove a shortcut, keeping installed files
  delete-game <appID>                    remove a shortcut and its installed files
  restart-steam                         restart Steam on the agent's machine
  upload <localDir> <gameName> <exe>     upload a game directory and create a shortcut
  upload-preset <name>                   upload using a saved preset

local commands (no -agent required):
  agents                                 list saved agent addresses
  save-agent <name> <host:port>          save an agent address for reuse
  remove-agent <host:port>               remove a saved agent address
  uploads                                list saved upload presets
  save-upload <name> <localDir> <exe>    save an upload preset
  remove-upload <name>                   remove a saved upload preset`)
}

func isLocalConfigCommand(command string) bool {
	switch command {
	case "agents", "save-agent", "remove-agent", "uploads", "save-upload", "remove-upload":
		return true
	}
	return false
}

func runLocalConfigCommand(command string, args []string) error {
	switch command {
	case "agents":
		agents, err := config.GetAgents()
		if err != nil {
			return err
		}
		for _, a := range agents {
			fmt.Printf("%-20s %s\n", a.Name, a.Addr)
		}
		return nil

	case "save-agent":
		if len(args) != 2 {
			return fmt.Errorf("usage: save-agent <name> <host:port>")
		}
		if err := config.AddAgent(config.SavedAgent{Name: args[0], Addr: args[1]}); err != nil {
			return err
		}
		fmt.Println("saved")
		return nil

	case "remove-agent":
		if len(args) != 1 {
			return fmt.Errorf("usage: remove-agent <host:port>")
		}
		if err := config.RemoveAgent(args[0]); err != nil {
			return err
		}
		fmt.Println("removed")
		return nil

	case "uploads":
		uploads, err := config.GetUploads()
		if err != nil {
			return err
		}
		for _, u := range uploads {
			fmt.Printf("%-20s %-30s %s\n", u.GameName, u.LocalPath, u.Executable)
		}
		return nil

	case "save-upload":
		if len(args) != 3 {
			return fmt.Errorf("usage: save-upload <name> <localDir> <exe>")
		}
		if err := config.AddUpload(config.SavedUpload{GameName: args[0], LocalPath: args[1], Executable: args[2]}); err != nil {
			return err
		}
		fmt.Println("saved")
		return nil

	case "remove-upload":
		if len(args) != 1 {
			return fmt.Errorf("usage: remove-upload <name>")
		}
		preset, err := findSavedUpload(args[0])
		if err != nil {
			return err
		}
		if err := config.RemoveUpload(preset.ID); err != nil {
			return err
		}
		fmt.Println("removed")
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func findSavedUpload(name string) (config.SavedUpload, error) {
	uploads, err := config.GetUploads()
	if err != nil {
		return config.SavedUpload{}, err
	}
	for _, u := range uploads {
		if u.GameName == name || u.ID == name {
			return u, nil
		}
	}
	return config.SavedUpload{}, fmt.Errorf("no saved upload preset named %q", name)
}

func runList(timeout time.Duration) error {
	client := discovery.NewClient()
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	agents, err := client.Discover(ctx, timeout)
	if err != nil {
		return fmt.Errorf("discover agents: %w", err)
	}
	if len(agents) == 0 {
		fmt.Println("no agents found")
		return nil
	}
	for _, a := range agents {
		fmt.Printf("%-20s %-12s %s\n", a.Info.Name, a.Info.Platform, a.WebSocketAddress())
	}
	return nil
}

func runCommand(ctx context.Context, command string, args []string, agentAddr string) error {
	tokenDir, err := tokenStoreDir()
	if err != nil {
		return fmt.Errorf("resolve token store directory: %w", err)
	}
	tokens, err := auth.NewTokenStore(tokenDir)
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}

	hubName, err := os.Hostname()
	if err != nil {
		hubName = "capyhub"
	}

	client := hubclient.NewClient("ws://"+agentAddr+"/ws", hubName, version.Version, discovery.GetPlatform(), tokens)
	// A manually-addressed agent has no cached discovery ID, so the
	// address itself is used as the token store's lookup key.
	client.SetAgentID(agentAddr)
	client.SetPairingCallback(func(code string, expiresIn int) {
		fmt.Printf("pairing required: enter code %s on the agent (expires in %ds)\n", code, expiresIn)
	})
	client.SetCallbacks(
		func() { log.Println("disconnected from agent") },
		func(ev protocol.UploadProgressEvent) {
			fmt.Printf("\rupload: %s %.1f%%", ev.CurrentFile, ev.Percentage)
		},
		nil, nil, nil, nil,
	)

	if err := client.Connect(ctx); err != nil {
		if !errors.Is(err, hubclient.ErrPairingRequired) {
			return fmt.Errorf("connect: %w", err)
		}
		fmt.Print("pairing code: ")
		var code string
		if _, err := fmt.Scanln(&code); err != nil {
			return fmt.Errorf("read pairing code: %w", err)
		}
		if err := client.ConfirmPairing(ctx, code); err != nil {
			return fmt.Errorf("confirm pairing: %w", err)
		}
	}
	defer client.Close()

	switch command {
	case "info":
		info, err := client.GetInfo(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s) v%s, capabilities=%v\n", info.Name, info.Platform, info.Version, info.Capabilities)
	case "config":
		cfg, err := client.GetConfig(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("install path: %s\n", cfg.InstallPath)
	case "users":
		users, err := client.GetSteamUsers(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Printf("%s  %s\n", u.ID, u.Name)
		}
	case "restart-steam":
		if _, err := client.RestartSteam(ctx); err != nil {
			return err
		}
		fmt.Println("steam restarted")
	default:
		return runArgCommand(ctx, client, command, args)
	}
	return nil
}

func runArgCommand(ctx context.Context, client *hubclient.Client, command string, args []string) error {
	switch command {
	case "shortcuts":
		if len(args) != 1 {
			return fmt.Errorf("usage: shortcuts <userID>")
		}
		userID, err := parseUint32(args[0])
		if err != nil {
			return err
		}
		shortcuts, err := client.ListShortcuts(ctx, userID)
		if err != nil {
			return err
		}
		for _, sc := range shortcuts {
			fmt.Printf("%d  %-30s  %s\n", sc.AppID, sc.Name, sc.Exe)
		}
		return nil

	case "delete-shortcut":
		if len(args) != 2 {
			return fmt.Errorf("usage: delete-shortcut <userID> <appID>")
		}
		userID, err := parseUint32(args[0])
		if err != nil {
			return err
		}
		appID, err := parseUint32(args[1])
		if err != nil {
			return err
		}
		if err := client.DeleteShortcut(ctx, userID, appID, true); err != nil {
			return err
		}
		fmt.Println("shortcut deleted")
		return nil

	case "delete-game":
		if len(args) != 1 {
			return fmt.Errorf("usage: delete-game <appID>")
		}
		appID, err := parseUint32(args[0])
		if err != nil {
			return err
		}
		result, err := client.DeleteGame(ctx, appID)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", result.GameName)
		return nil

	case "upload":
		if len(args) != 3 {
			return fmt.Errorf("usage: upload <localDir> <gameName> <exe>")
		}
		localDir, gameName, exe := args[0], args[1], args[2]
		resp, err := client.UploadDirectory(ctx, localDir, protocol.UploadConfig{
			GameName:   gameName,
			Executable: exe,
		}, nil, true, &protocol.ShortcutConfig{Name: gameName, Exe: exe})
		if err != nil {
			return err
		}
		fmt.Printf("upload complete, app id %d\n", resp.AppID)
		return nil

	case "upload-preset":
		if len(args) != 1 {
			return fmt.Errorf("usage: upload-preset <name>")
		}
		preset, err := findSavedUpload(args[0])
		if err != nil {
			return err
		}
		resp, err := client.UploadDirectory(ctx, preset.LocalPath, protocol.UploadConfig{
			GameName:      preset.GameName,
			Executable:    preset.Executable,
			LaunchOptions: preset.LaunchOptions,
		}, nil, true, &protocol.ShortcutConfig{Name: preset.GameName, Exe: preset.Executable, LaunchOptions: preset.LaunchOptions})
		if err != nil {
			return err
		}
		fmt.Printf("upload complete, app id %d\n", resp.AppID)
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return uint32(v), nil
}

func tokenStoreDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return dir + "/capydeploy-hub", nil
}
