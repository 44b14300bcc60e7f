package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatsync/internal/app"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/profile"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	chatFlag := flag.String("chat", "", "chat id to open at start")
	configFlag := flag.String("config", "", "config file (default ~/.chatsync/config.toml)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = profile.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	profileName := profile.Resolve(*profileFlag, cfg)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fxApp := fx.New(
		app.Module(app.Params{
			Profile:    profileName,
			Config:     cfg,
			ConfigPath: configPath,
			ChatID:     *chatFlag,
		}),
		// The terminal belongs to the TUI; fx lifecycle logs go nowhere.
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)
	if err := fxApp.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fxApp.Run()
}
