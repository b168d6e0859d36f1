package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/warelay/internal/config"
	"github.com/nextlevelbuilder/warelay/internal/store/db"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("warelay doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Database:")
	dsn := cfg.DatabaseDSN()
	backend := "sqlite"
	if db.IsPostgresDSN(dsn) {
		backend = "postgres"
	}
	fmt.Printf("    %-12s %s\n", "Backend:", backend)
	handle, dbErr := db.Open(dsn)
	if dbErr != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", dbErr)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if pingErr := handle.Ping(ctx); pingErr != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", pingErr)
		} else {
			fmt.Printf("    %-12s OK\n", "Status:")
		}
		cancel()
		handle.Close()
	}

	fmt.Println()
	fmt.Println("  Provider:")
	fmt.Printf("    %-12s %s (%s)\n", "Name:", cfg.Provider.Name, cfg.Provider.Model)
	switch cfg.Provider.Name {
	case "anthropic":
		checkKey("API key", cfg.Provider.AnthropicAPIKey)
	case "openai":
		checkKey("API key", cfg.Provider.OpenAIAPIKey)
	}

	fmt.Println()
	fmt.Println("  Bridge:")
	fmt.Printf("    %-12s %s\n", "Base URL:", cfg.Bridge.BaseURL)

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-12s %s:%d\n", "Listen:", cfg.Gateway.Host, cfg.Gateway.Port)
	if cfg.Gateway.Token == "" {
		fmt.Printf("    %-12s NOT SET (operator API is unauthenticated)\n", "Token:")
	} else {
		fmt.Printf("    %-12s set\n", "Token:")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkKey(name, key string) {
	if key == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := key
	if len(key) > 8 {
		masked = key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}
