package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/yang-jaeyoung/flowledger/internal/cli"
)

var rootCmd = &cobra.Command{Use: "flowledger"}

func main() {
	// Load .env if present; env vars still win for store tuning.
	_ = godotenv.Load()

	defaultRoot := os.Getenv("FLOWLEDGER_ROOT")
	if defaultRoot == "" {
		defaultRoot = ".flowledger"
	}
	rootCmd.PersistentFlags().String("root", defaultRoot, "Storage root directory for the event log")
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
