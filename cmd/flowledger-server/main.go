// cmd/flowledger-server/main.go
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	internal_http "github.com/yang-jaeyoung/flowledger/internal/http"
	"github.com/yang-jaeyoung/flowledger/internal/log"
	internal_storage "github.com/yang-jaeyoung/flowledger/internal/storage"
	"github.com/yang-jaeyoung/flowledger/pkg/service"
)

var rootCmd = &cobra.Command{Use: "flowledger-server"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the workflow operation surface over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		// Load .env if present
		if err := godotenv.Load(); err != nil {
			fmt.Printf("No .env file found or failed to load: %v. Using flags and env vars.\n", err)
		}

		root, _ := cmd.Flags().GetString("root")
		if root == "" {
			root = os.Getenv("FLOWLEDGER_ROOT")
		}
		if root == "" {
			fmt.Println("Error: --root flag or FLOWLEDGER_ROOT env var required")
			os.Exit(1)
		}
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = os.Getenv("PORT")
		}
		if port == "" {
			port = "8080"
		}

		store, err := internal_storage.InitStore(root)
		if err != nil {
			fmt.Printf("Failed to open store at %s: %v\n", root, err)
			os.Exit(1)
		}
		defer store.Close()

		svc, err := service.NewWorkflowService(store, log.GetLogger())
		if err != nil {
			fmt.Printf("Failed to load state: %v\n", err)
			os.Exit(1)
		}
		defer svc.Close()

		if err := internal_http.StartServer(port, svc); err != nil {
			fmt.Printf("Server failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func main() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("root", "", "Storage root directory (optional if FLOWLEDGER_ROOT is set)")
	serveCmd.Flags().String("port", "", "Listen port (optional if PORT is set)")
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
