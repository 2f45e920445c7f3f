package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"backoffice/internal/apiclient"
	"backoffice/internal/tokencache"
)

var (
	serverURL string
	tokenFile string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "adminctl",
	Short: "Back-office CLI",
	Long: `adminctl signs staff into the back-office API and keeps their tokens in a
local cache so later commands reuse the session until it has to be renewed.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("BACKOFFICE_SERVER", "http://localhost:8080"), "back-office API server URL")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "token cache file (default ~/.config/backoffice/token.json)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "HTTP request timeout")

	rootCmd.AddCommand(loginCmd, whoamiCmd, refreshCmd, logoutCmd, statusCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newCache() (*tokencache.Cache, *tokencache.FileStore, error) {
	path := tokenFile
	if path == "" {
		p, err := tokencache.DefaultPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve token cache path: %w", err)
		}
		path = p
	}
	store, err := tokencache.NewFileStore(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token store: %w", err)
	}
	return tokencache.New(store), store, nil
}

func newClient() (*apiclient.Client, *tokencache.Cache, error) {
	cache, _, err := newCache()
	if err != nil {
		return nil, nil, err
	}
	client := apiclient.New(serverURL, cache, apiclient.WithHTTPClient(&http.Client{Timeout: timeout}))
	return client, cache, nil
}
