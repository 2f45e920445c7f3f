package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"backoffice/internal/apiclient"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}

		email := loginEmail
		if email == "" {
			email, err = pterm.DefaultInteractiveTextInput.Show("Email")
			if err != nil {
				return err
			}
		}
		password := loginPassword
		if password == "" {
			password = os.Getenv("BACKOFFICE_PASSWORD")
		}
		if password == "" {
			password, err = pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password")
			if err != nil {
				return err
			}
		}

		account, err := client.Login(cmd.Context(), strings.TrimSpace(email), password)
		if err != nil {
			return describe(err)
		}
		pterm.Success.Printf("Signed in as %s (%s)\n", account.Email, account.Role)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account and its permissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}

		account, err := client.Me(cmd.Context())
		if err != nil {
			return describe(err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "ID\t%s\n", account.ID)
		fmt.Fprintf(w, "EMAIL\t%s\n", account.Email)
		fmt.Fprintf(w, "ROLE\t%s\n", account.Role)
		if user, ok := client.CurrentUser(); ok {
			fmt.Fprintf(w, "SESSION\t%s\n", user.SessionID)
			fmt.Fprintf(w, "PERMISSIONS\t%s\n", strings.Join(user.Permissions.Strings(), ", "))
		}
		return w.Flush()
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Renew the cached tokens now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cache, err := newClient()
		if err != nil {
			return err
		}
		if err := client.Refresh(cmd.Context()); err != nil {
			return describe(err)
		}
		token, _, err := cache.GetTokens()
		if err != nil {
			return err
		}
		pterm.Success.Printf("Tokens renewed, access token valid until %s\n", token.ExpiresAt.Local().Format(time.RFC1123))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and forget the cached tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}
		if err := client.Logout(cmd.Context()); err != nil {
			return describe(err)
		}
		fmt.Println("Logged out successfully")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the state of the local token cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, store, err := newCache()
		if err != nil {
			return err
		}
		token, ok, err := cache.GetTokens()
		if err != nil {
			return fmt.Errorf("read token cache %s: %w", store.Path(), err)
		}
		if !ok {
			pterm.Info.Println("Not logged in")
			return nil
		}
		pterm.Info.Printf("Token cache: %s\n", store.Path())
		pterm.Info.Printf("Access token expires: %s\n", token.ExpiresAt.Local().Format(time.RFC1123))
		if cache.HasValidToken() {
			pterm.Success.Println("Access token is usable")
		} else {
			pterm.Warning.Println("Access token is stale and will be refreshed on next use")
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email (prompted when empty)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password (prefer BACKOFFICE_PASSWORD or the prompt)")
}

func describe(err error) error {
	if errors.Is(err, apiclient.ErrReloginRequired) {
		return errors.New("session is no longer valid, run `adminctl login`")
	}
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s (%s)", apiErr.Message, apiErr.Code)
	}
	return err
}
