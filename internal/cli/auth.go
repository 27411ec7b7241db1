// Package cli provides the command-line interface for the broker gateway.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"multibroker/internal/broker"
	"multibroker/internal/config"
)

// addAuthCommands adds broker authentication commands.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newAuthCmd(app))
}

func newAuthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Broker authentication",
		Long: `Manage broker sessions.

The simulated broker needs no authentication. For Zerodha, run 'auth init'
once to create the credentials template, fill in your API key and secret,
then 'auth login' to get the login URL and 'auth complete' with the request
token from the redirect.`,
	}

	cmd.AddCommand(newAuthInitCmd(app))
	cmd.AddCommand(newAuthLoginCmd(app))
	cmd.AddCommand(newAuthCompleteCmd(app))
	cmd.AddCommand(newAuthLogoutCmd(app))
	cmd.AddCommand(newAuthStatusCmd(app))

	return cmd
}

func newAuthInitCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the credentials template",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			configDir, _ := cmd.Flags().GetString("config")
			if configDir == "" {
				configDir = config.DefaultConfigDir()
			}

			path, err := config.CreateCredentialsTemplate(configDir)
			if err != nil {
				output.Error("Failed to create credentials template: %v", err)
				return err
			}
			output.Success("Credentials template ready: %s", path)
			output.Println("Fill in your broker API credentials, then run 'multibroker auth login'.")
			return nil
		},
	}
}

// zerodhaDriver unwraps the configured Zerodha driver for session
// management. Auth commands always construct a fresh driver so they work
// regardless of which broker the gateway currently fronts.
func zerodhaDriver(app *App) (*broker.ZerodhaDriver, error) {
	creds := app.Config.Credentials.Zerodha
	if creds.APIKey == "" {
		return nil, fmt.Errorf("no Zerodha credentials configured, run 'multibroker auth init' first")
	}
	return broker.NewZerodhaDriver(broker.ZerodhaConfig{
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
		UserID:    creds.UserID,
	}), nil
}

func newAuthLoginCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Start a broker login flow",
		Long: `Print the broker login URL.

Open the URL in a browser, sign in, and copy the request_token from the
redirect URL. Then run 'multibroker auth complete <request_token>'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			driver, err := zerodhaDriver(app)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			if driver.IsAuthenticated() {
				output.Success("Already authenticated.")
				return nil
			}

			url := driver.GetLoginURL()
			if output.IsJSON() {
				return output.JSON(map[string]string{"login_url": url})
			}
			output.Bold("Login URL")
			output.Println("  " + url)
			output.Println()
			output.Dim("After signing in, run: multibroker auth complete <request_token>")
			return nil
		},
	}
}

func newAuthCompleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <request_token>",
		Short: "Complete a broker login with the request token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			driver, err := zerodhaDriver(app)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			if err := driver.CompleteLogin(ctx, args[0]); err != nil {
				output.Error("Login failed: %v", err)
				return err
			}

			output.Success("✓ Logged in. Session saved.")
			return nil
		},
	}
}

func newAuthLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the broker session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			driver, err := zerodhaDriver(app)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			if err := driver.Logout(ctx); err != nil {
				output.Error("Logout failed: %v", err)
				return err
			}
			output.Success("Logged out.")
			return nil
		},
	}
}

func newAuthStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show broker session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			status := map[string]any{
				"active_broker": app.Gateway.BrokerName(),
				"simulated":     app.Config.IsSimulated(),
			}

			driver, err := zerodhaDriver(app)
			if err == nil {
				status["zerodha_authenticated"] = driver.IsAuthenticated()
			} else {
				status["zerodha_authenticated"] = false
			}

			if output.IsJSON() {
				return output.JSON(status)
			}

			output.Bold("Session Status")
			output.Printf("  Active broker: %s\n", app.Gateway.BrokerName())
			if app.Config.IsSimulated() {
				output.Printf("  Simulated:     yes (no authentication needed)\n")
			}
			if status["zerodha_authenticated"].(bool) {
				output.Printf("  Zerodha:       %s\n", output.Green("authenticated"))
			} else {
				output.Printf("  Zerodha:       %s\n", output.DimText("not authenticated"))
			}
			return nil
		},
	}
}
