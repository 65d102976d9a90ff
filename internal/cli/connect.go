package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fieldops/hnsync/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	portalUsername string
	passwordStdin  bool
)

// connectCmd stores portal credentials after verifying them
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Store and verify portal credentials",
	Long: `Logs into the portal with the given username and password. On success the
credentials are sealed and stored together with the session cookie.

A rejected login stores nothing.`,
	Example: `  # Prompt for the password
  hnsync connect --username jdoe

  # Read the password from stdin for scripts
  echo "$PORTAL_PASSWORD" | hnsync connect --username jdoe --password-stdin -u tech-7`,
	Args: cobra.NoArgs,
	RunE: runConnect,
}

// disconnectCmd removes everything stored for a user
var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Remove stored credentials, session and orders",
	Args:  cobra.NoArgs,
	RunE:  runDisconnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)

	connectCmd.Flags().StringVar(&portalUsername, "username", "", "Portal username (required)")
	connectCmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	connectCmd.MarkFlagRequired("username")
}

func runConnect(cmd *cobra.Command, args []string) error {
	a := GetApp()

	password, err := readPassword()
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}

	ok, err := a.Auth.Connect(cmd.Context(), a.Fetcher(), userID, portalUsername, password)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	if !ok {
		fmt.Println(ui.Error("✗ The portal rejected the login. Nothing was stored."))
		return fmt.Errorf("login rejected")
	}

	fmt.Println(ui.Success("✓ Connected to the portal"))
	fmt.Printf("  %s %s\n", ui.Bold("User:"), userID)
	fmt.Printf("\n%s\n", ui.Bold("Run a sync with:"))
	fmt.Printf("  %s\n\n", ui.ColorCyan+"hnsync sync -u "+userID+ui.ColorReset)
	return nil
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	a := GetApp()
	ctx := cmd.Context()

	if err := a.Auth.Disconnect(ctx, userID); err != nil {
		return fmt.Errorf("disconnect failed: %w", err)
	}

	list, err := a.Trips.List(ctx, userID)
	if err != nil {
		return fmt.Errorf("list trips: %w", err)
	}
	for _, t := range list {
		if err := a.Trips.Delete(ctx, userID, t.ID); err != nil {
			return fmt.Errorf("delete trip %s: %w", t.ID, err)
		}
	}

	fmt.Println(ui.Success(fmt.Sprintf("✓ Removed credentials, orders and %d trips for %s", len(list), userID)))
	return nil
}

// readPassword prompts on a terminal, otherwise reads one line from stdin
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !passwordStdin && term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Portal password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
