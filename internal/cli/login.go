package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/raphaelgruber/medchat/internal/auth"
	"github.com/raphaelgruber/medchat/internal/client"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the access token",
	Long: `Log in with your email and password. The access token is stored in the
credentials file (MEDCHAT_CREDENTIALS_FILE) with owner-only permissions.

The password is read from the terminal without echo, or from the first line
of stdin when stdin is not a terminal.

Examples:
  medchat login --email jane@example.com
  echo "$PASSWORD" | medchat login -e jane@example.com`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored access token",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	RunE:  runWhoami,
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "account email")
	_ = loginCmd.MarkFlagRequired("email")
}

func runLogin(cmd *cobra.Command, args []string) error {
	password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ClientTimeout)
	defer cancel()

	result, err := apiClient.Login(ctx, loginEmail, password)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 401 {
			return errors.New("login failed: incorrect email or password")
		}
		return fmt.Errorf("login: %w", err)
	}

	creds := auth.Credentials{
		Token:     result.AccessToken,
		UserID:    result.UserID,
		Email:     result.Email,
		Name:      result.Name,
		Roles:     result.Roles,
		LoginTime: time.Now().UTC(),
	}
	if creds.UserID == "" {
		creds.UserID = auth.TokenSubject(result.AccessToken)
	}
	if err := store.Save(creds); err != nil {
		return err
	}

	logger.Info("logged in", "user_id", creds.UserID)
	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", displayName(creds), creds.Roles)
	return nil
}

// readPassword prompts on a terminal, or reads one line from non-terminal input.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	creds, err := currentUser()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name:      %s\n", displayName(*creds))
	fmt.Fprintf(out, "User ID:   %s\n", creds.UserID)
	if creds.Roles != "" {
		fmt.Fprintf(out, "Roles:     %s\n", creds.Roles)
	}
	fmt.Fprintf(out, "Logged in: %s\n", creds.LoginTime.Local().Format(time.DateTime))
	if exp, ok := auth.TokenExpiry(creds.Token); ok {
		fmt.Fprintf(out, "Expires:   %s\n", exp.Local().Format(time.DateTime))
	}
	if verbose {
		fmt.Fprintf(out, "Store:     %s\n", store.Path())
	}
	return nil
}

func displayName(c auth.Credentials) string {
	switch {
	case c.Name != "" && c.Email != "":
		return fmt.Sprintf("%s <%s>", c.Name, c.Email)
	case c.Name != "":
		return c.Name
	case c.Email != "":
		return c.Email
	default:
		return c.UserID
	}
}
