package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kolibri-omega/kolibri-studio/internal/secrets"
)

// loginContext is the context a token is stored under.
func (a *App) loginContext() (string, error) {
	name := a.contextName
	if name == "" {
		name = a.config.CurrentContext
	}
	if name == "" {
		return "", errors.New("no context selected; run 'kolibri config set-context' first or pass --context")
	}
	if err := ensureContextExists(a.config, name); err != nil {
		return "", err
	}
	return name, nil
}

func (a *App) loginCmd() *cobra.Command {
	var (
		token     string
		fromStdin bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API token in the OS keyring for the current context",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.loginContext()
			if err != nil {
				return err
			}
			if fromStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				token = line
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("--with-token or --token-stdin is required")
			}
			mgr, err := a.OpenSecrets()
			if err != nil {
				return err
			}
			if err := mgr.SetToken(name, token); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Token stored for context %q.", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "with-token", "", "API token to store")
	cmd.Flags().BoolVar(&fromStdin, "token-stdin", false, "Read the token from stdin")
	return cmd
}

func (a *App) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored API token for the current context",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.loginContext()
			if err != nil {
				return err
			}
			mgr, err := a.OpenSecrets()
			if err != nil {
				return err
			}
			if err := mgr.DeleteToken(name); err != nil {
				if errors.Is(err, secrets.ErrNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "No token stored for context %q.\n", name)
					return nil
				}
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Token removed for context %q.", name)
			return nil
		},
	}
}
