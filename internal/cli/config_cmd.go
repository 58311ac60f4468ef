package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func (a *App) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI contexts",
	}
	cmd.AddCommand(a.configSetContextCmd(), a.configUseContextCmd(), a.configCurrentContextCmd(), a.configViewCmd(), a.configDeleteContextCmd())
	return cmd
}

func (a *App) configSetContextCmd() *cobra.Command {
	var (
		server      string
		token       string
		headers     []string
		preferWS    bool
		makeCurrent bool
	)
	cmd := &cobra.Command{
		Use:   "set-context <name>",
		Short: "Create or update a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			existing, ok := a.config.Contexts[name]
			if server == "" && !ok {
				return errors.New("--server is required")
			}
			ctx := existing
			ctx.Name = name
			if server != "" {
				ctx.Server = strings.TrimRight(server, "/")
			}
			if cmd.Flags().Changed("token") {
				ctx.Token = token
			}
			if len(headers) > 0 {
				parsed, err := parseHeaderFlags(headers)
				if err != nil {
					return err
				}
				ctx.Headers = parsed
			}
			if cmd.Flags().Changed("ws") {
				ctx.PreferWebSocket = preferWS
			}
			setContext(a.config, ctx, makeCurrent)
			if err := SaveConfig(a.config, a.cfgFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Context %q updated.\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Node API base URL")
	cmd.Flags().StringVar(&token, "token", "", "API token stored in the config file (prefer 'kolibri login')")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "Extra request header Key=Value (repeatable)")
	cmd.Flags().BoolVar(&preferWS, "ws", false, "Stream over WebSocket by default")
	cmd.Flags().BoolVar(&makeCurrent, "current", true, "Set as current context")
	return cmd
}

func parseHeaderFlags(values []string) (map[string]string, error) {
	headers := make(map[string]string, len(values))
	for _, pair := range values {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q, expected Key=Value", pair)
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers, nil
}

func (a *App) configUseContextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-context <name>",
		Short: "Switch the current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ensureContextExists(a.config, args[0]); err != nil {
				return err
			}
			a.config.CurrentContext = args[0]
			if err := SaveConfig(a.config, a.cfgFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q.\n", args[0])
			return nil
		},
	}
}

func (a *App) configDeleteContextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-context <name>",
		Short: "Remove a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ensureContextExists(a.config, args[0]); err != nil {
				return err
			}
			delete(a.config.Contexts, args[0])
			if a.config.CurrentContext == args[0] {
				a.config.CurrentContext = ""
				if names := a.config.contextNames(); len(names) > 0 {
					a.config.CurrentContext = names[0]
				}
			}
			if err := SaveConfig(a.config, a.cfgFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Context %q deleted.\n", args[0])
			return nil
		},
	}
}

func (a *App) configCurrentContextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current-context",
		Short: "Print the current context",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.config.CurrentContext == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No context configured.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.config.CurrentContext)
			return nil
		},
	}
}

func (a *App) configViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the configuration with tokens redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			redacted := redactConfig(a.config)
			return a.writeOutput(cmd.OutOrStdout(), redacted, func(w io.Writer) error {
				fmt.Fprintf(w, "Config file: %s\n", a.cfgFile)
				stored := a.keyringContexts()
				tw := newTable(w)
				fmt.Fprintln(tw, "CURRENT\tNAME\tSERVER\tTRANSPORT\tTOKEN")
				for _, name := range redacted.contextNames() {
					ctx := redacted.Contexts[name]
					current := ""
					if redacted.CurrentContext == name {
						current = "*"
					}
					transport := "sse"
					if ctx.PreferWebSocket {
						transport = "websocket"
					}
					token := valueOrDash(ctx.Token)
					if ctx.Token == "" && stored[name] {
						token = "keyring"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", current, name, ctx.Server, transport, token)
				}
				flushTable(tw)
				return nil
			})
		},
	}
}

func redactConfig(cfg *Config) *Config {
	out := &Config{CurrentContext: cfg.CurrentContext, Contexts: make(map[string]Context, len(cfg.Contexts))}
	for name, ctx := range cfg.Contexts {
		if ctx.Token != "" {
			ctx.Token = "REDACTED"
		}
		out.Contexts[name] = ctx
	}
	return out
}

// keyringContexts reports which contexts have a token in the keyring. An
// unavailable keyring reads as empty.
func (a *App) keyringContexts() map[string]bool {
	stored := map[string]bool{}
	if a.OpenSecrets == nil {
		return stored
	}
	mgr, err := a.OpenSecrets()
	if err != nil {
		return stored
	}
	names, err := mgr.Contexts()
	if err != nil {
		return stored
	}
	for _, name := range names {
		stored[name] = true
	}
	return stored
}
