// Package cli implements the kolibri command line client.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kolibri-omega/kolibri-studio/config"
	"github.com/kolibri-omega/kolibri-studio/internal/kolibri"
	"github.com/kolibri-omega/kolibri-studio/internal/logutil"
	"github.com/kolibri-omega/kolibri-studio/internal/secrets"
	"github.com/kolibri-omega/kolibri-studio/internal/store"
	"github.com/kolibri-omega/kolibri-studio/internal/validator"
)

// App holds flag values and the dependencies shared by all commands.
type App struct {
	env *config.Config

	cfgFile       string
	contextName   string
	overrideURL   string
	overrideToken string
	outputFormat  string
	timeout       time.Duration
	preferWS      bool
	verbose       bool

	config *Config

	// OpenSecrets opens the token store. Replaced in tests.
	OpenSecrets func() (*secrets.Manager, error)
	// OpenStore opens the trace recorder. Replaced in tests.
	OpenStore func() (*store.Store, error)
}

// NewApp wires an App to the environment configuration.
func NewApp(env *config.Config) *App {
	a := &App{env: env}
	a.OpenSecrets = func() (*secrets.Manager, error) {
		return secrets.Open(secrets.OptionsFromEnv(env.StatePath))
	}
	a.OpenStore = func() (*store.Store, error) {
		return store.Open(env.StoreDSN, env.StoreDriver)
	}
	return a
}

// Execute runs the CLI with the process environment.
func Execute(ctx context.Context) error {
	env := config.Load()
	logutil.SetLevel(env.LogLevel)
	root := NewApp(env).Command()
	err := root.ExecuteContext(ctx)
	if err != nil {
		reportError(root.ErrOrStderr(), err)
	}
	return err
}

// Command builds the root command.
func (a *App) Command() *cobra.Command {
	root := &cobra.Command{
		Use:   "kolibri",
		Short: "Talk to a Kolibri node",
		Long: `kolibri is the command line client for the Kolibri node API.
Commands use the current context (see 'kolibri config set-context'), or
KOLIBRI_API_BASE when no context is configured.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.verbose {
				logutil.SetLevel("debug")
			}
			if a.config == nil {
				cfg, err := LoadConfig(a.cfgFile)
				if err != nil {
					return err
				}
				a.config = cfg
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", defaultConfigPath(), "Path to the kolibri config file")
	flags.StringVar(&a.contextName, "context", "", "Context name to use (overrides current)")
	flags.StringVar(&a.overrideURL, "server", "", "Override node API base URL")
	flags.StringVar(&a.overrideToken, "token", "", "Override API token")
	flags.StringVarP(&a.outputFormat, "output", "o", "table", "Output format: table|json|yaml")
	flags.DurationVar(&a.timeout, "timeout", a.env.Timeout, "Per-request timeout")
	flags.BoolVar(&a.preferWS, "ws", a.env.PreferWebSocket, "Stream over WebSocket instead of SSE")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(
		a.healthCmd(),
		a.metricsCmd(),
		a.dialogCmd(),
		a.memoryCmd(),
		a.vmCmd(),
		a.programCmd(),
		a.chainCmd(),
		a.tasksCmd(),
		a.monitoringCmd(),
		a.peersCmd(),
		a.tracesCmd(),
		a.configCmd(),
		a.loginCmd(),
		a.logoutCmd(),
	)
	return root
}

// target is the resolved connection for one invocation.
type target struct {
	Context  string
	Base     string
	Source   config.BaseSource
	Token    string
	Headers  map[string]string
	PreferWS bool
}

// resolveTarget merges flags, the selected context, the token store and the
// environment.
func (a *App) resolveTarget() (*target, error) {
	if a.config == nil {
		return nil, errors.New("configuration not loaded")
	}
	name := a.contextName
	if name == "" {
		name = a.config.CurrentContext
	}
	var selected Context
	if name != "" {
		ctx, ok := a.config.Contexts[name]
		if !ok {
			return nil, fmt.Errorf("context %q not found; use 'kolibri config set-context'", name)
		}
		selected = ctx
	}

	override := a.overrideURL
	if override == "" {
		override = selected.Server
	}
	base, source := config.ResolveBase(a.env.Inputs(override))
	if base == "" {
		return nil, errors.New("no API base configured; pass --server, set KOLIBRI_API_BASE or run 'kolibri config set-context'")
	}

	headers := map[string]string{}
	for k, v := range a.env.Headers {
		headers[k] = v
	}
	for k, v := range selected.Headers {
		headers[k] = v
	}

	t := &target{
		Context:  name,
		Base:     base,
		Source:   source,
		Headers:  headers,
		PreferWS: a.preferWS || selected.PreferWebSocket,
	}
	switch {
	case a.overrideToken != "":
		t.Token = a.overrideToken
	case selected.Token != "":
		t.Token = selected.Token
	default:
		t.Token = a.storedToken(name)
	}
	if t.Token == "" {
		t.Token = a.env.Token
	}
	logutil.Debug("kolibri target resolved", map[string]interface{}{"context": name, "base": base, "source": string(source)})
	return t, nil
}

func (a *App) storedToken(contextName string) string {
	if contextName == "" || a.OpenSecrets == nil {
		return ""
	}
	mgr, err := a.OpenSecrets()
	if err != nil {
		logutil.Debug("token store unavailable", map[string]interface{}{"error": err.Error()})
		return ""
	}
	token, err := mgr.Token(contextName)
	if err != nil && !errors.Is(err, secrets.ErrNotFound) {
		logutil.Debug("token lookup failed", map[string]interface{}{"context": contextName, "error": err.Error()})
	}
	return token
}

func (a *App) client() (*kolibri.Client, *target, error) {
	t, err := a.resolveTarget()
	if err != nil {
		return nil, nil, err
	}
	c := kolibri.New(kolibri.Options{
		BaseURL: t.Base,
		Headers: t.Headers,
		Token:   t.Token,
		Timeout: a.timeout,
	})
	return c, t, nil
}

// requestContext bounds a one-shot call by --timeout. Cancellation of the
// command context (Ctrl-C) still aborts it.
func (a *App) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return withTimeout(ctx, a.timeout)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (a *App) validator() (*validator.Validator, error) {
	return validator.New(validator.Options{})
}

func (a *App) format() string {
	return strings.ToLower(strings.TrimSpace(a.outputFormat))
}
