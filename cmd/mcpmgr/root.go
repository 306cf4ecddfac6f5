package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mcpjam/inspector-go/internal/config"
	"github.com/mcpjam/inspector-go/pkg/mcpmgr"
)

const clientName = "mcpmgr"

// app holds the state shared by every subcommand.
type app struct {
	configPath string
	timeout    time.Duration
	logLevel   string

	out    io.Writer
	errOut io.Writer
	logger *slog.Logger

	manager *mcpmgr.Manager
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mcpmgr",
		Short: "Inspect and proxy a set of MCP servers",
		Long: `mcpmgr reads an "mcpServers" config file, connects to the servers on
demand, and lists or invokes their tools, resources, and prompts. The gateway
subcommand serves all of them behind one Streamable HTTP endpoint.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "mcp.json", "path to the mcpServers config file (YAML or JSON)")
	flags.DurationVar(&a.timeout, "timeout", 30*time.Second, "default connect and request timeout")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		a.newServersCmd(),
		a.newToolsCmd(),
		a.newCallCmd(),
		a.newResourcesCmd(),
		a.newReadCmd(),
		a.newPromptsCmd(),
		a.newPromptCmd(),
		a.newGatewayCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	level, err := parseLevel(a.logLevel)
	if err != nil {
		return err
	}
	a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level}))

	servers, err := config.Load(a.configPath)
	if err != nil {
		return errors.Wrapf(err, "load %s", a.configPath)
	}
	a.manager = mcpmgr.NewManager(servers, &mcpmgr.ManagerOptions{
		DefaultClientName: clientName,
		DefaultTimeout:    a.timeout,
		Logger:            a.logger,
	})
	return nil
}

// teardown closes every session opened by the command, including after a
// failed run.
func (a *app) teardown() error {
	if a.manager == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.manager.DisconnectAllServers(ctx)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, errors.Wrapf(err, "invalid --log-level %q", s)
	}
	return level, nil
}
