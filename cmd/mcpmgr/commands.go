package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	mcpgateway "github.com/mcpjam/inspector-go/pkg/mcp-gateway"
	"github.com/mcpjam/inspector-go/pkg/mcpmgr"
)

// errToolFailed is returned when a tool call succeeds at the protocol level
// but the tool reports an error result.
var errToolFailed = errors.New("tool reported an error")

func (a *app) newServersCmd() *cobra.Command {
	var connect bool
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List configured servers and their connection status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if connect {
				for _, name := range a.manager.ListServers() {
					if _, err := a.manager.ConnectToServer(ctx, name, nil); err != nil {
						a.logger.Warn("connect failed", "server", name, "error", err)
					}
				}
			}
			t := newTable(a.out, "SERVER", "STATUS", "TRANSPORT", "TARGET")
			for _, s := range a.manager.GetServerSummaries() {
				transport := string(s.Transport)
				if transport == "" {
					transport = "(" + string(mcpmgr.TransportOf(s.Config)) + ")"
				}
				t.AppendRow([]any{s.Name, string(s.Status), transport, serverTarget(s.Config)})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "connect to every server before listing")
	return cmd
}

func (a *app) newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools [server...]",
		Short: "List tools, for all servers or the named ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			names := args
			if len(names) == 0 {
				names = a.manager.ListServers()
			}
			t := newTable(a.out, "SERVER", "TOOL", "DESCRIPTION")
			var failed error
			for _, name := range names {
				res, err := a.manager.ListTools(ctx, name, nil)
				if err != nil {
					failed = errors.CombineErrors(failed, errors.Wrapf(err, "list tools on %q", name))
					continue
				}
				for _, tool := range res.Tools {
					t.AppendRow([]any{name, tool.Name, tool.Description})
				}
			}
			t.Render()
			return failed
		},
	}
}

func (a *app) newCallCmd() *cobra.Command {
	var rawArgs string
	cmd := &cobra.Command{
		Use:   "call <server> <tool>",
		Short: "Call a tool and print its result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseToolArgs(rawArgs)
			if err != nil {
				return err
			}
			res, err := a.manager.ExecuteTool(cmd.Context(), args[0], args[1], toolArgs)
			if err != nil {
				return err
			}
			if err := writeContent(a.out, res.Content); err != nil {
				return err
			}
			if res.StructuredContent != nil {
				if err := writeJSON(a.out, res.StructuredContent); err != nil {
					return err
				}
			}
			if res.IsError {
				return errors.Wrapf(errToolFailed, "%s on %q", args[1], args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "", `tool arguments as a JSON object, e.g. '{"text":"hi"}'`)
	return cmd
}

func (a *app) newResourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resources <server>",
		Short: "List resources and resource templates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			resources, err := a.manager.ListResources(ctx, args[0], nil)
			if err != nil {
				return err
			}
			templates, err := a.manager.ListResourceTemplates(ctx, args[0], nil)
			if err != nil {
				return err
			}
			t := newTable(a.out, "URI", "NAME", "MIME", "DESCRIPTION")
			for _, r := range resources.Resources {
				t.AppendRow([]any{r.URI, r.Name, r.MIMEType, r.Description})
			}
			for _, r := range templates.ResourceTemplates {
				t.AppendRow([]any{r.URITemplate, r.Name, r.MIMEType, r.Description})
			}
			t.Render()
			return nil
		},
	}
}

func (a *app) newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <server> <uri>",
		Short: "Read a resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.manager.ReadResource(cmd.Context(), args[0], &mcp.ReadResourceParams{URI: args[1]})
			if err != nil {
				return err
			}
			writeResourceContents(a.out, res.Contents)
			return nil
		},
	}
}

func (a *app) newPromptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompts <server>",
		Short: "List prompts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.manager.ListPrompts(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			t := newTable(a.out, "PROMPT", "ARGUMENTS", "DESCRIPTION")
			for _, p := range res.Prompts {
				t.AppendRow([]any{p.Name, promptArguments(p.Arguments), p.Description})
			}
			t.Render()
			return nil
		},
	}
}

func (a *app) newPromptCmd() *cobra.Command {
	var pairs []string
	cmd := &cobra.Command{
		Use:   "prompt <server> <name>",
		Short: "Render a prompt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			promptArgs, err := parsePromptArgs(pairs)
			if err != nil {
				return err
			}
			res, err := a.manager.GetPrompt(cmd.Context(), args[0], &mcp.GetPromptParams{
				Name:      args[1],
				Arguments: promptArgs,
			})
			if err != nil {
				return err
			}
			for _, msg := range res.Messages {
				fmt.Fprintf(a.out, "%s: ", msg.Role)
				if err := writeContent(a.out, []mcp.Content{msg.Content}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "arg", nil, "prompt argument as key=value (repeatable)")
	return cmd
}

func (a *app) newGatewayCmd() *cobra.Command {
	opts := mcpgateway.Options{}
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve every configured server behind one Streamable HTTP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.AutoConnect = true
			opts.Logger = a.logger
			opts.SyncTimeout = a.timeout
			gw, err := mcpgateway.NewGateway(a.manager, &opts)
			if err != nil {
				return err
			}
			if err := gw.ListenAndServe(cmd.Context()); err != nil && cmd.Context().Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8700", "listen address")
	cmd.Flags().StringVar(&opts.Path, "path", "/mcp", "path of the MCP endpoint")
	return cmd
}

func parseToolArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, errors.Wrap(err, "--args must be a JSON object")
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func parsePromptArgs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Newf("--arg %q: expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}
