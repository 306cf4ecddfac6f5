package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpjam/inspector-go/pkg/mcpmgr"
)

const descriptionWidth = 60

func newTable(out io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row(header))
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "DESCRIPTION", WidthMax: descriptionWidth},
		{Name: "STATUS", Transformer: statusColor},
	})
	return t
}

func statusColor(v any) string {
	s := fmt.Sprint(v)
	switch mcpmgr.ConnectionStatus(s) {
	case mcpmgr.StatusConnected:
		return text.FgGreen.Sprint(s)
	case mcpmgr.StatusConnecting:
		return text.FgYellow.Sprint(s)
	default:
		return s
	}
}

// serverTarget renders the command line or URL a server is reached through.
func serverTarget(cfg mcpmgr.ServerConfig) string {
	if stdio, ok := mcpmgr.AsStdio(cfg); ok {
		return strings.TrimSpace(stdio.Command + " " + strings.Join(stdio.Args, " "))
	}
	if remote, ok := mcpmgr.AsHTTP(cfg); ok {
		return remote.URL
	}
	return ""
}

func promptArguments(args []*mcp.PromptArgument) string {
	names := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		name := arg.Name
		if arg.Required {
			name += "*"
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

// writeContent prints text content as-is and anything else as indented JSON.
func writeContent(out io.Writer, content []mcp.Content) error {
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			fmt.Fprintln(out, v.Text)
		case *mcp.ImageContent:
			fmt.Fprintf(out, "[image %s, %d bytes]\n", v.MIMEType, len(v.Data))
		default:
			if err := writeJSON(out, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeResourceContents(out io.Writer, contents []*mcp.ResourceContents) {
	for _, c := range contents {
		if c == nil {
			continue
		}
		if c.Blob != nil {
			fmt.Fprintf(out, "[%s %s, %d bytes]\n", c.URI, c.MIMEType, len(c.Blob))
			continue
		}
		fmt.Fprintln(out, c.Text)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
