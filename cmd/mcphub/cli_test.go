package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcphub-go/pkg/conversation"
	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr/mcpmgrtest"
	"github.com/vikashloomba/mcphub-go/pkg/toolrouter"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "mcphub dev\n", out.String())
}

func TestRejectsInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcphub.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: xml\n"), 0o600))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path, "servers"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.format")
}

func TestServersCommandReportsMissingRegistry(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--servers", "absent.yaml", "servers"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.yaml")
}

func TestGatewayCommandRequiresRegistry(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--servers", "absent.yaml", "gateway", "--stdio"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.yaml")
}

func TestChatLoop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := mcpmgrtest.NewFactory(map[string]func() *mcp.Server{"fixture": mcpmgrtest.NewFixtureServer})
	t.Cleanup(factory.Close)
	hub := mcpmgr.NewHub(&mcpmgr.Options{TransportFactory: factory.Transport, Logger: logger})
	hub.Load(context.Background(), mcpmgrtest.Descriptors("fixture"))
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })
	a := &app{logger: logger, hub: hub, router: toolrouter.New(hub, logger)}

	echo := conversation.ModelFunc(func(_ context.Context, h []conversation.Turn, _ []mcpmgr.ToolDescriptor) (conversation.Decision, error) {
		last := h[len(h)-1]
		if last.Role == conversation.RoleUser {
			return conversation.Decision{ToolCall: &toolrouter.Invocation{
				Name:      "echo",
				Arguments: map[string]any{"text": strings.ToUpper(last.Content)},
			}}, nil
		}
		return conversation.Decision{FinalAnswer: last.Result.Payload.(string)}, nil
	})
	session := conversation.NewSession(echo, a.router, &conversation.Options{Logger: logger})

	var out bytes.Buffer
	in := strings.NewReader("hello\n/reset\n\nagain\n/quit\nnever\n")
	require.NoError(t, chatLoop(context.Background(), session, in, &out, a))

	text := out.String()
	assert.Contains(t, text, "fixture.echo ok")
	assert.Contains(t, text, "HELLO\n")
	assert.Contains(t, text, "History cleared.")
	assert.Contains(t, text, "AGAIN\n")
	assert.NotContains(t, text, "NEVER")
	assert.Len(t, session.History(), 4)
}
