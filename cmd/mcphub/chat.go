package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcphub-go/pkg/conversation"
)

func newChatCmd(a *app) *cobra.Command {
	var provider, model string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a model that can use the configured tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			defer a.shutdown()

			statuses, err := a.startServers(ctx)
			if err != nil {
				return err
			}
			go a.hub.Run(ctx)
			printStatuses(statuses)

			cat, err := a.models()
			if err != nil {
				return err
			}
			m, key, err := a.resolveModel(cat, provider, model)
			if err != nil {
				return err
			}
			session := a.sessions().Open("", key, m)
			return chatLoop(ctx, session, os.Stdin, os.Stdout, a)
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "model provider (default llm.provider)")
	cmd.Flags().StringVar(&model, "model", "", "model alias from the models config (default llm.model)")
	return cmd
}

var (
	promptColor = color.New(color.FgGreen, color.Bold)
	toolColor   = color.New(color.FgHiBlack)
	errColor    = color.New(color.FgRed)
	hintColor   = color.New(color.FgYellow)
)

func chatLoop(ctx context.Context, session *conversation.Session, in io.Reader, out io.Writer, a *app) error {
	hintColor.Fprintln(out, "Type a message, or /tools, /servers, /reset, /quit.")
	scanner := bufio.NewScanner(in)
	for {
		promptColor.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/tools":
			printTools(a.hub.Catalogue())
			continue
		case "/servers":
			printStatuses(a.hub.Statuses())
			continue
		case "/reset":
			session.Reset()
			hintColor.Fprintln(out, "History cleared.")
			continue
		}

		reply, err := session.HandleUserMessage(ctx, line)
		for _, r := range reply.Results {
			if r.Success {
				toolColor.Fprintf(out, "  ↳ %s ok\n", r.QualifiedName)
			} else {
				toolColor.Fprintf(out, "  ↳ %s %s: %s\n", r.QualifiedName, r.ErrorKind, r.ErrorMessage)
			}
		}
		fmt.Fprintln(out, reply.Text)
		if err != nil {
			errColor.Fprintln(out, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
