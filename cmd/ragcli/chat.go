package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hyperjump/ragcli/internal/chat"
	"github.com/hyperjump/ragcli/internal/cli"
	"github.com/hyperjump/ragcli/internal/llm"
	"github.com/hyperjump/ragcli/internal/models"
	"github.com/hyperjump/ragcli/internal/search"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newChatCmd(a *app) *cobra.Command {
	var (
		rag         bool
		noRAG       bool
		topK        int
		temperature float64
		mode        string
	)
	cmd := &cobra.Command{
		Use:   "chat [question]",
		Short: "Chat with the indexed documents",
		Long: `Start an interactive chat. Each question is answered by the local LLM using
the most relevant chunks of the index as context. With a question argument the
answer is printed and the command exits.

Type 'help' in the chat for commands. Ctrl+C interrupts an answer; at the
prompt it ends the session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := chat.Options{
				RAG:          rag && !noRAG,
				TopK:         topK,
				Temperature:  a.cfg.LLM.Temperature,
				SystemPrompt: a.cfg.LLM.SystemPrompt,
				HistoryLimit: a.cfg.LLM.HistoryLimit,
				Mode:         models.SearchMode(a.cfg.Search.Mode),
			}
			if opts.TopK <= 0 {
				opts.TopK = a.cfg.Search.TopK
			}
			if cmd.Flags().Changed("temperature") {
				opts.Temperature = temperature
			}
			if mode != "" {
				m, err := models.ParseSearchMode(mode)
				if err != nil {
					return err
				}
				opts.Mode = m
			}
			orch, client, err := a.newOrchestrator(cmd.Context(), opts)
			if err != nil {
				return err
			}

			// Signals are handled here so that Ctrl+C can stop one answer
			// without ending the session.
			base := context.WithoutCancel(cmd.Context())
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			if len(args) > 0 {
				_, err := a.chatTurn(base, orch, strings.Join(args, " "), sigs)
				return err
			}
			return a.chatLoop(base, orch, client, sigs)
		},
	}
	cmd.Flags().BoolVar(&rag, "rag", true, "answer with context retrieved from the index")
	cmd.Flags().BoolVar(&noRAG, "no-rag", false, "answer without retrieving context (same as --rag=false)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "chunks of context per question (default from config)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature (default from config)")
	cmd.Flags().StringVar(&mode, "mode", "", "retrieval mode: semantic, keyword or hybrid")
	return cmd
}

func (a *app) newOrchestrator(ctx context.Context, opts chat.Options) (*chat.Orchestrator, llm.Client, error) {
	admin := a.admin()
	err := admin.EnsureModel(ctx, a.cfg.LLM.Model, a.cfg.LLM.AutoPull, func(status string) {
		cli.Dim(a.errOut, "pull %s: %s", a.cfg.LLM.Model, status)
	})
	if err != nil {
		return nil, nil, err
	}
	client, err := a.chatClient()
	if err != nil {
		return nil, nil, err
	}

	options := []chat.Option{chat.WithLogger(a.logger)}
	if opts.RAG {
		idx, err := a.openIndex(ctx)
		if err != nil {
			return nil, nil, err
		}
		emb, err := a.embedder()
		if err != nil {
			return nil, nil, err
		}
		options = append(options, chat.WithRetriever(search.ForIndex(idx, emb, &a.cfg.Search), emb))
	}
	orch, err := chat.NewOrchestrator(client, opts, options...)
	if err != nil {
		return nil, nil, err
	}
	return orch, client, nil
}

func (a *app) chatLoop(ctx context.Context, orch *chat.Orchestrator, client llm.Client, sigs <-chan os.Signal) error {
	ragState := "off"
	if orch.RAGEnabled() {
		ragState = "index " + a.indexName
	}
	cli.Panel(a.out, fmt.Sprintf("%s\nmodel %s, retrieval: %s\n%s",
		cli.Title("ragcli chat"), client.Model(), ragState, "Type 'help' for commands, 'exit' to quit."))
	a.logger.Debug("chat session started", zap.String("session", orch.SessionID()))

	done := make(chan struct{})
	defer close(done)
	lines := readLines(a.in, done)

	for {
		fmt.Fprint(a.out, "\nYou: ")
		var line string
		select {
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(a.out)
				return nil
			}
			line = l
		case <-sigs:
			fmt.Fprintln(a.out)
			return nil
		}

		switch chat.ParseCommand(line) {
		case chat.CommandExit:
			return nil
		case chat.CommandClear:
			orch.Clear()
			cli.Dim(a.out, "Conversation cleared.")
			continue
		case chat.CommandHelp:
			fmt.Fprintln(a.out, chat.HelpText)
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := a.chatTurn(ctx, orch, line, sigs); err != nil {
			a.report(err)
		}
	}
}

// chatTurn asks one question and streams the answer. A signal received while
// the answer is generated cancels only this turn.
func (a *app) chatTurn(ctx context.Context, orch *chat.Orchestrator, question string, sigs <-chan os.Signal) (*chat.Turn, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-stop:
		}
	}()

	fmt.Fprint(a.out, "\nAssistant: ")
	turn, err := orch.Ask(turnCtx, question, func(token string) error {
		_, werr := io.WriteString(a.out, token)
		return werr
	})
	fmt.Fprintln(a.out)
	if err != nil {
		return turn, err
	}
	if turn.Interrupted {
		cli.Warn(a.out, "Interrupted.")
		return turn, nil
	}
	cli.WriteSources(a.out, turn.Sources)
	a.logger.Debug("chat turn done",
		zap.String("session", orch.SessionID()),
		zap.Duration("duration", turn.Duration),
		zap.Int("sources", len(turn.Sources)),
	)
	return turn, nil
}

// readLines delivers lines from r until EOF or until done is closed.
func readLines(r io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}
