// Command-line interface for chatting with a local Ollama model
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ollamachat/ollamachat/config"
	"ollamachat/ollamachat/services/catalog"
	"ollamachat/ollamachat/services/engine"
	"ollamachat/ollamachat/services/history"
	"ollamachat/ollamachat/services/inference"
	"ollamachat/ollamachat/sources/session"
	"ollamachat/ollamachat/utils/color"
	"ollamachat/ollamachat/utils/errs"
	"ollamachat/ollamachat/utils/logging"
	"ollamachat/ollamachat/utils/validation"
)

const cliSession = "cli"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.ColorError("config error: "+err.Error()))
		os.Exit(1)
	}
	// the terminal is for the conversation; logs go to files only
	cfg.Debug = false
	logs, err := logging.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.ColorError("logging error: "+err.Error()))
		os.Exit(1)
	}
	defer logs.Sync()

	if fi, err := os.Stdout.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
		color.Disable()
	}

	validator := validation.Validator{MaxPromptChars: cfg.MaxPromptChars, MaxModelName: cfg.MaxModelName}
	eng := engine.NewClient(cfg, logs)
	cat := catalog.New(eng, validator, cfg.ModelCacheTTL, logs)

	args := os.Args[1:]
	switch {
	case len(args) >= 1 && args[0] == "models":
		os.Exit(listModels(cat))
	case len(args) >= 1 && args[0] == "chat":
		model := cfg.DefaultModel
		if len(args) >= 2 {
			model = args[1]
		}
		sessions := session.NewManager(session.NewMemoryStore())
		svc := inference.NewService(eng, cat, history.NewStore(logs), sessions, validator, logs)
		os.Exit(chat(svc, model, logs))
	default:
		fmt.Println("ollamachat CLI usage:")
		fmt.Println("  ollamachat models         # List installed models")
		fmt.Println("  ollamachat chat [model]  # Chat with a model in this terminal")
		os.Exit(1)
	}
}

func listModels(cat *catalog.Catalog) int {
	models, err := cat.ListInstalled(context.Background())
	if err != nil {
		printError(err)
		return 1
	}
	if len(models) == 0 {
		fmt.Println(color.ColorWarning("No models installed. Pull one with: ollama pull <model>"))
		return 0
	}
	for _, m := range models {
		fmt.Println(m)
	}
	return 0
}

func chat(svc *inference.Service, model string, logs *logging.Loggers) int {
	chatID := uuid.NewString()
	logs.App.Info("cli chat started", zap.String("chat_id", chatID), zap.String("model", model))

	fmt.Println(color.ColorInfo("Chatting with " + model))
	fmt.Println("Type '/new' for a fresh chat, 'exit' to quit. Ctrl-C stops a reply.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Print(color.ColorPrompt("you> "))
		if !scanner.Scan() {
			break // EOF or error
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			fmt.Println("Goodbye!")
			return 0
		case "/new":
			chatID = uuid.NewString()
			fmt.Println(color.ColorInfo("Started a new chat."))
			continue
		}

		if err := reply(svc, chatID, model, line); err != nil {
			printError(err)
		}
		fmt.Println()
	}
	return 0
}

// reply streams one answer to stdout. Ctrl-C cancels it and kills the engine.
func reply(svc *inference.Service, chatID, model, prompt string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stream, err := svc.Start(ctx, cliSession, validation.Input{
		"prompt":  prompt,
		"model":   model,
		"chat_id": chatID,
	})
	if err != nil {
		return err
	}
	for ev := range stream.Events() {
		switch ev.Kind {
		case inference.EventToken:
			fmt.Println(color.ColorResponse(ev.Data))
		case inference.EventError:
			fmt.Println(color.ColorError(ev.Payload()))
		}
	}
	if res := stream.Wait(); errors.Is(res.Err, context.Canceled) {
		fmt.Println(color.ColorWarning("(stopped)"))
	}
	return nil
}

func printError(err error) {
	var e *errs.Error
	if errors.As(err, &e) {
		fmt.Fprintln(os.Stderr, color.ColorError(e.Title+": "+e.Message))
		return
	}
	fmt.Fprintln(os.Stderr, color.ColorError(err.Error()))
}
