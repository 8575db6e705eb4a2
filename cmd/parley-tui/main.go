package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/parley-chat/parley/internal/client"
	"github.com/parley-chat/parley/internal/tui"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	name := flag.String("name", "", "display name for guest login")
	token := flag.String("token", "", "existing auth token (skips guest login)")
	insecure := flag.Bool("insecure", false, "skip TLS certificate verification")
	flag.Parse()

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "parley-tui requires an interactive terminal")
		os.Exit(1)
	}

	if err := run(*server, *name, *token, *insecure); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(server, name, token string, insecure bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if token == "" {
		if name == "" {
			return fmt.Errorf("either -name or -token is required")
		}
		var err error
		token, _, err = client.GuestLogin(ctx, server, name)
		if err != nil {
			return err
		}
	}

	// The alternate screen owns the terminal, so client logs are discarded.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cli := client.NewClient(client.Options{
		ServerURL:     server,
		Token:         token,
		TLSSkipVerify: insecure,
	}, logger)

	go func() {
		_ = cli.Connect(ctx)
	}()

	_, err := tea.NewProgram(tui.NewModel(cli), tea.WithAltScreen()).Run()
	return err
}
