package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Darsh20009/youspeak-sub000/internal/auth"
	"github.com/Darsh20009/youspeak-sub000/internal/config"
	"github.com/Darsh20009/youspeak-sub000/internal/protocol"
	"github.com/Darsh20009/youspeak-sub000/internal/store"
)

// RunCLI handles subcommand execution. It returns true if a subcommand was
// handled, along with any error it hit.
func RunCLI(args []string, cfg *config.Config, out io.Writer) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}

	switch args[0] {
	case "version":
		fmt.Fprintf(out, "coordinator %s\n", Version)
		return true, nil
	case "token":
		return true, cliToken(args[1:], cfg, out)
	case "history":
		return true, cliHistory(args[1:], cfg, out)
	default:
		return false, nil
	}
}

// cliToken mints a signed token for local testing.
func cliToken(args []string, cfg *config.Config, out io.Writer) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: coordinator token <id> <role> [ttl]")
	}
	role, ok := protocol.ParseRole(args[1])
	if !ok {
		return fmt.Errorf("unknown role %q", args[1])
	}
	ttl := cfg.Auth.TokenTTL
	if len(args) > 2 {
		d, err := time.ParseDuration(args[2])
		if err != nil {
			return fmt.Errorf("parse ttl: %w", err)
		}
		ttl = d
	}

	provider, err := auth.NewJWT(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	token, err := provider.Issue(protocol.Identity{ID: args[0], Role: role}, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

// cliHistory prints the persisted chat of one room, oldest first.
func cliHistory(args []string, cfg *config.Config, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: coordinator history <roomToken> [limit]")
	}
	limit := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("parse limit: %w", err)
		}
		limit = n
	}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	msgs, err := st.RoomMessages(context.Background(), args[0], limit)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages found.")
		return nil
	}
	for _, m := range msgs {
		fmt.Fprintf(out, "  [%s] %s: %s\n", m.CreatedAt.UTC().Format(time.RFC3339), m.SenderID, m.Content)
	}
	return nil
}
