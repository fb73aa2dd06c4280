package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Roulette/internal/client/session"
	"github.com/dkeye/Roulette/internal/domain"
)

type command struct {
	name string
	arg  string
	on   bool
	mode domain.Mode
}

var errUsage = errors.New("unknown command, see --help")

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}
	c := command{name: strings.ToLower(fields[0])}
	switch c.name {
	case "find":
		c.mode = domain.ModeVideo
		if len(fields) > 1 {
			c.mode = domain.ParseMode(strings.ToLower(fields[1]))
		}
	case "say":
		c.arg = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		if c.arg == "" {
			return command{}, fmt.Errorf("say needs a message")
		}
	case "cam", "mic":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return command{}, fmt.Errorf("usage: %s on|off", c.name)
		}
		c.on = fields[1] == "on"
	case "cancel", "skip", "leave", "typing", "status", "quit":
	default:
		return command{}, errUsage
	}
	return c, nil
}

// execute runs c and reports whether the client should exit.
func execute(ctx context.Context, m *session.Machine, c command) (bool, error) {
	switch c.name {
	case "find":
		return false, m.FindMatch(ctx, c.mode)
	case "cancel":
		return false, m.CancelSearch(ctx)
	case "skip":
		return false, m.Skip(ctx)
	case "leave":
		return false, m.LeaveCall(ctx)
	case "say":
		return false, m.SendChat(c.arg)
	case "typing":
		return false, m.SetTyping(true)
	case "cam":
		return false, m.SetCamera(ctx, c.on)
	case "mic":
		return false, m.SetMic(ctx, c.on)
	case "status":
		fmt.Printf("* %s\n", m.State())
		return false, nil
	case "quit":
		return true, m.Disconnect(ctx)
	}
	return false, errUsage
}
