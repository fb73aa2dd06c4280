package main

import (
	"testing"

	"github.com/dkeye/Roulette/internal/domain"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		line string
		want command
		bad  bool
	}{
		{line: "find", want: command{name: "find", mode: domain.ModeVideo}},
		{line: "find text", want: command{name: "find", mode: domain.ModeText}},
		{line: "  say hello   there ", want: command{name: "say", arg: "hello   there"}},
		{line: "cam off", want: command{name: "cam", on: false}},
		{line: "MIC on", want: command{name: "mic", on: true}},
		{line: "skip", want: command{name: "skip"}},
		{line: "", want: command{}},
		{line: "say", bad: true},
		{line: "cam maybe", bad: true},
		{line: "dance", bad: true},
	}
	for _, c := range cases {
		got, err := parseCommand(c.line)
		if c.bad {
			if err == nil {
				t.Errorf("parseCommand(%q) expected error", c.line)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("parseCommand(%q) = %+v, %v; want %+v", c.line, got, err, c.want)
		}
	}
}
