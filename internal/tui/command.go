package tui

import (
	"fmt"
	"strconv"
	"strings"
)

// Command represents a parsed composer command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading '/').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// Ref splits a leading message number off Args: "3 rest" gives 3 and "rest".
func (c Command) Ref() (n int, rest string, err error) {
	head, rest, _ := strings.Cut(c.Args, " ")
	if head == "" {
		return 0, "", fmt.Errorf("/%s: message number required", c.Name)
	}
	n, err = strconv.Atoi(strings.TrimPrefix(head, "#"))
	if err != nil || n < 1 {
		return 0, "", fmt.Errorf("/%s: bad message number %q", c.Name, head)
	}
	return n, strings.TrimSpace(rest), nil
}

// Fields returns Args split on whitespace.
func (c Command) Fields() []string {
	return strings.Fields(c.Args)
}

const helpText = "/open <chat> | /reply <n> [text] | /react <n> <emoji> | /retry [n] | /attach <path>... | /quit"
