package chat

import "strings"

// Command is an in-chat command typed instead of a question.
type Command int

const (
	CommandNone Command = iota
	CommandExit
	CommandClear
	CommandHelp
)

// HelpText lists the in-chat commands.
const HelpText = `Commands:
  exit, quit   end the session
  clear        forget the conversation so far
  help         show this help
Press Ctrl+C to interrupt an answer.`

// ParseCommand recognises exit, quit, clear and help, case-insensitively.
// Anything else is CommandNone and should be asked as a question.
func ParseCommand(input string) Command {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.TrimPrefix(s, "/")
	switch s {
	case "exit", "quit":
		return CommandExit
	case "clear":
		return CommandClear
	case "help", "?":
		return CommandHelp
	}
	return CommandNone
}
