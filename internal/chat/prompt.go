package chat

import (
	"fmt"
	"strings"
)

// LLaMA-2 chat template markers.
const (
	instOpen       = "[INST] "
	instClose      = " [/INST]"
	sysOpen        = "<<SYS>>\n"
	sysClose       = "\n<</SYS>>\n\n"
	turnMarker     = "<s>"
	turnTerminator = " </s>"
)

// FormatPrompt renders a conversation into a single LLaMA-2 chat prompt.
//
// A leading system message is folded into the first user turn. A trailing
// assistant message is left open (no terminator) so the model continues it
// instead of starting a new reply. An empty history yields "".
func FormatPrompt(messages []Message) (string, error) {
	turns := messages
	system := ""
	if len(turns) > 0 {
		role, err := ParseRole(string(turns[0].Role))
		if err != nil {
			return "", fmt.Errorf("message 0: %w", err)
		}
		if role == RoleSystem {
			system = turns[0].Content
			turns = turns[1:]
		}
	}

	sysWrapper := ""
	if system != "" {
		sysWrapper = sysOpen + system + sysClose
	}

	var b strings.Builder
	if sysWrapper != "" && (len(turns) == 0 || !isRole(turns[0].Role, RoleUser)) {
		// no opening user turn to carry the system block
		b.WriteString(instOpen + sysWrapper + instClose)
	}

	offset := len(messages) - len(turns)
	for i, m := range turns {
		role, err := ParseRole(string(m.Role))
		if err != nil {
			return "", fmt.Errorf("message %d: %w", i+offset, err)
		}
		switch role {
		case RoleSystem:
			return "", fmt.Errorf("message %d: %w: system message must come first", i+offset, ErrMalformedMessage)
		case RoleUser:
			if i == 0 {
				b.WriteString(instOpen + sysWrapper + m.Content + instClose)
			} else {
				b.WriteString(turnMarker + instOpen + m.Content + instClose)
			}
		case RoleAssistant:
			b.WriteString(" " + m.Content)
			if i != len(turns)-1 {
				b.WriteString(turnTerminator)
			}
		}
	}
	return b.String(), nil
}

func isRole(raw Role, want Role) bool {
	role, err := ParseRole(string(raw))
	return err == nil && role == want
}
