// Package chat holds the content rules and the replay buffer for chat
// sessions. Session membership itself lives in the hub; this package only
// knows about message content.
package chat

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxContentBytes = 4096 // max serialized content size
	MaxContentChars = 2000 // max character count
)

// ValidateContent checks that chat message content meets the wire rules.
// An empty content is rejected here, which the dispatch layer reports back
// to the sender as an error envelope.
func ValidateContent(content string) error {
	if len(content) == 0 {
		return fmt.Errorf("message content is empty")
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxContentBytes)
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return fmt.Errorf("message exceeds %d character limit", MaxContentChars)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}
