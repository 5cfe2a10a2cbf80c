package store

import (
	"fmt"
	"strings"
)

const sourceSep = "::"

// FormatSource renders a citation ref, "<conversationId>::<messageId>".
func FormatSource(conversationID, messageID string) string {
	return conversationID + sourceSep + messageID
}

// ParseSource splits a citation ref back into its parts.
func ParseSource(ref string) (conversationID, messageID string, err error) {
	conversationID, messageID, ok := strings.Cut(ref, sourceSep)
	if !ok || conversationID == "" || messageID == "" {
		return "", "", fmt.Errorf("malformed source ref %q", ref)
	}
	return conversationID, messageID, nil
}
