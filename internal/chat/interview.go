package chat

import "strings"

var interviewKeywords = []string{"interview", "help", "tomorrow", "guidance"}

// IsInterviewHelp reports whether a message from a student reads like a
// request for interview help. Matching is a case-insensitive substring test.
func IsInterviewHelp(role Role, text string) bool {
	if role != RoleStudent {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range interviewKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
