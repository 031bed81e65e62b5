package homework

import (
	"strings"
	"unicode/utf16"
)

// maxMessageUnits keeps texts under Telegram's 4096 limit, which is counted
// in UTF-16 code units.
const maxMessageUnits = 4000

// Verdict maps a status code to its verdict sentence.
func Verdict(st Status) (string, error) {
	v, ok := verdicts[st]
	if !ok {
		return "", NewFault(KindUnrecognizedStatus, "format", nil, "status %q", string(st))
	}
	return v, nil
}

// Format composes the notification text for s. It is pure.
func Format(s Submission) (string, error) {
	if s.Name == "" {
		return "", NewFault(KindIncompleteRecord, "format", nil, "homework name is empty")
	}
	if s.Status == "" {
		return "", NewFault(KindIncompleteRecord, "format", nil, "status is empty for %q", s.Name)
	}
	verdict, err := Verdict(s.Status)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(`Status of homework "`)
	b.WriteString(s.Name)
	b.WriteString(`" changed. `)
	b.WriteString(verdict)
	return truncateUnits(b.String(), maxMessageUnits), nil
}

// FormatFailure composes the diagnostic sent to the chat when a cycle fails.
// The result is valid UTF-8, so Telegram echoes it back unchanged.
func FormatFailure(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToValidUTF8("Bot failure: "+err.Error(), "\uFFFD")
	return truncateUnits(msg, maxMessageUnits)
}

// TextUnits returns the length of s in UTF-16 code units.
func TextUnits(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func truncateUnits(s string, n int) string {
	if TextUnits(s) <= n {
		return s
	}
	units := 0
	for i, r := range s {
		w := utf16.RuneLen(r)
		if units+w > n-3 {
			return s[:i] + "..."
		}
		units += w
	}
	return s
}
