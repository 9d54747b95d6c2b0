package commsutil

import "strings"

// Default COMMS subjects.
const (
	SubjectAPICalls    = "api.calls"
	SubjectAuditGlobal = "audit.api"
	SubjectChangeEvent = "api.changed"
)

// BuildAuditSubject builds the per-method audit subject, e.g. audit.api.events.get.
func BuildAuditSubject(methodID string) string {
	return SubjectAuditGlobal + "." + SafeToken(methodID)
}

// BuildChangeSubject builds the per-user change subject, e.g. api.changed.alice.streams.
func BuildChangeSubject(username, kind string) string {
	return SubjectChangeEvent + "." + SafeToken(strings.ReplaceAll(username, ".", "_")) + "." + SafeToken(kind)
}

// SafeToken replaces wildcard and whitespace characters, which are not
// allowed in a published subject. Dots are kept.
func SafeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
