package classify

import (
	"strings"

	"github.com/ignite/offertracker/internal/identity"
)

// The funnel has one definition of "interview" regardless of which
// classifier produced the verdict, so this gate is shared between the rule
// path and the LLM path.

var interviewAnchorTerms = []string{
	"interview",
	"phone screen",
	"technical screen",
	"recruiter screen",
	"onsite",
	"final round",
}

var interviewInviteTerms = []string{
	"invitation",
	"meeting invite",
	"calendar invite",
	"invite accepted",
	"google calendar",
	"outlook calendar",
	"meet google com",
	"teams microsoft com",
	"zoom us",
	"webex",
	"ics",
}

var interviewScheduledTerms = []string{
	"has been scheduled",
	"is scheduled",
	"was scheduled",
	"scheduled for",
	"rescheduled",
	"interview confirmation",
	"your interview is on",
	"your interview has been scheduled",
}

var calendarRSVPPrefixes = []string{"accepted:", "tentative accepted:", "declined:"}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// HasMeetingInviteSignal reports whether subject+body carry an actual
// interview confirmation: calendar/invite tokens with an interview anchor,
// or explicit scheduled language. Weak future language ("we may schedule a
// call") never qualifies.
func HasMeetingInviteSignal(subject, body string) bool {
	rawText := strings.ToLower(subject + " " + body)
	text := identity.Normalize(rawText)
	if text == "" {
		return false
	}

	hasInvite := containsAny(text, interviewInviteTerms)
	hasAnchor := containsAny(text, interviewAnchorTerms)
	hasScheduled := containsAny(text, interviewScheduledTerms)

	if hasInvite && (hasAnchor || strings.Contains(text, "call") || strings.Contains(text, "meeting")) {
		return true
	}
	if hasAnchor && hasScheduled {
		return true
	}
	// "Invitation: Interview @ Tue Mar 4" style calendar subjects.
	if strings.Contains(text, "invitation") && strings.Contains(rawText, "@") &&
		(hasAnchor || strings.Contains(text, "call") || strings.Contains(text, "meeting")) {
		return true
	}
	return false
}

// IsCalendarRSVPNoise detects the candidate's own calendar responses:
// a personal-mailbox sender whose subject is an RSVP prefix mentioning an
// interview. Those must not open a second application next to the real
// interview row from the employer's domain.
func IsCalendarRSVPNoise(senderAddr, subject string) bool {
	root := identity.DomainRootFromEmail(senderAddr)
	if !identity.PersonalRoots[root] {
		return false
	}
	subj := strings.ToLower(strings.TrimSpace(subject))
	prefixed := false
	for _, p := range calendarRSVPPrefixes {
		if strings.HasPrefix(subj, p) {
			prefixed = true
			break
		}
	}
	if !prefixed {
		return false
	}
	return strings.Contains(subj, "interview")
}
