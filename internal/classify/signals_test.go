package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasMeetingInviteSignal(t *testing.T) {
	cases := []struct {
		name    string
		subject string
		body    string
		want    bool
	}{
		{
			name:    "calendar invite with interview anchor",
			subject: "Google Calendar invite",
			body:    "Your phone screen with our team",
			want:    true,
		},
		{
			name:    "explicit scheduled language",
			subject: "Interview confirmation",
			body:    "Your interview has been scheduled for Thursday.",
			want:    true,
		},
		{
			name:    "calendar-style invitation subject",
			subject: "Invitation: Interview @ Tue Mar 4",
			body:    "",
			want:    true,
		},
		{
			name:    "invite token without meeting context",
			subject: "Invite accepted",
			body:    "Your subscription renewal",
			want:    false,
		},
		{
			name:    "weak future language only",
			subject: "Next steps",
			body:    "If there is strong alignment we may schedule a call.",
			want:    false,
		},
		{
			name:    "anchor without any scheduling",
			subject: "Interview tips",
			body:    "Ten ways to prepare.",
			want:    false,
		},
		{
			name:    "zoom link with call mention",
			subject: "Your conversation",
			body:    "Join via zoom.us for the call",
			want:    true,
		},
		{
			name:    "empty",
			subject: "",
			body:    "",
			want:    false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HasMeetingInviteSignal(tc.subject, tc.body))
		})
	}
}

func TestIsCalendarRSVPNoise(t *testing.T) {
	assert.True(t, IsCalendarRSVPNoise("me@gmail.com", "Accepted: Interview with Acme"))
	assert.True(t, IsCalendarRSVPNoise("me@outlook.com", "Declined: interview round 2"))
	assert.True(t, IsCalendarRSVPNoise("me@gmail.com", "Tentative Accepted: Interview slot"))

	// Corporate senders are the employer confirming, not the candidate.
	assert.False(t, IsCalendarRSVPNoise("scheduler@acme.com", "Accepted: Interview with Acme"))
	// RSVP prefix without an interview mention is unrelated calendar traffic.
	assert.False(t, IsCalendarRSVPNoise("me@gmail.com", "Accepted: Team lunch"))
	// Interview mention without the RSVP prefix is a real message.
	assert.False(t, IsCalendarRSVPNoise("me@gmail.com", "Interview with Acme"))
}
