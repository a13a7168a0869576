package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/offertracker/internal/mail"
)

func msg(id, from, subject, snippet string) mail.Message {
	return mail.Message{
		ID:        id,
		ThreadID:  "t-" + id,
		Date:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		FromEmail: from,
		Subject:   subject,
		Snippet:   snippet,
	}
}

func TestClassifyOfferBeatsEverything(t *testing.T) {
	d := ClassifyMessage(msg("m1", "talent@acme.com",
		"We are pleased to offer you the role", "Offer letter attached, interview feedback was great"))

	require.Len(t, d.Events, 1)
	assert.Equal(t, EventOffer, d.Events[0].Type)
	assert.Equal(t, StageOffer, d.Events[0].Stage)
	assert.InDelta(t, 0.9, d.Events[0].Confidence, 1e-9)
	assert.Contains(t, d.RuleID, "offer:core_phrases")
}

func TestClassifyRejectionDecisionPhrase(t *testing.T) {
	d := ClassifyMessage(msg("m2", "no-reply@widget.io",
		"Update on your application", "We have decided not to progress your application further on this occasion."))

	require.Len(t, d.Events, 1)
	assert.Equal(t, EventRejection, d.Events[0].Type)
	assert.Equal(t, StageRejected, d.Events[0].Stage)
	assert.InDelta(t, 0.95, d.Events[0].Confidence, 1e-9)
	assert.Contains(t, d.RuleID, "rejection:decision_phrase")
}

func TestClassifyRejectionContextPlusVerb(t *testing.T) {
	d := ClassifyMessage(msg("m3", "jobs@initech.com",
		"Your candidacy", "After careful consideration we are not moving forward with your profile."))

	require.Len(t, d.Events, 1)
	assert.Equal(t, EventRejection, d.Events[0].Type)
}

func TestClassifyWithdrawn(t *testing.T) {
	d := ClassifyMessage(msg("m4", "careers@acme.com",
		"Application withdrawal confirmed", "You have withdrawn your application."))

	require.Len(t, d.Events, 1)
	assert.Equal(t, EventWithdrawn, d.Events[0].Type)
	assert.Equal(t, StageWithdrawn, d.Events[0].Stage)
}

func TestClassifyOnlineAssessment(t *testing.T) {
	d := ClassifyMessage(msg("m5", "no-reply@hackerrankforwork.com",
		"Your online assessment is ready", "Complete the assessment within 7 days."))

	require.Len(t, d.Events, 1)
	assert.Equal(t, EventOA, d.Events[0].Type)
	assert.Equal(t, StageOA, d.Events[0].Stage)
}

func TestClassifyInterviewInviteFromCorporateDomain(t *testing.T) {
	d := ClassifyMessage(msg("m6", "recruiting@acme.com",
		"Schedule your phone screen", "Please share your availability for a conversation with the hiring manager."))

	require.Len(t, d.Events, 1)
	assert.Equal(t, EventInterviewInvite, d.Events[0].Type)
	assert.Equal(t, StageInterview, d.Events[0].Stage)
	assert.InDelta(t, 0.9, d.Events[0].Confidence, 1e-9)
	assert.True(t, d.Events[0].Evidence.ATSSender == false)
}

func TestClassifyInterviewFromGmailIsIgnored(t *testing.T) {
	d := ClassifyMessage(msg("m7", "someone@gmail.com",
		"Interview confirmation", "Your interview has been scheduled for Tuesday."))

	assert.True(t, d.Ignored)
	assert.Equal(t, "gmail_interview_noise", d.IgnoreReason)
	assert.Empty(t, d.Events)
}

func TestClassifyInterviewNegativeGuardVetoes(t *testing.T) {
	d := ClassifyMessage(msg("m8", "billing@vendor.com",
		"Invoice for your interview prep subscription", "Payment schedule attached."))

	assert.Empty(t, d.Events)
	assert.True(t, d.Ignored)
}

func TestClassifyInterviewReminderLowConfidence(t *testing.T) {
	d := ClassifyMessage(msg("m9", "scheduler@goodtime.io",
		"Reminder: your interview is on Tuesday", "Starting tomorrow at 10:00."))

	require.Len(t, d.Events, 1)
	assert.Equal(t, EventInterviewReminder, d.Events[0].Type)
	assert.InDelta(t, 0.4, d.Events[0].Confidence, 1e-9)
}

func TestClassifyRoundUpdate(t *testing.T) {
	d := ClassifyMessage(msg("m10", "talent@acme.com",
		"Moving to round 2", "Congratulations on passing the panel interview stage."))

	require.Len(t, d.Events, 1)
	assert.Equal(t, EventRoundUpdate, d.Events[0].Type)
	assert.Equal(t, StageInterview, d.Events[0].Stage)
}

func TestClassifyApplicationReceived(t *testing.T) {
	d := ClassifyMessage(msg("m11", "no-reply@greenhouse.io",
		"Thanks for applying to Widget", "We received your application for the role of Backend Engineer."))

	require.Len(t, d.Events, 1)
	assert.Equal(t, EventApplicationReceived, d.Events[0].Type)
	assert.Equal(t, StageApplied, d.Events[0].Stage)
	assert.InDelta(t, 0.9, d.Events[0].Confidence, 1e-9)
	assert.True(t, d.Events[0].Evidence.ATSSender)
}

func TestClassifyCalendarResponsePrefixIgnored(t *testing.T) {
	d := ClassifyMessage(msg("m12", "me@gmail.com",
		"Accepted: Interview with Acme", "Looking forward to it."))

	assert.True(t, d.Ignored)
	assert.Equal(t, "calendar_response_prefix", d.IgnoreReason)
}

func TestClassifySurveyIgnored(t *testing.T) {
	d := ClassifyMessage(msg("m13", "hello@recruitmentsurvey.example.com",
		"Tell us about your candidate experience survey", "Two minutes of feedback."))

	assert.True(t, d.Ignored)
	assert.Equal(t, "survey_feedback_subject", d.IgnoreReason)
}

func TestClassifyNoMatch(t *testing.T) {
	d := ClassifyMessage(msg("m14", "newsletter@techdigest.com",
		"This week in distributed systems", "Ten links worth reading."))

	assert.True(t, d.Ignored)
	assert.Equal(t, "no_match", d.IgnoreReason)
	assert.Equal(t, "ignore:no_match", d.RuleID)
}

func TestApplicationKeyDomainRolePrecedence(t *testing.T) {
	info := GetApplicationKeyInfo(msg("k1", "jobs@acme.com",
		"Application for the role of Staff Engineer", "We received your application, thank you."))

	assert.Equal(t, "domain_role", info.KeySource)
	assert.Equal(t, "acme com staff engineer", info.ApplicationKey)
	assert.Equal(t, "staff engineer", info.RoleTitle)
}

func TestApplicationKeyThreadFallback(t *testing.T) {
	m := msg("k2", "someone@gmail.com", "hello", "no role here")
	info := GetApplicationKeyInfo(m)

	assert.Equal(t, "thread_fallback", info.KeySource)
	assert.Equal(t, "t k2", info.ApplicationKey)
	assert.Empty(t, info.RoleTitle)
	assert.Zero(t, info.RoleTitleConfidence)
}

func TestApplicationKeyATSTemplateUsesCompanyName(t *testing.T) {
	info := GetApplicationKeyInfo(msg("k3", "no-reply@greenhouse.io",
		"Your application", "Thanks for your application for the role of Data Engineer with Widget."))

	assert.Equal(t, "ats_template", info.CompanyDomainSource)
	assert.Equal(t, "name_role", info.KeySource)
	assert.Contains(t, info.ApplicationKey, "data engineer")
	assert.InDelta(t, 0.9, info.RoleTitleConfidence, 1e-9)
}

func TestSubjectSnippetHashStable(t *testing.T) {
	a := SubjectSnippetHash("Subject", "Snippet")
	b := SubjectSnippetHash("Subject", "Snippet")
	c := SubjectSnippetHash("Subject", "Other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestDomainHelpers(t *testing.T) {
	assert.True(t, IsATSDomain("mail.greenhouse.io"))
	assert.True(t, IsATSDomain("lever.co"))
	assert.False(t, IsATSDomain("acme.com"))
	assert.True(t, IsFreeMailDomain("proton.me"))
	assert.False(t, IsFreeMailDomain("acme.com"))
}

func TestFormatConfidence(t *testing.T) {
	assert.Equal(t, "0.90", FormatConfidence(0.9))
	assert.Equal(t, "0.35", FormatConfidence(0.35))
}
