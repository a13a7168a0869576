// Package classify turns normalized messages into classification decisions.
// Two classifiers share the output vocabulary: a deterministic rules engine
// (this file) and an LLM-delegated variant (ai.go). The rules engine is a
// pure function so every decision is reproducible and explainable by its
// rule_id.
package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ignite/offertracker/internal/identity"
	"github.com/ignite/offertracker/internal/mail"
)

// Event types emitted by the rules engine, richest first in match priority.
const (
	EventOffer               = "offer"
	EventRejection           = "rejection"
	EventWithdrawn           = "withdrawn"
	EventOA                  = "oa"
	EventInterviewReminder   = "interview_reminder"
	EventInterviewInvite     = "interview_invite"
	EventRoundUpdate         = "round_update"
	EventStatusUpdate        = "status_update"
	EventApplicationReceived = "application_received"
)

// Stages derived from event types.
const (
	StageApplied   = "Applied"
	StageOA        = "OA"
	StageInterview = "Interview"
	StageOffer     = "Offer"
	StageRejected  = "Rejected"
	StageWithdrawn = "Withdrawn"
)

// freeDomains are full free-mail domains; senders here are the candidate's
// own mailbox or a calendar relay, not an employer.
var freeDomains = map[string]bool{
	"gmail.com":      true,
	"outlook.com":    true,
	"hotmail.com":    true,
	"yahoo.com":      true,
	"icloud.com":     true,
	"proton.me":      true,
	"protonmail.com": true,
}

// atsHints are ATS sender domains; a suffix match marks the sender as an
// intermediary whose templates carry the hiring company elsewhere.
var atsHints = []string{
	"greenhouse.io",
	"ashbyhq.com",
	"lever.co",
	"workday.com",
	"myworkday.com",
	"smartrecruiters.com",
	"jobvite.com",
	"icims.com",
}

var interviewAnchorPhrases = []string{
	"interview",
	"conversation",
	"phone screen",
	"recruiter screen",
	"hiring manager",
}

var interviewSchedulingPhrases = []string{
	"schedule",
	"scheduled",
	"availability",
	"next steps",
	"invite",
	"invitation",
	"confirmation",
	"reschedule",
	"calendar",
}

var interviewStrongPatterns = []*regexp.Regexp{
	regexp.MustCompile(`schedule (?:your|an?|the)?\s*(?:recruiter\s+screen|phone\s+screen|interview|conversation)`),
	regexp.MustCompile(`(?:interview|conversation).{0,24}(?:has been|is|was)?\s*scheduled`),
	regexp.MustCompile(`availability(?: request)?.{0,32}(?:interview|conversation)`),
	regexp.MustCompile(`(?:interview|conversation) confirmation`),
	regexp.MustCompile(`invitation to interview`),
}

var interviewNegativePhrases = []string{
	"invoice",
	"receipt",
	"bill",
	"billing",
	"statement",
	"payment",
	"candidate profile",
	"profile purge",
	"profile is about to be purged",
	"order execution",
}

var rolePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)for (?:the )?role of ([^\n,|]+)`),
	regexp.MustCompile(`(?i)for (?:the )?position of ([^\n,|]+)`),
	regexp.MustCompile(`(?i)position[:\s-]+([^\n|]+)`),
	regexp.MustCompile(`(?i)application (?:for|to) ([^\n,|]+)`),
}

var (
	offerPatterns = []string{"offer letter", "pleased to offer", "extend an offer"}

	rejectionDecisionPatterns = []string{
		"decided not to progress your application",
		"not to progress your application further",
		"not progress your application further",
		"not to move forward with",
		"will not be progressing your application",
		"will not be progressing",
		"not be taking your application forward",
		"we have decided not to progress your application further on this occasion",
		"journey has come to an end",
		"candidate rejection",
	}
	rejectionContextPatterns = []string{"after careful consideration", "unfortunately"}
	rejectionVerbPatterns    = []*regexp.Regexp{
		regexp.MustCompile(`not moving forward`),
		regexp.MustCompile(`regret to inform`),
		regexp.MustCompile(`unsuccessful`),
		regexp.MustCompile(`position has been filled`),
		regexp.MustCompile(`no longer under consideration`),
		regexp.MustCompile(`not progress`),
		regexp.MustCompile(`not be progressing`),
		regexp.MustCompile(`not be taking .* forward`),
	}
	rejectionCorePatterns = append(append([]string{}, rejectionDecisionPatterns...),
		"not moving forward",
		"regret to inform",
		"unfortunately we",
		"unsuccessful",
		"position has been filled",
		"no longer under consideration",
		"pursue other candidates",
		"other applicants",
		"on this occasion",
		"application status",
	)

	withdrawnPatterns = []*regexp.Regexp{
		regexp.MustCompile(`withdraw(n)? (my )?application`),
		regexp.MustCompile(`withdrawal`),
		regexp.MustCompile(`withdrawn`),
	}
	oaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\boa\b`),
		regexp.MustCompile(`online assessment`),
		regexp.MustCompile(`take-home`),
		regexp.MustCompile(`hackerrank`),
		regexp.MustCompile(`codility`),
		regexp.MustCompile(`codesignal`),
		regexp.MustCompile(`coding challenge`),
		regexp.MustCompile(`assessment`),
	}
	roundUpdatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`round\s*[1-4]`),
		regexp.MustCompile(`final round`),
		regexp.MustCompile(`panel interview`),
		regexp.MustCompile(`second interview`),
		regexp.MustCompile(`next interview`),
	}
	statusUpdatePatterns = []string{
		"application update",
		"status update",
		"update on your application",
		"update regarding your application",
	}
	applicationReceivedPhrase = []string{
		"thanks for applying",
		"thank you for applying",
		"application received",
		"application confirmation",
		"regarding your application",
		"we received your application",
		"application was sent",
		"update on your application",
	}
)

var ignoreSubjectPrefixes = []string{"accepted:", "declined:", "tentative:"}

var textDomainTokenRe = regexp.MustCompile(`\b([a-z0-9][a-z0-9.-]+\.[a-z]{2,})\b`)

// Evidence records why an event was emitted, tied back to its message.
type Evidence struct {
	MessageID          string `json:"message_id"`
	ThreadID           string `json:"thread_id"`
	FromDomain         string `json:"from_domain"`
	Subject            string `json:"subject"`
	SubjectSnippetHash string `json:"subject_snippet_hash"`
	Pattern            string `json:"pattern"`
	ATSSender          bool   `json:"ats_sender"`
	ApplicationKey     string `json:"application_key"`
}

// Event is one classified lifecycle event on the rule path.
type Event struct {
	Type           string
	Stage          string
	OccurredAt     time.Time
	Confidence     float64
	Evidence       Evidence
	ApplicationKey string
}

// Decision is the rules engine's verdict for one message.
type Decision struct {
	Events         []Event
	Ignored        bool
	IgnoreReason   string
	ApplicationKey string
	RuleID         string
}

// ApplicationKeyInfo carries the identity hints extracted from one message,
// exported for the diagnostic reporters.
type ApplicationKeyInfo struct {
	ApplicationKey      string
	KeySource           string // "domain_role", "name_role", "thread_fallback"
	CompanyDomain       string
	CompanyDomainSource string // "subject_regex", "ats_template", "sender_domain", "unknown"
	CompanyName         string
	RoleTitle           string
	RoleTitleSource     string
	RoleTitleConfidence float64
}

// IsATSDomain reports whether the sender domain belongs to a known ATS.
func IsATSDomain(domain string) bool {
	for _, h := range atsHints {
		if domain == h || strings.Contains(domain, h) {
			return true
		}
	}
	return false
}

// IsFreeMailDomain reports whether the sender domain is a free-mail provider.
func IsFreeMailDomain(domain string) bool {
	return freeDomains[domain]
}

func companyNameFromDomain(domain string) string {
	if domain == "" {
		return ""
	}
	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return parts[0]
	}
	return parts[len(parts)-2]
}

var companyNameTextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bwith\s+([A-Z][A-Za-z0-9& .'-]{1,64})`),
	regexp.MustCompile(`\bat\s+([A-Z][A-Za-z0-9& .'-]{1,64})`),
	regexp.MustCompile(`\bjoining\s+([A-Z][A-Za-z0-9& .'-]{1,64})`),
}

func extractCompanyNameFromText(subject, snippet string) string {
	text := subject + " | " + snippet
	for _, re := range companyNameTextPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			name := strings.Trim(strings.Join(strings.Fields(m[1]), " "), " .,-|")
			if name != "" {
				return strings.ToLower(name)
			}
		}
	}
	return ""
}

// extractCompanyDomainMeta prefers a concrete domain mentioned in the text
// over the sender domain, which may be an ATS relay.
func extractCompanyDomainMeta(subject, snippet, senderDomain string) (string, string) {
	text := strings.ToLower(subject + " " + snippet)
	for _, m := range textDomainTokenRe.FindAllStringSubmatch(text, -1) {
		if freeDomains[m[1]] {
			continue
		}
		return m[1], "subject_regex"
	}
	if senderDomain != "" && !freeDomains[senderDomain] {
		if IsATSDomain(senderDomain) {
			return "", "ats_template"
		}
		return senderDomain, "sender_domain"
	}
	return "", "unknown"
}

func extractRoleMeta(subject, snippet, domain string) (string, string, float64) {
	text := subject + " | " + snippet
	for _, re := range rolePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			role := identity.Normalize(m[1])
			lowered := strings.ToLower(text)
			isATSTemplate := (strings.Contains(lowered, "role of") ||
				strings.Contains(lowered, "position of") ||
				strings.Contains(lowered, "position:")) && IsATSDomain(domain)
			conf := 0.6
			if isATSTemplate {
				conf = 0.9
			}
			return role, "parsed", conf
		}
	}
	return "", "unknown", 0.0
}

// GetApplicationKeyInfo derives the application key and its supporting
// identity hints. Key precedence: sender domain + role, then company name +
// role, then thread id, then message id.
func GetApplicationKeyInfo(msg mail.Message) ApplicationKeyInfo {
	senderDomain := msg.SenderDomain()
	role, roleSource, roleConf := extractRoleMeta(msg.Subject, msg.Snippet, senderDomain)
	companyDomain, companyDomainSource := extractCompanyDomainMeta(msg.Subject, msg.Snippet, senderDomain)

	companyName := ""
	if companyDomain != "" {
		companyName = companyNameFromDomain(companyDomain)
	}
	if companyName == "" && companyDomainSource == "ats_template" {
		companyName = extractCompanyNameFromText(msg.Subject, msg.Snippet)
	}
	if companyName == "" && senderDomain != "" {
		companyName = companyNameFromDomain(senderDomain)
	}

	info := ApplicationKeyInfo{
		CompanyDomain:       companyDomain,
		CompanyDomainSource: companyDomainSource,
		CompanyName:         companyName,
		RoleTitle:           role,
		RoleTitleSource:     roleSource,
		RoleTitleConfidence: roleConf,
	}

	if senderDomain != "" && role != "" && !freeDomains[senderDomain] {
		info.ApplicationKey = identity.Normalize(senderDomain + " " + role)
		info.KeySource = "domain_role"
		return info
	}
	if companyName != "" && role != "" {
		info.ApplicationKey = identity.Normalize(companyName + " " + role)
		info.KeySource = "name_role"
		return info
	}
	info.RoleTitle = ""
	info.RoleTitleSource = "unknown"
	info.RoleTitleConfidence = 0.0
	info.KeySource = "thread_fallback"
	if msg.ThreadID != "" {
		info.ApplicationKey = identity.Normalize(msg.ThreadID)
	} else {
		info.ApplicationKey = identity.Normalize(msg.ID)
	}
	return info
}

// MakeApplicationKey returns only the key from GetApplicationKeyInfo.
func MakeApplicationKey(msg mail.Message) string {
	return GetApplicationKeyInfo(msg).ApplicationKey
}

// SubjectSnippetHash fingerprints a message's visible text for evidence rows
// and the metadata cache.
func SubjectSnippetHash(subject, snippet string) string {
	sum := sha256.Sum256([]byte(subject + "|" + snippet))
	return hex.EncodeToString(sum[:])
}

func isCalendarOrSurveyNoise(msg mail.Message) (bool, string) {
	subject := strings.ToLower(strings.TrimSpace(msg.Subject))
	snippet := strings.ToLower(msg.Snippet)
	domain := msg.SenderDomain()

	for _, prefix := range ignoreSubjectPrefixes {
		if strings.HasPrefix(subject, prefix) {
			return true, "calendar_response_prefix"
		}
	}
	if strings.Contains(subject, "survey") || strings.Contains(subject, "feedback") {
		return true, "survey_feedback_subject"
	}
	if strings.Contains(domain, "survey") || strings.Contains(domain, "recruitmentsurvey.") {
		return true, "survey_domain"
	}
	if domain == "gmail.com" &&
		(strings.Contains(subject, "accepted:") || strings.Contains(subject, "reminder:") ||
			strings.Contains(snippet, "calendar") || strings.Contains(snippet, "invitation")) {
		return true, "gmail_calendar_noise"
	}
	return false, ""
}

// shouldCreateInterviewEvent applies the interview-signal discrimination:
// negative guards veto, strong patterns pass, otherwise an interview anchor
// must co-occur with a scheduling token.
func shouldCreateInterviewEvent(msg mail.Message) bool {
	text := strings.ToLower(msg.Subject + " " + msg.Snippet)
	for _, neg := range interviewNegativePhrases {
		if strings.Contains(text, neg) {
			return false
		}
	}
	for _, re := range interviewStrongPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	hasAnchor := false
	for _, anchor := range interviewAnchorPhrases {
		if strings.Contains(text, anchor) {
			hasAnchor = true
			break
		}
	}
	if !hasAnchor {
		return false
	}
	for _, sched := range interviewSchedulingPhrases {
		if strings.Contains(text, sched) {
			return true
		}
	}
	return false
}

func matchAnyPhrase(phrases []string, text string) (string, bool) {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return p, true
		}
	}
	return "", false
}

func matchAnyRe(patterns []*regexp.Regexp, text string) (string, bool) {
	for _, re := range patterns {
		if re.MatchString(text) {
			return re.String(), true
		}
	}
	return "", false
}

func isRejectionText(text string) (bool, string) {
	if m, ok := matchAnyPhrase(rejectionDecisionPatterns, text); ok {
		return true, "rejection:decision_phrase:" + m
	}
	if m, ok := matchAnyPhrase(rejectionCorePatterns, text); ok {
		return true, "rejection:core_phrases:" + m
	}
	_, hasContext := matchAnyPhrase(rejectionContextPatterns, text)
	_, hasVerb := matchAnyRe(rejectionVerbPatterns, text)
	if hasContext && hasVerb {
		return true, "rejection:context_plus_decision_verb"
	}
	return false, ""
}

func baseEvidence(msg mail.Message, matchedPattern, applicationKey string) Evidence {
	domain := msg.SenderDomain()
	return Evidence{
		MessageID:          msg.ID,
		ThreadID:           msg.ThreadID,
		FromDomain:         domain,
		Subject:            truncate(msg.Subject, 160),
		SubjectSnippetHash: SubjectSnippetHash(msg.Subject, msg.Snippet),
		Pattern:            matchedPattern,
		ATSSender:          IsATSDomain(domain),
		ApplicationKey:     applicationKey,
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func singleEvent(msg mail.Message, eventType, stage string, confidence float64, ruleID, key string) Decision {
	ev := Event{
		Type:           eventType,
		Stage:          stage,
		OccurredAt:     msg.Date,
		Confidence:     confidence,
		Evidence:       baseEvidence(msg, ruleID, key),
		ApplicationKey: key,
	}
	return Decision{Events: []Event{ev}, ApplicationKey: key, RuleID: ruleID}
}

// ClassifyMessage is the deterministic per-message classifier. Noise checks
// run first; event rules then fire in strict priority order (offer >
// rejection > withdrawn > oa > reminder > interview_invite > round_update >
// status_update > application_received) and emit at most one event.
func ClassifyMessage(msg mail.Message) Decision {
	key := MakeApplicationKey(msg)

	if ignored, reason := isCalendarOrSurveyNoise(msg); ignored {
		return Decision{
			Ignored:        true,
			IgnoreReason:   reason,
			ApplicationKey: key,
			RuleID:         "ignore:" + reason,
		}
	}

	text := strings.ToLower(msg.Subject + "\n" + msg.Snippet + "\n" + msg.FromEmail)

	if m, ok := matchAnyPhrase(offerPatterns, text); ok {
		return singleEvent(msg, EventOffer, StageOffer, 0.9, "offer:core_phrases:"+m, key)
	}

	if ok, ruleID := isRejectionText(text); ok {
		return singleEvent(msg, EventRejection, StageRejected, 0.95, ruleID, key)
	}

	if m, ok := matchAnyRe(withdrawnPatterns, text); ok {
		return singleEvent(msg, EventWithdrawn, StageWithdrawn, 0.9, "withdrawn:core_phrases:"+m, key)
	}

	if m, ok := matchAnyRe(oaPatterns, text); ok {
		return singleEvent(msg, EventOA, StageOA, 0.9, "oa:core_phrases:"+m, key)
	}

	// Reminders carry no new signal on their own; the orchestrator drops
	// them unless the application already reached an interview.
	if strings.Contains(text, "reminder:") && (strings.Contains(text, "is on") || strings.Contains(text, "tomorrow at")) {
		return singleEvent(msg, EventInterviewReminder, StageInterview, 0.4, "interview_reminder:timing_language", key)
	}

	if shouldCreateInterviewEvent(msg) {
		domain := msg.SenderDomain()
		if domain == "gmail.com" {
			return Decision{
				Ignored:        true,
				IgnoreReason:   "gmail_interview_noise",
				ApplicationKey: key,
				RuleID:         "ignore:gmail_interview_noise",
			}
		}
		confidence := 0.35
		if domain != "" && !freeDomains[domain] {
			confidence = 0.9
		}
		return singleEvent(msg, EventInterviewInvite, StageInterview, confidence, "interview_invite:schedule_phrases", key)
	}

	if m, ok := matchAnyRe(roundUpdatePatterns, text); ok {
		return singleEvent(msg, EventRoundUpdate, StageInterview, 0.85, "round_update:round_phrases:"+m, key)
	}

	if m, ok := matchAnyPhrase(statusUpdatePatterns, text); ok {
		return singleEvent(msg, EventStatusUpdate, StageApplied, 0.7, "status_update:core_phrases:"+m, key)
	}

	if m, ok := matchAnyPhrase(applicationReceivedPhrase, text); ok {
		return singleEvent(msg, EventApplicationReceived, StageApplied, 0.9, "application_received:core_phrases:"+m, key)
	}

	return Decision{
		Ignored:        true,
		IgnoreReason:   "no_match",
		ApplicationKey: key,
		RuleID:         "ignore:no_match",
	}
}

// FormatConfidence renders a confidence for CSV cells.
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%.2f", c)
}
