package classify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/ignite/offertracker/internal/cache"
	"github.com/ignite/offertracker/internal/identity"
	"github.com/ignite/offertracker/internal/llm"
	"github.com/ignite/offertracker/internal/mail"
	"github.com/ignite/offertracker/internal/pkg/logger"
)

// AI-schema event types. The enum is narrower than the rule schema;
// withdrawals surface as "other" on this path.
const (
	AIEventApplication = "application"
	AIEventInterview   = "interview"
	AIEventRejection   = "rejection"
	AIEventOffer       = "offer"
	AIEventOther       = "other"
)

var allowedAIEventTypes = map[string]bool{
	AIEventApplication: true,
	AIEventInterview:   true,
	AIEventRejection:   true,
	AIEventOffer:       true,
	AIEventOther:       true,
}

// StatusByAIEvent maps AI event types to application statuses.
var StatusByAIEvent = map[string]string{
	AIEventApplication: "Applied",
	AIEventInterview:   "Interviewing",
	AIEventRejection:   "Rejected",
	AIEventOffer:       "Offer",
	AIEventOther:       "Applied",
}

// AIStatusPriority orders statuses for best-row selection on the AI path.
var AIStatusPriority = map[string]int{
	"Applied":      1,
	"Interviewing": 2,
	"Rejected":     3,
	"Offer":        4,
}

// AIMessageRow is one message's verdict on the AI path. Body is carried for
// the aggregate-time interview guard but is not an artifact column.
type AIMessageRow struct {
	MessageID        string
	ThreadID         string
	Date             time.Time
	FromEmailRaw     string
	FromEmailAddress string
	Subject          string
	IsJobRelated     bool
	Company          string
	Position         string
	EventType        string
	Status           string
	Confidence       float64
	Body             string
}

// EffectiveEventType applies the interview confirmation guard: an interview
// verdict without a meeting-invite signal degrades to other.
func EffectiveEventType(row AIMessageRow) string {
	if row.EventType != AIEventInterview {
		return row.EventType
	}
	if HasMeetingInviteSignal(row.Subject, row.Body) {
		return AIEventInterview
	}
	return AIEventOther
}

// RowCompanyLabel canonicalizes a row's company against its sender.
func RowCompanyLabel(row AIMessageRow) string {
	return identity.CanonicalCompanyName(row.Company, row.FromEmailAddress, row.FromEmailRaw, row.Subject, "")
}

// BuildDomainAliasMap collects label observations from job-related rows and
// merges intra-domain variants. RSVP noise rows are excluded so a stray
// calendar response cannot skew label counts.
func BuildDomainAliasMap(rows []AIMessageRow) map[identity.AliasKey]string {
	observations := make([]identity.LabelObservation, 0, len(rows))
	for _, r := range rows {
		if !r.IsJobRelated {
			continue
		}
		if IsCalendarRSVPNoise(r.FromEmailAddress, r.Subject) {
			continue
		}
		root := identity.DomainRootFromEmail(r.FromEmailAddress)
		if root == "" {
			continue
		}
		label := RowCompanyLabel(r)
		if label == "" {
			continue
		}
		observations = append(observations, identity.LabelObservation{DomainRoot: root, Label: label})
	}
	return identity.BuildAliasMap(observations)
}

// ResolvedRowCompany returns the row's canonical company after alias merging.
func ResolvedRowCompany(row AIMessageRow, aliases map[identity.AliasKey]string) string {
	label := RowCompanyLabel(row)
	root := identity.DomainRootFromEmail(row.FromEmailAddress)
	return identity.Resolve(aliases, root, label)
}

// AIClassifier runs the LLM path over a message set with bounded fan-out.
// Cache, when set, is consulted by content hash before the transport so
// re-runs over an unchanged mailbox skip already-classified messages.
type AIClassifier struct {
	Client       llm.Client
	Cache        cache.Store
	MaxBodyChars int
	Concurrency  int
}

// NewAIClassifier applies the pinned defaults (7000 body chars, 8 workers).
func NewAIClassifier(client llm.Client) *AIClassifier {
	return &AIClassifier{Client: client, MaxBodyChars: 7000, Concurrency: 8}
}

// ClassifyMessages fans messages out to the transport and returns one row
// per message, re-sorted by (date, message id). A failed call degrades that
// message to a non-job "other" verdict; the run continues.
func (c *AIClassifier) ClassifyMessages(ctx context.Context, messages []mail.Message) []AIMessageRow {
	workers := c.Concurrency
	if workers <= 0 {
		workers = 8
	}
	if workers > len(messages) {
		workers = len(messages)
	}

	rows := make([]AIMessageRow, len(messages))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				rows[idx] = c.classifyOne(ctx, messages[idx])
			}
		}()
	}
	for idx := range messages {
		select {
		case jobs <- idx:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	// Cancellation leaves zero rows behind; fill them so downstream code
	// never sees empty message ids.
	for idx, row := range rows {
		if row.MessageID == "" {
			rows[idx] = fallbackRow(messages[idx])
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].MessageID < rows[j].MessageID
	})
	return rows
}

func (c *AIClassifier) classifyOne(ctx context.Context, msg mail.Message) AIMessageRow {
	body := msg.BodyOrSnippet()
	maxChars := c.MaxBodyChars
	if maxChars <= 0 {
		maxChars = 7000
	}
	if len(body) > maxChars {
		body = body[:maxChars]
	}

	key := verdictCacheKey(msg.SenderAddress(), msg.Subject, body)
	if c.Cache != nil {
		if cached, ok, err := c.Cache.Get(ctx, key); err != nil {
			logger.Warn("verdict cache read failed", "message_id", msg.ID, "error", err.Error())
		} else if ok {
			return buildAIRow(msg, cached)
		}
	}

	verdict, err := c.Client.ClassifyOne(ctx, llm.Request{
		SenderEmail: msg.SenderAddress(),
		Subject:     msg.Subject,
		Body:        body,
		ReceivedAt:  msg.Date.Format(time.RFC3339),
	})
	if err != nil {
		logger.Warn("llm classification failed, degrading to other",
			"message_id", msg.ID, "error", err.Error())
		return fallbackRow(msg)
	}
	if c.Cache != nil {
		if err := c.Cache.Put(ctx, key, verdict); err != nil {
			logger.Warn("verdict cache write failed", "message_id", msg.ID, "error", err.Error())
		}
	}
	return buildAIRow(msg, verdict)
}

// verdictCacheKey hashes the exact inputs sent to the model, so any change
// to sender, subject, or the truncated body forces a fresh classification.
func verdictCacheKey(sender, subject, body string) string {
	h := sha256.New()
	h.Write([]byte(sender))
	h.Write([]byte{'|'})
	h.Write([]byte(subject))
	h.Write([]byte{'|'})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}

// buildAIRow applies the caller-side guards, in order: event-type
// allow-list, confidence clamp, calendar-RSVP noise, interview signal,
// company canonicalization.
func buildAIRow(msg mail.Message, verdict llm.RawVerdict) AIMessageRow {
	eventType := identity.Normalize(verdict.EventType)
	if !allowedAIEventTypes[eventType] {
		eventType = AIEventOther
	}

	conf := verdict.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	senderAddr := msg.SenderAddress()
	isJobRelated := verdict.IsJobRelated
	company := identity.CanonicalCompanyName(verdict.Company, senderAddr, msg.FromEmail, msg.Subject, msg.BodyOrSnippet())

	if IsCalendarRSVPNoise(senderAddr, msg.Subject) {
		isJobRelated = false
		eventType = AIEventOther
		company = ""
	} else if eventType == AIEventInterview && !HasMeetingInviteSignal(msg.Subject, msg.BodyOrSnippet()) {
		eventType = AIEventOther
	}
	if !isJobRelated {
		eventType = AIEventOther
		company = ""
	}

	return AIMessageRow{
		MessageID:        msg.ID,
		ThreadID:         msg.ThreadID,
		Date:             msg.Date,
		FromEmailRaw:     msg.FromEmail,
		FromEmailAddress: senderAddr,
		Subject:          truncate(msg.Subject, 200),
		IsJobRelated:     isJobRelated,
		Company:          company,
		Position:         identity.Normalize(verdict.Position),
		EventType:        eventType,
		Status:           StatusByAIEvent[eventType],
		Confidence:       conf,
		Body:             msg.BodyOrSnippet(),
	}
}

func fallbackRow(msg mail.Message) AIMessageRow {
	return AIMessageRow{
		MessageID:        msg.ID,
		ThreadID:         msg.ThreadID,
		Date:             msg.Date,
		FromEmailRaw:     msg.FromEmail,
		FromEmailAddress: msg.SenderAddress(),
		Subject:          truncate(msg.Subject, 200),
		IsJobRelated:     false,
		EventType:        AIEventOther,
		Status:           StatusByAIEvent[AIEventOther],
		Confidence:       0,
		Body:             msg.BodyOrSnippet(),
	}
}
