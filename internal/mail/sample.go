package mail

import (
	"context"
	"time"
)

// SampleSource returns a fixed mailbox for local demos without OAuth.
type SampleSource struct{}

func (SampleSource) Fetch(ctx context.Context, opts FetchOptions) ([]Message, error) {
	_ = opts
	now := time.Now().UTC()
	return []Message{
		{
			ID:        "sample-1",
			ThreadID:  "t1",
			Date:      now,
			FromEmail: "jobs@companya.com",
			Subject:   "Thanks for applying",
			Snippet:   "Your application has been received",
			Body:      "Your application has been received",
		},
		{
			ID:        "sample-2",
			ThreadID:  "t1",
			Date:      now,
			FromEmail: "recruiting@companya.com",
			Subject:   "Recruiter screen invitation",
			Snippet:   "Schedule your recruiter screen interview",
			Body:      "Schedule your recruiter screen interview",
		},
		{
			ID:        "sample-3",
			ThreadID:  "t2",
			Date:      now,
			FromEmail: "hiring@company.com",
			Subject:   "Online assessment",
			Snippet:   "Please complete OA",
			Body:      "Please complete OA",
		},
		{
			ID:        "sample-4",
			ThreadID:  "t2",
			Date:      now,
			FromEmail: "calendar@company.com",
			Subject:   "Interview confirmation",
			Snippet:   "Your interview has been scheduled",
			Body:      "Your interview has been scheduled",
		},
		{
			ID:        "sample-5",
			ThreadID:  "t2",
			Date:      now,
			FromEmail: "recruiting@company.com",
			Subject:   "Offer letter",
			Snippet:   "We are pleased to offer you",
			Body:      "We are pleased to offer you",
		},
		{
			ID:        "sample-6",
			ThreadID:  "t3",
			Date:      now,
			FromEmail: "no-reply@ashbyhq.com",
			Subject:   "Application update",
			Snippet:   "We regret to inform you",
			Body:      "We regret to inform you",
		},
		{
			ID:        "sample-7",
			ThreadID:  "t4",
			Date:      now,
			FromEmail: "candidate@gmail.com",
			Subject:   "Application withdrawn",
			Snippet:   "I would like to withdraw my application",
			Body:      "I would like to withdraw my application",
		},
	}, nil
}
