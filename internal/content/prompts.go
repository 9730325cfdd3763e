package content

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"pal-backend/internal/models"
)

const systemInstruction = `You write marketing copy for a Pop-A-Lock locksmith franchise.
Write in a friendly, professional voice. Never invent prices, guarantees or
customer names that are not in the job notes. Never include the customer's
phone number or street address.`

func businessName(f *models.Franchisee) string {
	switch {
	case f.GMBLocationName != "":
		return f.GMBLocationName
	case f.BusinessName != "":
		return f.BusinessName
	default:
		return "Pop-A-Lock " + f.Name
	}
}

func jobFacts(job *models.JobSubmission, f *models.Franchisee) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business: %s\n", businessName(f))
	if job.City != "" {
		fmt.Fprintf(&b, "City: %s\n", job.City)
	} else if f.City != "" {
		fmt.Fprintf(&b, "City: %s\n", f.City)
	}
	fmt.Fprintf(&b, "Service category: %s\n", job.ServiceCategory)
	fmt.Fprintf(&b, "Service: %s\n", job.ServiceType)
	if job.Technician.Name != "" {
		fmt.Fprintf(&b, "Technician first name: %s\n", strings.Fields(job.Technician.Name)[0])
	}
	fmt.Fprintf(&b, "Date: %s\n", job.SubmittedAt.Format("January 2, 2006"))
	fmt.Fprintf(&b, "Technician notes: %s\n", job.Description)
	return b.String()
}

// JobPrompt builds the prompt for one of the per-job content kinds.
func JobPrompt(kind models.ContentKind, job *models.JobSubmission, f *models.Franchisee) (string, error) {
	facts := jobFacts(job, f)
	switch kind {
	case models.ContentSummary:
		return "Summarize this completed job in two or three sentences for the franchise owner.\n\n" + facts, nil
	case models.ContentSocialPost:
		return "Write a Facebook post (under 80 words, at most two emojis, three local hashtags) about this job.\n\n" + facts, nil
	case models.ContentGMBPost:
		return "Write a Google Business Profile update (under 1200 characters, no hashtags, end with a call to action to call us) about this job.\n\n" + facts, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

type ReportStats struct {
	From       time.Time
	To         time.Time
	ByStatus   map[string]int64
	ByCategory map[string]int64
	Photos     int64
	Total      int64
}

func sortedCounts(m map[string]int64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// ReportPrompt narrates franchisee activity over a date range.
func ReportPrompt(f *models.Franchisee, s ReportStats) string {
	return fmt.Sprintf(`Write a short activity report (one paragraph and up to four bullet points) for the owner of %s.
Period: %s to %s
Jobs submitted: %d
Jobs by status: %s
Jobs by category: %s
Photos uploaded: %d
Point out anything worth acting on, such as jobs still waiting for approval.`,
		businessName(f),
		s.From.Format("2006-01-02"), s.To.Format("2006-01-02"),
		s.Total, sortedCounts(s.ByStatus), sortedCounts(s.ByCategory), s.Photos)
}
