package job

import (
	"strings"

	"github.com/postpilot/postpilot-go/internal/domain/model"
)

// keySeparator joins duplicate-key parts without colliding with content.
const keySeparator = "\x1f"

// NormalizeContent trims, lowercases, and collapses every run of
// whitespace to a single space. Duplicate detection and content length
// checks both operate on this form.
func NormalizeContent(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// DuplicateKey builds the uniqueness key for non-terminal jobs: the
// account, the platform, and the normalised content. An empty account ID
// is a first-class value and participates like any other.
func DuplicateKey(accountID string, platform model.Platform, content string) string {
	return accountID + keySeparator + string(platform) + keySeparator + NormalizeContent(content)
}

// FindDuplicate scans a cache snapshot for a non-terminal job holding the
// candidate's duplicate key. The candidate itself is skipped when it
// already has an ID. Returns nil when no duplicate exists.
func FindDuplicate(jobs map[string]*model.Job, candidate *model.Job) *model.Job {
	key := DuplicateKey(candidate.AccountID, candidate.Platform, candidate.Content)
	for id, existing := range jobs {
		if existing == nil || id == candidate.ID {
			continue
		}
		if existing.Status.Terminal() {
			continue
		}
		if DuplicateKey(existing.AccountID, existing.Platform, existing.Content) == key {
			return existing
		}
	}
	return nil
}
