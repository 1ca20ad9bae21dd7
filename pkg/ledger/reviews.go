package ledger

import (
	"fmt"
	"strings"
)

// Review verdicts accepted by AddReview.
const (
	VerdictApprove          = "APPROVE"
	VerdictRequestChanges   = "REQUEST_CHANGES"
	VerdictPassWithComments = "PASS_WITH_COMMENTS"
	VerdictReject           = "REJECT"
)

// MaxFixAttempts is the escalation ceiling for one feature: two recorded
// fixes mean the next attempt is final, three call for a human tiebreaker.
// The ledger reports the count; enforcement is left to the prompts.
const MaxFixAttempts = 3

const reviewSchemaVersion = "1.0"

// Issue is one reviewer finding. Findings arrive as free-form JSON from the
// review agent, so the shape is preserved verbatim across round trips; the
// accessors read the conventional keys.
type Issue map[string]any

func (i Issue) ID() string          { return issueStr(i["id"]) }
func (i Issue) Severity() string    { return issueStr(i["severity"]) }
func (i Issue) Description() string { return issueStr(i["description"]) }
func (i Issue) Location() string    { return issueStr(i["location"]) }
func (i Issue) Suggestion() string  { return issueStr(i["suggestion"]) }

func issueStr(v any) string {
	s, _ := v.(string)
	return s
}

// ReviewRecord is one append-only review entry. Architecture reviews carry
// a nil FeatureID.
type ReviewRecord struct {
	ReviewID    int         `json:"review_id"`
	AgentType   string      `json:"agent_type"`
	FeatureID   *string     `json:"feature_id"`
	Branch      string      `json:"branch"`
	Timestamp   string      `json:"timestamp"`
	Verdict     string      `json:"verdict"`
	Issues      []Issue     `json:"issues"`
	Summary     string      `json:"summary"`
	CommitRange CommitRange `json:"commit_range"`
}

// FixRecord is one append-only fix attempt, keyed to the review it
// addresses.
type FixRecord struct {
	FixID          int      `json:"fix_id"`
	ReviewID       int      `json:"review_id"`
	FeatureID      *string  `json:"feature_id"`
	Branch         string   `json:"branch"`
	AgentType      string   `json:"agent_type"`
	Timestamp      string   `json:"timestamp"`
	IssuesFixed    []string `json:"issues_fixed"`
	IssuesDeferred []string `json:"issues_deferred"`
	TestsAdded     []string `json:"tests_added"`
	MergedToMain   bool     `json:"merged_to_main"`
	PendingReview  bool     `json:"pending_review"`
	MergedAt       string   `json:"merged_at,omitempty"`
}

// ReviewLog is the full reviews.json document.
type ReviewLog struct {
	SchemaVersion string         `json:"schema_version"`
	Reviews       []ReviewRecord `json:"reviews"`
	Fixes         []FixRecord    `json:"fixes"`
}

// ReviewEntry carries the caller-supplied fields for AddReview.
type ReviewEntry struct {
	AgentType  string
	FeatureID  *string
	Branch     string
	Verdict    string
	Issues     []Issue
	Summary    string
	CommitFrom string
	CommitTo   string
}

// FixEntry carries the caller-supplied fields for AddFix.
type FixEntry struct {
	ReviewID       int
	FeatureID      *string
	Branch         string
	IssuesFixed    []string
	IssuesDeferred []string
	TestsAdded     []string
}

// ReviewLedger provides the reviews.json operations.
type ReviewLedger struct {
	path string
}

// NewReviewLedger returns a ledger rooted at the given file path.
func NewReviewLedger(path string) *ReviewLedger {
	return &ReviewLedger{path: path}
}

// Path returns the backing file location.
func (l *ReviewLedger) Path() string { return l.path }

// Load reads the full document.
func (l *ReviewLedger) Load() (*ReviewLog, error) {
	var doc ReviewLog
	if err := Load(l.path, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Init creates an empty reviews.json. Fails if the file already exists
// unless force is set.
func (l *ReviewLedger) Init(force bool) error {
	if Exists(l.path) && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", l.path)
	}
	doc := &ReviewLog{
		SchemaVersion: reviewSchemaVersion,
		Reviews:       []ReviewRecord{},
		Fixes:         []FixRecord{},
	}
	return Save(l.path, doc)
}

// AddReview validates the verdict, assigns the next monotonic review id,
// and appends.
func (l *ReviewLedger) AddReview(e ReviewEntry) (*ReviewRecord, error) {
	switch e.Verdict {
	case VerdictApprove, VerdictRequestChanges, VerdictPassWithComments, VerdictReject:
	default:
		return nil, fmt.Errorf("invalid verdict %q", e.Verdict)
	}

	doc, err := l.Load()
	if err != nil {
		return nil, err
	}

	issues := e.Issues
	if issues == nil {
		issues = []Issue{}
	}
	rec := ReviewRecord{
		ReviewID:    maxReviewID(doc.Reviews) + 1,
		AgentType:   e.AgentType,
		FeatureID:   e.FeatureID,
		Branch:      e.Branch,
		Timestamp:   nowStamp(),
		Verdict:     e.Verdict,
		Issues:      issues,
		Summary:     e.Summary,
		CommitRange: CommitRange{From: e.CommitFrom, To: e.CommitTo},
	}
	doc.Reviews = append(doc.Reviews, rec)

	if err := Save(l.path, doc); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AddFix appends a fix attempt. The referenced review must exist; a broken
// foreign key aborts before anything is written.
func (l *ReviewLedger) AddFix(e FixEntry) (*FixRecord, error) {
	doc, err := l.Load()
	if err != nil {
		return nil, err
	}

	found := false
	for _, r := range doc.Reviews {
		if r.ReviewID == e.ReviewID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("review R%d: %w", e.ReviewID, ErrNotFound)
	}

	rec := FixRecord{
		FixID:          maxFixID(doc.Fixes) + 1,
		ReviewID:       e.ReviewID,
		FeatureID:      e.FeatureID,
		Branch:         e.Branch,
		AgentType:      "FIX",
		Timestamp:      nowStamp(),
		IssuesFixed:    orEmpty(e.IssuesFixed),
		IssuesDeferred: orEmpty(e.IssuesDeferred),
		TestsAdded:     cleanList(e.TestsAdded),
		MergedToMain:   false,
		PendingReview:  true,
	}
	doc.Fixes = append(doc.Fixes, rec)

	if err := Save(l.path, doc); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Review returns a review by id; -1 means the most recent.
func (l *ReviewLedger) Review(id int) (*ReviewRecord, error) {
	doc, err := l.Load()
	if err != nil {
		return nil, err
	}
	if id == -1 {
		if len(doc.Reviews) == 0 {
			return nil, fmt.Errorf("no reviews recorded: %w", ErrNotFound)
		}
		rec := doc.Reviews[len(doc.Reviews)-1]
		return &rec, nil
	}
	for _, r := range doc.Reviews {
		if r.ReviewID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("review R%d: %w", id, ErrNotFound)
}

// FixCount counts fix attempts recorded against one feature.
func (l *ReviewLedger) FixCount(featureID string) (int, error) {
	doc, err := l.Load()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, f := range doc.Fixes {
		if f.FeatureID != nil && *f.FeatureID == featureID {
			count++
		}
	}
	return count, nil
}

// IssueReport formats the most recent review's findings for a fix session
// to work through.
func (l *ReviewLedger) IssueReport() (string, error) {
	rev, err := l.Review(-1)
	if err != nil {
		return "", err
	}
	return FormatIssues(rev), nil
}

// MarkMerged flips a fix to merged and clears its pending flag.
func (l *ReviewLedger) MarkMerged(fixID int) (*FixRecord, error) {
	doc, err := l.Load()
	if err != nil {
		return nil, err
	}
	for i := range doc.Fixes {
		if doc.Fixes[i].FixID != fixID {
			continue
		}
		doc.Fixes[i].MergedToMain = true
		doc.Fixes[i].PendingReview = false
		doc.Fixes[i].MergedAt = nowStamp()
		if err := Save(l.path, doc); err != nil {
			return nil, err
		}
		rec := doc.Fixes[i]
		return &rec, nil
	}
	return nil, fmt.Errorf("fix F%d: %w", fixID, ErrNotFound)
}

// severityOrder fixes the display order for grouped findings.
var severityOrder = []string{"critical", "major", "minor", "suggestion"}

// FormatIssues renders a review's findings grouped by severity, most severe
// first. An empty review yields the NO_ISSUES marker line.
func FormatIssues(rev *ReviewRecord) string {
	if len(rev.Issues) == 0 {
		return "NO_ISSUES: Review has no issues to fix"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== ISSUES TO FIX ===\n")
	fmt.Fprintf(&b, "Review: R%d\n", rev.ReviewID)
	fmt.Fprintf(&b, "Feature: %s\n", featureLabel(rev.FeatureID))
	fmt.Fprintf(&b, "Verdict: %s\n", rev.Verdict)

	for _, severity := range severityOrder {
		var group []Issue
		for _, issue := range rev.Issues {
			if strings.EqualFold(issue.Severity(), severity) {
				group = append(group, issue)
			}
		}
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n--- %s (%d) ---\n", strings.ToUpper(severity), len(group))
		for _, issue := range group {
			fmt.Fprintf(&b, "  [%s] %s\n", issue.ID(), issue.Description())
			if loc := issue.Location(); loc != "" {
				fmt.Fprintf(&b, "    Location: %s\n", loc)
			}
			if fix := issue.Suggestion(); fix != "" {
				fmt.Fprintf(&b, "    Fix: %s\n", fix)
			}
		}
	}
	return b.String()
}

// featureLabel names the review subject; architecture reviews carry no
// feature id.
func featureLabel(p *string) string {
	if p == nil || *p == "" {
		return "ARCHITECTURE"
	}
	return *p
}

func maxReviewID(reviews []ReviewRecord) int {
	max := 0
	for _, r := range reviews {
		if r.ReviewID > max {
			max = r.ReviewID
		}
	}
	return max
}

func maxFixID(fixes []FixRecord) int {
	max := 0
	for _, f := range fixes {
		if f.FixID > max {
			max = f.FixID
		}
	}
	return max
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
