package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Work item categories stored in the type field. An absent or empty type
// means a plain feature; only bugs and tech debt are tagged explicitly.
const (
	TypeFeature  = "feature"
	TypeBug      = "bug"
	TypeTechDebt = "tech_debt"
)

// ID prefixes per work item type.
const (
	PrefixFeature = "FEAT"
	PrefixBug     = "BUG"
	PrefixDebt    = "DEBT"
)

// WorkItem is a single entry in feature_list.json: a feature to build, a
// reported bug, or a recorded piece of tech debt.
type WorkItem struct {
	ID            string `json:"id"`
	Category      string `json:"category,omitempty"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Type          string `json:"type,omitempty"`
	Passes        bool   `json:"passes"`
	PassedAt      string `json:"passed_at,omitempty"`
	FailedAt      string `json:"failed_at,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	SourceAppspec string `json:"source_appspec,omitempty"`
}

// Kind normalizes the type field: anything not tagged bug or tech_debt
// counts as a feature.
func (w WorkItem) Kind() string {
	switch w.Type {
	case TypeBug:
		return TypeBug
	case TypeTechDebt:
		return TypeTechDebt
	default:
		return TypeFeature
	}
}

// FeatureList is the top-level feature_list.json document.
type FeatureList struct {
	TotalFeatures int        `json:"total_features"`
	Features      []WorkItem `json:"features"`
}

// Pending tallies unfinished work by kind.
type Pending struct {
	Bugs     int
	Debt     int
	Features int
}

// Total is the number of pending items across all kinds.
func (p Pending) Total() int { return p.Bugs + p.Debt + p.Features }

// Candidates is the next-candidates projection handed to an agent so it can
// pick a related batch of pending work.
type Candidates struct {
	TotalPending int        `json:"total_pending"`
	Shown        int        `json:"candidates_shown"`
	Features     []WorkItem `json:"features"`
}

// FeatureLedger provides the feature_list.json operations. Every mutating
// call loads, modifies, and persists in one step, mirroring the
// one-command-one-write discipline of the companion CLI.
type FeatureLedger struct {
	path string
}

// NewFeatureLedger returns a ledger rooted at the given file path.
func NewFeatureLedger(path string) *FeatureLedger {
	return &FeatureLedger{path: path}
}

// Path returns the backing file location.
func (l *FeatureLedger) Path() string { return l.path }

// Load reads the full document.
func (l *FeatureLedger) Load() (*FeatureList, error) {
	var doc FeatureList
	if err := Load(l.path, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Save persists the full document.
func (l *FeatureLedger) Save(doc *FeatureList) error {
	if doc.Features == nil {
		doc.Features = []WorkItem{}
	}
	return Save(l.path, doc)
}

// Next returns the first pending item in ledger order. filter restricts the
// scan to one kind; empty means any kind. ErrNoWork means everything that
// matches is already passing.
func (l *FeatureLedger) Next(filter string) (*WorkItem, error) {
	doc, err := l.Load()
	if err != nil {
		return nil, err
	}
	for i := range doc.Features {
		item := &doc.Features[i]
		if item.Passes {
			continue
		}
		if filter != "" && item.Kind() != filter {
			continue
		}
		out := *item
		return &out, nil
	}
	return nil, ErrNoWork
}

// NextCandidates returns up to count pending items in ledger order. Read
// only; the caller chooses which subset to work on.
func (l *FeatureLedger) NextCandidates(count int) (*Candidates, error) {
	doc, err := l.Load()
	if err != nil {
		return nil, err
	}
	pending := make([]WorkItem, 0, len(doc.Features))
	for _, item := range doc.Features {
		if !item.Passes {
			pending = append(pending, item)
		}
	}
	if len(pending) == 0 {
		return nil, ErrNoWork
	}
	shown := pending
	if count > 0 && len(pending) > count {
		shown = pending[:count]
	}
	return &Candidates{
		TotalPending: len(pending),
		Shown:        len(shown),
		Features:     shown,
	}, nil
}

// Get returns the item with the given id.
func (l *FeatureLedger) Get(id string) (*WorkItem, error) {
	doc, err := l.Load()
	if err != nil {
		return nil, err
	}
	if item := findItem(doc, id); item != nil {
		out := *item
		return &out, nil
	}
	return nil, fmt.Errorf("feature %s: %w", id, ErrNotFound)
}

// Pass marks one item passing and persists. The returned flag reports
// whether it was already passing, which callers surface as a warning.
func (l *FeatureLedger) Pass(id string) (alreadyPassing bool, err error) {
	doc, err := l.Load()
	if err != nil {
		return false, err
	}
	item := findItem(doc, id)
	if item == nil {
		return false, fmt.Errorf("feature %s: %w", id, ErrNotFound)
	}
	already := item.Passes
	item.Passes = true
	item.PassedAt = nowStamp()
	if err := l.Save(doc); err != nil {
		return false, err
	}
	return already, nil
}

// PassBatch marks several items passing in one write. The batch is
// all-or-nothing: any unknown id aborts before anything is persisted, so
// the file on disk is untouched on failure.
func (l *FeatureLedger) PassBatch(ids []string) (passed, alreadyPassing []string, err error) {
	doc, err := l.Load()
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]*WorkItem, len(doc.Features))
	for i := range doc.Features {
		byID[doc.Features[i].ID] = &doc.Features[i]
	}

	var missing []string
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("features not found: %s: %w", strings.Join(missing, ", "), ErrNotFound)
	}

	now := nowStamp()
	for _, id := range ids {
		item := byID[id]
		if item.Passes {
			alreadyPassing = append(alreadyPassing, id)
			continue
		}
		item.Passes = true
		item.PassedAt = now
		passed = append(passed, id)
	}

	if err := l.Save(doc); err != nil {
		return nil, nil, err
	}
	return passed, alreadyPassing, nil
}

// Fail marks an item failing again after a regression, stamping when and
// why.
func (l *FeatureLedger) Fail(id, reason string) error {
	doc, err := l.Load()
	if err != nil {
		return err
	}
	item := findItem(doc, id)
	if item == nil {
		return fmt.Errorf("feature %s: %w", id, ErrNotFound)
	}
	item.Passes = false
	item.FailedAt = nowStamp()
	item.FailureReason = reason
	return l.Save(doc)
}

// NextID returns the next unused id for the given work item type. It scans
// existing ids carrying the type's prefix; legacy bare-numeric ids (001,
// F001) count toward the feature sequence. A missing ledger starts each
// sequence at 001.
func (l *FeatureLedger) NextID(kind string) (string, error) {
	prefix, err := idPrefix(kind)
	if err != nil {
		return "", err
	}
	doc, err := l.Load()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Sprintf("%s-%03d", prefix, 1), nil
		}
		return "", err
	}
	return nextIDFor(doc, prefix), nil
}

// Append adds new items, assigning ids where absent and stamping each with
// the provenance tag. A missing ledger starts empty so a brownfield
// initializer can build one incrementally. The aggregate count is
// recomputed on every append.
func (l *FeatureLedger) Append(items []WorkItem, sourceTag string) ([]WorkItem, error) {
	doc, err := l.Load()
	if errors.Is(err, ErrNotFound) {
		doc = &FeatureList{Features: []WorkItem{}}
	} else if err != nil {
		return nil, err
	}

	added := make([]WorkItem, 0, len(items))
	for _, item := range items {
		if sourceTag != "" {
			item.SourceAppspec = sourceTag
		}
		if item.ID == "" {
			prefix, err := idPrefix(item.Kind())
			if err != nil {
				return nil, err
			}
			item.ID = nextIDFor(doc, prefix)
		}
		doc.Features = append(doc.Features, item)
		added = append(added, item)
	}

	doc.TotalFeatures = len(doc.Features)
	if err := l.Save(doc); err != nil {
		return nil, err
	}
	return added, nil
}

// DebtCount returns the number of pending tech debt items.
func (l *FeatureLedger) DebtCount() (int, error) {
	p, err := l.Pending()
	if err != nil {
		return 0, err
	}
	return p.Debt, nil
}

// Pending tallies unfinished work by kind.
func (l *FeatureLedger) Pending() (Pending, error) {
	doc, err := l.Load()
	if err != nil {
		return Pending{}, err
	}
	var p Pending
	for _, item := range doc.Features {
		if item.Passes {
			continue
		}
		switch item.Kind() {
		case TypeBug:
			p.Bugs++
		case TypeTechDebt:
			p.Debt++
		default:
			p.Features++
		}
	}
	return p, nil
}

// Counts reports (passing, total) for status displays. Missing, corrupt, or
// malformed ledgers degrade to (0, 0); a progress read must never take the
// loop down.
func (l *FeatureLedger) Counts() (passing, total int) {
	doc, err := l.Load()
	if err != nil {
		return 0, 0
	}
	for _, item := range doc.Features {
		if item.Passes {
			passing++
		}
	}
	return passing, len(doc.Features)
}

func findItem(doc *FeatureList, id string) *WorkItem {
	for i := range doc.Features {
		if doc.Features[i].ID == id {
			return &doc.Features[i]
		}
	}
	return nil
}

// idPrefix maps a work item type (or an id prefix passed through from the
// CLI) onto its canonical prefix.
func idPrefix(kind string) (string, error) {
	switch kind {
	case TypeFeature, PrefixFeature, "feat":
		return PrefixFeature, nil
	case TypeBug, PrefixBug:
		return PrefixBug, nil
	case TypeTechDebt, PrefixDebt, "debt":
		return PrefixDebt, nil
	default:
		return "", fmt.Errorf("unknown work item type %q", kind)
	}
}

func nextIDFor(doc *FeatureList, prefix string) string {
	max := 0
	for _, item := range doc.Features {
		if n, ok := idNumber(item.ID, prefix); ok && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s-%03d", prefix, max+1)
}

// idNumber extracts the sequence number from an id when it belongs to the
// given prefix. Legacy ids without a typed prefix, bare digits or F+digits,
// belong to FEAT.
func idNumber(id, prefix string) (int, bool) {
	if rest, ok := strings.CutPrefix(id, prefix+"-"); ok {
		n, err := strconv.Atoi(rest)
		return n, err == nil
	}
	if prefix != PrefixFeature {
		return 0, false
	}
	legacy := strings.TrimPrefix(id, "F")
	n, err := strconv.Atoi(legacy)
	return n, err == nil
}
