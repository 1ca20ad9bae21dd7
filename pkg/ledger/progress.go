package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ClearField is the sentinel callers pass to blank the current feature or
// branch pointer, distinguishing "clear it" from "leave it alone".
const ClearField = "null"

// Review classifications produced by ReviewType.
const (
	ReviewKindFeature      = "FEATURE"
	ReviewKindArchitecture = "ARCHITECTURE_REFACTOR"
)

// Commit pairs a hash with its one-line message.
type Commit struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

// CommitRange brackets the commits a session produced.
type CommitRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SessionRecord is one append-only entry in the progress ledger. Records
// are never modified after the fact; corrections land as new sessions.
type SessionRecord struct {
	SessionID       int         `json:"session_id"`
	AgentType       string      `json:"agent_type"`
	StartedAt       string      `json:"started_at"`
	CompletedAt     string      `json:"completed_at"`
	Summary         string      `json:"summary"`
	FeaturesTouched []string    `json:"features_touched"`
	Outcome         string      `json:"outcome"`
	Commits         []Commit    `json:"commits"`
	CommitRange     CommitRange `json:"commit_range"`
}

// ProjectInfo describes the tracked project.
type ProjectInfo struct {
	Name          string `json:"name"`
	CreatedAt     string `json:"created_at"`
	TotalFeatures int    `json:"total_features"`
}

// StatusPointer is the mutable head of the otherwise append-only progress
// ledger. CurrentFeature and CurrentBranch are pointers so an explicit
// null survives the JSON round trip.
type StatusPointer struct {
	UpdatedAt         string  `json:"updated_at"`
	FeaturesCompleted int     `json:"features_completed"`
	FeaturesPassing   int     `json:"features_passing"`
	CurrentPhase      string  `json:"current_phase"`
	CurrentFeature    *string `json:"current_feature"`
	CurrentBranch     *string `json:"current_branch"`
	HeadCommit        string  `json:"head_commit"`
}

// ProgressLog is the full progress.json document.
type ProgressLog struct {
	Project  ProjectInfo     `json:"project"`
	Status   StatusPointer   `json:"status"`
	Sessions []SessionRecord `json:"sessions"`
}

// ReviewClass describes what kind of review the current branch calls for.
type ReviewClass struct {
	Kind      string
	FeatureID string
	Branch    string
}

// SessionEntry carries the caller-supplied fields for AddSession. Commits
// arrive as raw "hash:message" tokens. CurrentFeature and CurrentBranch
// update the status pointer only when non-nil; the value "null" clears.
type SessionEntry struct {
	AgentType       string
	Summary         string
	Outcome         string
	StartedAt       string
	FeaturesTouched []string
	Commits         []string
	CommitFrom      string
	CommitTo        string
	NextPhase       string
	CurrentFeature  *string
	CurrentBranch   *string
}

// StatusUpdate carries optional status pointer changes. Nil or empty fields
// are left untouched.
type StatusUpdate struct {
	Phase             string
	Feature           *string
	Branch            *string
	FeaturesCompleted *int
	FeaturesPassing   *int
}

// ProgressLedger provides the progress.json operations. repoDir is where
// VCS queries run when stamping head commits.
type ProgressLedger struct {
	path    string
	repoDir string
}

// NewProgressLedger returns a ledger rooted at the given file path. An
// empty repoDir runs VCS queries in the working directory.
func NewProgressLedger(path, repoDir string) *ProgressLedger {
	if repoDir == "" {
		repoDir = "."
	}
	return &ProgressLedger{path: path, repoDir: repoDir}
}

// Path returns the backing file location.
func (l *ProgressLedger) Path() string { return l.path }

// Load reads the full document.
func (l *ProgressLedger) Load() (*ProgressLog, error) {
	var doc ProgressLog
	if err := Load(l.path, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Init creates progress.json for a new project: empty session history and
// a status pointer seeded from the current VCS head. Fails if the file
// already exists unless force is set.
func (l *ProgressLedger) Init(projectName string, featureCount int, force bool) (*ProgressLog, error) {
	if Exists(l.path) && !force {
		return nil, fmt.Errorf("%s already exists (use --force to overwrite)", l.path)
	}
	now := nowStamp()
	doc := &ProgressLog{
		Project: ProjectInfo{
			Name:          projectName,
			CreatedAt:     now,
			TotalFeatures: featureCount,
		},
		Status: StatusPointer{
			UpdatedAt:    now,
			CurrentPhase: "IMPLEMENT",
			HeadCommit:   HeadCommit(l.repoDir),
		},
		Sessions: []SessionRecord{},
	}
	if err := Save(l.path, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// AddSession appends a session record with the next monotonic id and
// applies whatever status updates the entry explicitly carries.
func (l *ProgressLedger) AddSession(e SessionEntry) (*SessionRecord, error) {
	doc, err := l.Load()
	if err != nil {
		return nil, err
	}

	now := nowStamp()
	head := HeadCommit(l.repoDir)

	started := e.StartedAt
	if started == "" {
		started = now
	}
	commitTo := e.CommitTo
	if commitTo == "" {
		commitTo = head
	}

	rec := SessionRecord{
		SessionID:       maxSessionID(doc.Sessions) + 1,
		AgentType:       e.AgentType,
		StartedAt:       started,
		CompletedAt:     now,
		Summary:         e.Summary,
		FeaturesTouched: cleanList(e.FeaturesTouched),
		Outcome:         e.Outcome,
		Commits:         parseCommits(e.Commits),
		CommitRange:     CommitRange{From: e.CommitFrom, To: commitTo},
	}
	doc.Sessions = append(doc.Sessions, rec)

	doc.Status.UpdatedAt = now
	doc.Status.HeadCommit = head
	if e.NextPhase != "" {
		doc.Status.CurrentPhase = e.NextPhase
	}
	applyPointer(&doc.Status.CurrentFeature, e.CurrentFeature)
	applyPointer(&doc.Status.CurrentBranch, e.CurrentBranch)

	if err := Save(l.path, doc); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateStatus stamps updated_at and head_commit and applies the provided
// fields.
func (l *ProgressLedger) UpdateStatus(u StatusUpdate) (*StatusPointer, error) {
	doc, err := l.Load()
	if err != nil {
		return nil, err
	}
	doc.Status.UpdatedAt = nowStamp()
	doc.Status.HeadCommit = HeadCommit(l.repoDir)
	if u.Phase != "" {
		doc.Status.CurrentPhase = u.Phase
	}
	applyPointer(&doc.Status.CurrentFeature, u.Feature)
	applyPointer(&doc.Status.CurrentBranch, u.Branch)
	if u.FeaturesCompleted != nil {
		doc.Status.FeaturesCompleted = *u.FeaturesCompleted
	}
	if u.FeaturesPassing != nil {
		doc.Status.FeaturesPassing = *u.FeaturesPassing
	}
	if err := Save(l.path, doc); err != nil {
		return nil, err
	}
	st := doc.Status
	return &st, nil
}

// Status returns the current status pointer.
func (l *ProgressLedger) Status() (*StatusPointer, error) {
	doc, err := l.Load()
	if err != nil {
		return nil, err
	}
	st := doc.Status
	return &st, nil
}

// StatusField projects one status field as a string, empty for null.
// Unknown field names error and name the fields that do exist.
func (l *ProgressLedger) StatusField(field string) (string, error) {
	st, err := l.Status()
	if err != nil {
		return "", err
	}
	m, err := toMap(st)
	if err != nil {
		return "", err
	}
	v, ok := m[field]
	if !ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", fmt.Errorf("unknown status field %q (available: %s)", field, strings.Join(keys, ", "))
	}
	return fieldString(v), nil
}

// Session returns the record with the given id; -1 means the most recent.
func (l *ProgressLedger) Session(id int) (*SessionRecord, error) {
	doc, err := l.Load()
	if err != nil {
		return nil, err
	}
	if id == -1 {
		if len(doc.Sessions) == 0 {
			return nil, fmt.Errorf("no sessions recorded: %w", ErrNotFound)
		}
		rec := doc.Sessions[len(doc.Sessions)-1]
		return &rec, nil
	}
	for _, s := range doc.Sessions {
		if s.SessionID == id {
			rec := s
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("session %d: %w", id, ErrNotFound)
}

// SessionField projects one field from a session record. Dotted paths walk
// nested objects (commit_range.from). Missing leaves return "" rather than
// an error so script consumers can probe freely.
func (l *ProgressLedger) SessionField(id int, field string) (string, error) {
	rec, err := l.Session(id)
	if err != nil {
		return "", err
	}
	m, err := toMap(rec)
	if err != nil {
		return "", err
	}
	var v any = m
	for _, part := range strings.Split(field, ".") {
		obj, ok := v.(map[string]any)
		if !ok {
			return "", nil
		}
		if v, ok = obj[part]; !ok {
			return "", nil
		}
	}
	return fieldString(v), nil
}

// ReviewType classifies the pending review from the status pointer: a
// refactor/ branch gets an architecture review, anything else a feature
// review keyed by the current feature.
func (l *ProgressLedger) ReviewType() (*ReviewClass, error) {
	st, err := l.Status()
	if err != nil {
		return nil, err
	}
	rc := &ReviewClass{
		FeatureID: deref(st.CurrentFeature),
		Branch:    deref(st.CurrentBranch),
	}
	if strings.HasPrefix(rc.Branch, "refactor/") {
		rc.Kind = ReviewKindArchitecture
	} else {
		rc.Kind = ReviewKindFeature
	}
	return rc, nil
}

// NextSessionID previews the id AddSession would assign.
func (l *ProgressLedger) NextSessionID() (int, error) {
	doc, err := l.Load()
	if err != nil {
		return 0, err
	}
	return maxSessionID(doc.Sessions) + 1, nil
}

func maxSessionID(sessions []SessionRecord) int {
	max := 0
	for _, s := range sessions {
		if s.SessionID > max {
			max = s.SessionID
		}
	}
	return max
}

// parseCommits splits "hash:message" tokens; a token without a colon is a
// bare hash.
func parseCommits(tokens []string) []Commit {
	commits := make([]Commit, 0, len(tokens))
	for _, tok := range tokens {
		hash, msg, found := strings.Cut(tok, ":")
		if !found {
			commits = append(commits, Commit{Hash: strings.TrimSpace(tok)})
			continue
		}
		commits = append(commits, Commit{
			Hash:    strings.TrimSpace(hash),
			Message: strings.TrimSpace(msg),
		})
	}
	return commits
}

// applyPointer implements the "null" sentinel: nil leaves the field alone,
// "null" clears it, anything else sets it.
func applyPointer(dst **string, v *string) {
	if v == nil {
		return
	}
	if *v == ClearField {
		*dst = nil
		return
	}
	val := *v
	*dst = &val
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// toMap round-trips a struct through JSON so field projection sees exactly
// what a script consumer reading the file would see.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// fieldString renders a projected JSON value the way script consumers
// expect: empty string for null, indented JSON for containers, bare text
// otherwise.
func fieldString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(out)
	}
}
