package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies the shape of a detected resolution request.
type Kind string

const (
	KindSingle   Kind = "single"
	KindBatch    Kind = "batch"
	KindRepoWide Kind = "repo_wide"
)

// Outcome distinguishes "nothing recognized" from "recognizer misbehaved".
type Outcome string

const (
	OutcomeDetected      Outcome = "detected"
	OutcomeNotDetected   Outcome = "not_detected"
	OutcomeInternalError Outcome = "internal_error"
)

// IssueRef identifies one GitHub issue.
type IssueRef struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Request is a typed resolution request. Kind says which fields are set:
// Issue for Single, Issues for Batch, Owner/Repo for RepoWide.
type Request struct {
	Kind   Kind       `json:"kind"`
	Issue  IssueRef   `json:"issue,omitempty"`
	Issues []IssueRef `json:"issues,omitempty"`
	Owner  string     `json:"owner,omitempty"`
	Repo   string     `json:"repo,omitempty"`
}

// Detection is the result of classifying one input text. Request is
// non-nil only for OutcomeDetected, Err only for OutcomeInternalError.
type Detection struct {
	Outcome Outcome
	Request *Request
	Err     error
}

var (
	issueURLPattern = regexp.MustCompile(`https?://github\.com/([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)/issues/(\d+)`)

	// "resolve issues from <url> [and <url> ...]"
	batchPhrasePattern = regexp.MustCompile(`(?i)resolve\s+issues\s+from\b`)

	// "resolve issue in owner/repo" / "resolve issues in owner/repo"
	repoWidePattern = regexp.MustCompile(`(?i)resolve\s+issues?\s+in\s+([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)`)
)

// matcher tries one classification rule; nil means "no match, try the next".
type matcher func(text string) *Request

// Matchers run in priority order, first match wins. The batch phrase is
// checked before the bare-URL rule: its URLs would otherwise be eaten by
// the single-issue match.
var matchers = []matcher{
	matchBatchPhrase,
	matchFirstIssueURL,
	matchRepoWide,
}

// Detect classifies raw text into a resolution request. Empty text is
// OutcomeNotDetected, never an error. A panicking matcher is caught and
// reported as OutcomeInternalError so malformed input cannot crash the
// caller.
func Detect(text string) (det Detection) {
	defer func() {
		if r := recover(); r != nil {
			det = Detection{
				Outcome: OutcomeInternalError,
				Err:     fmt.Errorf("trigger matcher panicked: %v", r),
			}
		}
	}()

	msg := strings.TrimSpace(text)
	if msg == "" {
		return Detection{Outcome: OutcomeNotDetected}
	}

	for _, match := range matchers {
		if req := match(msg); req != nil {
			return Detection{Outcome: OutcomeDetected, Request: req}
		}
	}

	return Detection{Outcome: OutcomeNotDetected}
}

// matchBatchPhrase matches "resolve issues from ..." and collects every
// issue URL in the remainder, in order. Zero URLs after the phrase falls
// through to the next rule rather than producing an empty batch.
func matchBatchPhrase(text string) *Request {
	loc := batchPhrasePattern.FindStringIndex(text)
	if loc == nil {
		return nil
	}

	issues := ExtractIssueRefs(text[loc[1]:])
	if len(issues) == 0 {
		return nil
	}

	return &Request{Kind: KindBatch, Issues: issues}
}

// matchFirstIssueURL takes the first issue URL in the text; later URLs in
// the same text are ignored.
func matchFirstIssueURL(text string) *Request {
	m := issueURLPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	number, err := strconv.Atoi(m[3])
	if err != nil {
		return nil
	}

	return &Request{
		Kind: KindSingle,
		Issue: IssueRef{
			Owner:  m[1],
			Repo:   m[2],
			Number: number,
			URL:    m[0],
		},
	}
}

func matchRepoWide(text string) *Request {
	m := repoWidePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	return &Request{Kind: KindRepoWide, Owner: m[1], Repo: m[2]}
}

// ExtractIssueRefs returns every issue-URL occurrence in the text as an
// ordered list.
func ExtractIssueRefs(text string) []IssueRef {
	var refs []IssueRef
	for _, m := range issueURLPattern.FindAllStringSubmatch(text, -1) {
		number, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		refs = append(refs, IssueRef{
			Owner:  m[1],
			Repo:   m[2],
			Number: number,
			URL:    m[0],
		})
	}
	return refs
}

// ParseIssueURL parses a single GitHub issue URL into an IssueRef.
func ParseIssueURL(rawURL string) (IssueRef, bool) {
	m := issueURLPattern.FindStringSubmatch(strings.TrimSpace(rawURL))
	if m == nil || m[0] != strings.TrimSpace(rawURL) {
		return IssueRef{}, false
	}
	number, err := strconv.Atoi(m[3])
	if err != nil {
		return IssueRef{}, false
	}
	return IssueRef{Owner: m[1], Repo: m[2], Number: number, URL: m[0]}, true
}

// Validate checks structural completeness of a detected request. It does
// not mutate or normalize.
func Validate(req *Request) bool {
	if req == nil {
		return false
	}

	switch req.Kind {
	case KindSingle:
		return issueComplete(req.Issue)
	case KindBatch:
		if len(req.Issues) == 0 {
			return false
		}
		for _, issue := range req.Issues {
			if !issueComplete(issue) {
				return false
			}
		}
		return true
	case KindRepoWide:
		return req.Owner != "" && req.Repo != ""
	default:
		return false
	}
}

func issueComplete(issue IssueRef) bool {
	return issue.Owner != "" && issue.Repo != "" && issue.Number > 0
}

// Describe returns a short human-readable label for the request.
func (r *Request) Describe() string {
	if r == nil {
		return "no request"
	}
	switch r.Kind {
	case KindSingle:
		return fmt.Sprintf("issue %s/%s#%d", r.Issue.Owner, r.Issue.Repo, r.Issue.Number)
	case KindBatch:
		return fmt.Sprintf("batch of %d issues", len(r.Issues))
	case KindRepoWide:
		return fmt.Sprintf("open issues in %s/%s", r.Owner, r.Repo)
	default:
		return "unknown request"
	}
}
