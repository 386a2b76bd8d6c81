package research

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
)

// ErrorKind classifies failures for retry and propagation decisions.
type ErrorKind int

const (
	// KindTransient covers timeouts, 5xx responses and connection resets.
	KindTransient ErrorKind = iota
	// KindPermanent covers client errors that will not succeed on retry.
	KindPermanent
	// KindParse means the content was retrieved but is unusable.
	KindParse
	// KindQuota means the AI or search backend is rate limiting us.
	KindQuota
	// KindSessionAbort is the only kind that reaches the caller.
	KindSessionAbort
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindParse:
		return "parse"
	case KindQuota:
		return "quota"
	case KindSessionAbort:
		return "session_abort"
	default:
		return "unknown"
	}
}

var (
	// ErrAllQueriesFailed is returned by the round executor when no query of the round produced results.
	ErrAllQueriesFailed = errors.New("all search queries failed")
	// ErrNoResults marks a first round that produced nothing to analyze.
	ErrNoResults = errors.New("research requires information: no search results")
	// ErrEmptyReport is returned when synthesis produced an empty report.
	ErrEmptyReport = errors.New("synthesis produced an empty report")
	// ErrMalformedProviderResponse marks a provider reply that could not be parsed.
	ErrMalformedProviderResponse = errors.New("malformed provider response")
)

// FetchFailure enumerates the ways a page fetch can fail.
type FetchFailure int

const (
	FetchTimeout FetchFailure = iota
	FetchHTTPStatus
	FetchParse
	FetchUnsupportedContentType
	FetchNetwork
)

func (f FetchFailure) String() string {
	switch f {
	case FetchTimeout:
		return "timeout"
	case FetchHTTPStatus:
		return "http_status"
	case FetchParse:
		return "parse"
	case FetchUnsupportedContentType:
		return "unsupported_content_type"
	case FetchNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// FetchError is the typed failure returned by Fetcher implementations.
type FetchError struct {
	URL         string
	Failure     FetchFailure
	Status      int
	ContentType string
	Err         error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch %s: %s", e.URL, e.Failure)
	switch e.Failure {
	case FetchHTTPStatus:
		fmt.Fprintf(&b, " %d", e.Status)
	case FetchUnsupportedContentType:
		fmt.Fprintf(&b, " %q", e.ContentType)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Kind maps the fetch failure onto the shared taxonomy.
func (e *FetchError) Kind() ErrorKind {
	switch e.Failure {
	case FetchTimeout, FetchNetwork:
		return KindTransient
	case FetchHTTPStatus:
		return statusKind(e.Status)
	case FetchParse:
		return KindParse
	default:
		return KindPermanent
	}
}

// ProviderError is returned by search providers and AI backends when the
// remote side answered with a failure.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Kind() ErrorKind {
	if e.Status != 0 {
		return statusKind(e.Status)
	}
	if e.Err != nil {
		return Classify(e.Err)
	}
	return KindTransient
}

// ResearchFailure is the terminal error of a session. No partial result is
// produced alongside it.
type ResearchFailure struct {
	Topic  string
	Round  int
	Reason string
	Err    error
}

func (e *ResearchFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("research on %q failed: %s: %v", e.Topic, e.Reason, e.Err)
	}
	return fmt.Sprintf("research on %q failed: %s", e.Topic, e.Reason)
}

func (e *ResearchFailure) Unwrap() error { return e.Err }

func (e *ResearchFailure) Kind() ErrorKind { return KindSessionAbort }

type kinded interface {
	Kind() ErrorKind
}

// Classify maps an arbitrary error onto the taxonomy. Unknown errors are
// treated as transient so a retry policy gets a chance at them.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindTransient
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	if errors.Is(err, ErrMalformedProviderResponse) {
		return KindParse
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	// AI SDKs mostly surface status codes as text.
	msg := strings.ToLower(err.Error())
	if m := statusInMessage.FindStringSubmatch(msg); m != nil {
		status, _ := strconv.Atoi(m[1])
		return statusKind(status)
	}
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "quota"),
		strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "too many requests"):
		return KindQuota
	case strings.Contains(msg, "invalid api key"), strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "permission denied"):
		return KindPermanent
	}
	return KindTransient
}

// statusInMessage finds an HTTP status standing on its own in an error
// message, so token counts and request IDs never match.
var statusInMessage = regexp.MustCompile(`\b(400|401|403|404|408|429|500|502|503|504)\b`)

// IsRetryable reports whether a failure of this kind is worth another attempt.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindTransient, KindQuota:
		return true
	default:
		return false
	}
}

func statusKind(status int) ErrorKind {
	switch {
	case status == 429:
		return KindQuota
	case status == 408:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindPermanent
	default:
		return KindTransient
	}
}
