package generation

import "sort"

// ErrorKind classifies why a generation produced no image.
type ErrorKind string

const (
	KindAPIError      ErrorKind = "API_ERROR"
	KindSafetyBlock   ErrorKind = "SAFETY_BLOCK"
	KindNoCandidates  ErrorKind = "NO_CANDIDATES"
	KindNoImage       ErrorKind = "NO_IMAGE"
	KindImageFiltered ErrorKind = "IMAGE_FILTERED"
	KindException     ErrorKind = "EXCEPTION"
)

// Image is a generated image with its data base64 encoded.
type Image struct {
	MIMEType string
	Data     string
}

// Failure describes a generation that did not yield an image.
type Failure struct {
	Kind    ErrorKind
	Message string
	// Code and Status come from the provider's error body on API_ERROR.
	Code         int
	Status       string
	BlockReason  string
	FinishReason string
	Text         string
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Message
}

// Result is either a success (Image set, Failure nil) or a failure.
type Result struct {
	Image   *Image
	Text    string
	Failure *Failure
}

// OK reports whether the result carries an image.
func (r Result) OK() bool {
	return r.Failure == nil && r.Image != nil
}

// Succeeded builds a success result.
func Succeeded(image Image, text string) Result {
	if image.MIMEType == "" {
		image.MIMEType = DefaultImageMIME
	}
	return Result{Image: &image, Text: text}
}

// Failed builds a failure result.
func Failed(f Failure) Result {
	return Result{Text: f.Text, Failure: &f}
}

// FromError converts an error raised while calling the provider into an EXCEPTION failure.
func FromError(err error) Result {
	return Failed(Failure{Kind: KindException, Message: err.Error()})
}

// ItemResult is the outcome for one target image of a batch.
type ItemResult struct {
	Index    int
	Filename string
	Result   Result
}

// BatchSummary aggregates per-item outcomes in input order.
type BatchSummary struct {
	RequestID    string
	Total        int
	SuccessCount int
	FailureCount int
	Results      []ItemResult
}

// NewBatchSummary orders items by index and derives the counts from them.
func NewBatchSummary(requestID string, items []ItemResult) *BatchSummary {
	ordered := make([]ItemResult, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	summary := &BatchSummary{RequestID: requestID, Total: len(ordered), Results: ordered}
	for _, item := range ordered {
		if item.Result.OK() {
			summary.SuccessCount++
		} else {
			summary.FailureCount++
		}
	}
	return summary
}
