package mirror

import (
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// TransferRecord tracks one file through staging and upload.
type TransferRecord struct {
	SourcePath      string  `json:"source_path"`
	StagingPath     string  `json:"staging_path"`
	DestinationPath string  `json:"destination_path"`
	Outcome         Outcome `json:"outcome"`
	Bytes           int64   `json:"bytes"`
	Error           string  `json:"error,omitempty"`
	Err             error   `json:"-"`
}

type Status string

const (
	StatusSuccess          Status = "success"
	StatusPartial          Status = "partial"
	StatusConnectionFailed Status = "connection_failed"
	StatusListingFailed    Status = "listing_failed"
	StatusFailed           Status = "failed"
)

// Summary describes a finished run.
type Summary struct {
	RunID         string           `json:"run_id"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	SourceFiles   int              `json:"source_files"`
	Skipped       int              `json:"skipped"`
	Pending       int              `json:"pending"`
	Copied        int              `json:"copied"`
	Failed        int              `json:"failed"`
	Bytes         int64            `json:"bytes"`
	CapReached    bool             `json:"cap_reached"`
	Records       []TransferRecord `json:"records,omitempty"`
	CleanupErrors []string         `json:"cleanup_errors,omitempty"`
	Status        Status           `json:"status"`
	RunError      string           `json:"run_error,omitempty"`
}

func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Err joins the errors of every failed transfer, or returns nil.
func (s *Summary) Err() error {
	var result *multierror.Error
	for _, r := range s.Records {
		if r.Outcome != OutcomeFailure {
			continue
		}
		err := r.Err
		if err == nil {
			err = errors.New(r.Error)
		}
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (s *Summary) record(r TransferRecord) {
	if r.Err != nil {
		r.Error = r.Err.Error()
	}
	s.Records = append(s.Records, r)
	switch r.Outcome {
	case OutcomeSuccess:
		s.Copied++
		s.Bytes += r.Bytes
	case OutcomeFailure:
		s.Failed++
	}
}

// Finish stamps the end time and derives the status from runErr and the
// per-file outcomes.
func (s *Summary) Finish(runErr error, now time.Time) {
	s.FinishedAt = now
	s.Status = StatusOf(s, runErr)
	if runErr != nil {
		s.RunError = runErr.Error()
	}
}

func StatusOf(s *Summary, runErr error) Status {
	switch {
	case IsType(runErr, ErrorTypeConnection):
		return StatusConnectionFailed
	case IsType(runErr, ErrorTypeListing):
		return StatusListingFailed
	case runErr != nil:
		return StatusFailed
	case s != nil && s.Failed > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}
