package schedx

import "github.com/Abraxas-365/batchx/pkg/errx"

var schedxErrors = errx.NewRegistry("SCHEDX")

var (
	ErrJobNotFound       = schedxErrors.Register("JOB_NOT_FOUND", errx.TypeNotFound, 404, "Job not found")
	ErrJobNotTerminal    = schedxErrors.Register("JOB_NOT_TERMINAL", errx.TypeConflict, 409, "Job is not permanently failed")
	ErrCandidateFetch    = schedxErrors.Register("CANDIDATE_FETCH", errx.TypeExternal, 500, "Failed to fetch candidate jobs")
	ErrClaimFailed       = schedxErrors.Register("CLAIM_FAILED", errx.TypeExternal, 500, "Failed to claim jobs for batch")
	ErrCompleteFailed    = schedxErrors.Register("COMPLETE_FAILED", errx.TypeExternal, 500, "Failed to complete job execution")
	ErrRetryFailed       = schedxErrors.Register("RETRY_FAILED", errx.TypeExternal, 500, "Failed to schedule job retry")
	ErrNoWorkFunc        = schedxErrors.Register("NO_WORK_FUNC", errx.TypeValidation, 400, "No work function registered for job type")
	ErrInvalidJob        = schedxErrors.Register("INVALID_JOB", errx.TypeValidation, 400, "Job failed structural validation")
	ErrAlreadyRunning    = schedxErrors.Register("ALREADY_RUNNING", errx.TypeConflict, 409, "Processor is already running")
	ErrNotRunning        = schedxErrors.Register("NOT_RUNNING", errx.TypeConflict, 409, "Processor is not running")
	ErrRegisterProcessor = schedxErrors.Register("REGISTER_PROCESSOR", errx.TypeExternal, 500, "Failed to register processor")
)

// ErrJobMissing builds the not-found error stores return for unknown job
// IDs.
func ErrJobMissing(jobID string) error {
	return schedxErrors.New(ErrJobNotFound).WithDetail("job_id", jobID)
}
