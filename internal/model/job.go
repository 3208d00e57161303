package model

type JobState string

const (
	JobPending        JobState = "PENDING"
	JobConnecting     JobState = "CONNECTING"
	JobAuthenticating JobState = "AUTHENTICATING"
	JobExecuting      JobState = "EXECUTING"
	JobTransferring   JobState = "TRANSFERRING"
	JobVerifying      JobState = "VERIFYING"
	JobCompleted      JobState = "COMPLETED"
	JobFailed         JobState = "FAILED"
	JobCancelled      JobState = "CANCELLED"
)

func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}
