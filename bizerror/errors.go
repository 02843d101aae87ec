package bizerror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fundwit/go-commons/types"
)

var (
	ErrForbidden               = errors.New("forbidden")
	ErrNotFound                = errors.New("not found")
	ErrReassignmentUnavailable = errors.New("no successor available for reassignment")
	ErrUserInactive            = errors.New("user is inactive")
	ErrGroupInUse              = errors.New("group is used by active task performers")
	ErrAccountMismatch         = errors.New("objects belong to different accounts")
	ErrInvalidStateTransition  = errors.New("invalid state transition")
)

// BizError is implemented by every error that a calling layer renders for end users.
type BizError interface {
	Respond() *BizErrorDetail
}

type BizErrorDetail struct {
	Status  int
	Code    string
	Message string

	Data  interface{}
	Cause error
}

// Reason is the stable, machine-checkable cause of a rejected performer mutation.
type Reason string

const (
	ReasonWorkflowCompleted Reason = "workflow_completed"
	ReasonTaskInactive      Reason = "task_inactive"
	ReasonPermissionDenied  Reason = "permission_denied"
	ReasonLastPerformer     Reason = "last_performer"
	ReasonTargetNotFound    Reason = "target_not_found"
	ReasonNotAPerformer     Reason = "not_a_performer"
)

var reasonStatus = map[Reason]int{
	ReasonWorkflowCompleted: http.StatusConflict,
	ReasonTaskInactive:      http.StatusConflict,
	ReasonPermissionDenied:  http.StatusForbidden,
	ReasonLastPerformer:     http.StatusConflict,
	ReasonTargetNotFound:    http.StatusNotFound,
	ReasonNotAPerformer:     http.StatusBadRequest,
}

type PerformerMutationError struct {
	Reason Reason
	TaskID types.ID
}

func NewPerformerMutationError(reason Reason, taskID types.ID) *PerformerMutationError {
	return &PerformerMutationError{Reason: reason, TaskID: taskID}
}

func (e *PerformerMutationError) Error() string {
	return fmt.Sprintf("performer mutation rejected on task %d: %s", e.TaskID, e.Reason)
}

// Is matches any PerformerMutationError target carrying the same reason, task id ignored.
func (e *PerformerMutationError) Is(target error) bool {
	t, ok := target.(*PerformerMutationError)
	if !ok {
		return false
	}
	return t.Reason == e.Reason
}

func (e *PerformerMutationError) Respond() *BizErrorDetail {
	status, found := reasonStatus[e.Reason]
	if !found {
		status = http.StatusBadRequest
	}
	return &BizErrorDetail{Status: status, Code: "performer." + string(e.Reason), Message: e.Error()}
}

// IsReason reports whether err is a PerformerMutationError with the given reason.
func IsReason(err error, reason Reason) bool {
	var mutationErr *PerformerMutationError
	if errors.As(err, &mutationErr) {
		return mutationErr.Reason == reason
	}
	return false
}

// ReassignmentError is a caller bug (for example a successor from another account).
// It is never retried.
type ReassignmentError struct {
	DepartingID types.ID
	SuccessorID types.ID
	Cause       error
}

func (e *ReassignmentError) Error() string {
	return fmt.Sprintf("reassignment from user %d to user %d refused: %v", e.DepartingID, e.SuccessorID, e.Cause)
}

func (e *ReassignmentError) Unwrap() error {
	return e.Cause
}

func (e *ReassignmentError) Respond() *BizErrorDetail {
	return &BizErrorDetail{Status: http.StatusInternalServerError, Code: "reassign.invalid_request", Message: e.Error(), Cause: e.Cause}
}

// Respond maps any error to a BizErrorDetail. Errors that are not biz errors become
// internal errors.
func Respond(err error) *BizErrorDetail {
	var bizErr BizError
	if errors.As(err, &bizErr) {
		return bizErr.Respond()
	}
	switch {
	case errors.Is(err, ErrForbidden):
		return &BizErrorDetail{Status: http.StatusForbidden, Code: "security.forbidden", Message: "access forbidden"}
	case errors.Is(err, ErrNotFound):
		return &BizErrorDetail{Status: http.StatusNotFound, Code: "common.record_not_found", Message: "record not found"}
	case errors.Is(err, ErrReassignmentUnavailable):
		return &BizErrorDetail{Status: http.StatusConflict, Code: "reassign.no_successor", Message: err.Error()}
	case errors.Is(err, ErrUserInactive):
		return &BizErrorDetail{Status: http.StatusConflict, Code: "account.user_inactive", Message: err.Error()}
	case errors.Is(err, ErrGroupInUse):
		return &BizErrorDetail{Status: http.StatusConflict, Code: "group.in_use", Message: err.Error()}
	case errors.Is(err, ErrInvalidStateTransition):
		return &BizErrorDetail{Status: http.StatusConflict, Code: "task.invalid_state_transition", Message: err.Error()}
	}
	return &BizErrorDetail{Status: http.StatusInternalServerError, Code: "common.internal_server_error", Message: err.Error(), Cause: err}
}
