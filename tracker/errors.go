package tracker

import "github.com/vantage-agent/vantage/internal/apperr"

var (
	errAlreadyTracking = &apperr.Error{
		Message: "tracking is already in progress: stop it before starting again",
	}

	errNotTracking = &apperr.Error{
		Message: "no tracking session is in progress",
	}

	errInvalidTransition = &apperr.Error{
		Message: "cannot %s while tracking is %s",
	}

	errResumeConfirmation = &apperr.Error{
		Message: "resuming after %s requires explicit confirmation",
	}
)
