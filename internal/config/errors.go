package config

import "github.com/vantage-agent/vantage/internal/apperr"

var (
	errTrimExceedsCap = &apperr.Error{
		Message: "queue.trim_to (%d) must not exceed queue.max_len (%d)",
	}

	errInvalidScreenshotGap = &apperr.Error{
		Message: "screenshots.min_gap (%s) must not exceed screenshots.max_gap (%s)",
	}
)
