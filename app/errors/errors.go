package errors

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
)

// Log logs err with the given logger. The cause and metadata of a
// StructuredError are logged as attributes in key order, followed by the
// hint, if any.
func Log(logger *slog.Logger, err error) {
	var serr *StructuredError
	if !errors.As(err, &serr) {
		logger.Error(err.Error())
		return
	}

	args := make([]any, 0, len(serr.metadata)*2+2)
	if serr.cause != nil {
		args = append(args, "cause", serr.cause)
	}
	for _, k := range slices.Sorted(maps.Keys(serr.metadata)) {
		if k == hintKey {
			continue
		}
		args = append(args, k, serr.metadata[k])
	}
	if hint := serr.Hint(); hint != "" {
		args = append(args, hintKey, hint)
	}

	logger.Error(serr.Error(), args...)
}
