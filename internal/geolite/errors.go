package geolite

import (
	"archive/zip"
	"errors"
	"fmt"
)

var (
	// ErrFetch marks a failed download or an unreadable local source. Callers
	// may retry; the pipeline never does.
	ErrFetch = errors.New("geolite: fetch failed")

	ErrUnreadableArchive     = errors.New("geolite: unreadable archive")
	ErrMalformedCIDR         = errors.New("geolite: malformed cidr")
	ErrInvalidCIDR           = errors.New("geolite: invalid cidr in block member")
	ErrColumnIndexOutOfRange = errors.New("geolite: column index out of range")
	ErrMalformedValue        = errors.New("geolite: malformed value")
	ErrMissingRequiredMember = errors.New("geolite: missing required member")
	ErrDuplicateMember       = errors.New("geolite: duplicate member")
	ErrEmptyMember           = fmt.Errorf("%w: member has no rows", ErrMissingRequiredMember)
	ErrInvalidIP             = errors.New("geolite: invalid IPv4 address")
)

type Stage string

const (
	StageLock      Stage = "lock"
	StageFetch     Stage = "fetch"
	StageNormalize Stage = "normalize"
	StageLoad      Stage = "load"
)

// StageError tags a pipeline failure with the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage recorded anywhere in err's chain.
func StageOf(err error) (Stage, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}

var archiveErrorNames = map[error]string{
	zip.ErrFormat:       "ER_NOZIP",
	zip.ErrAlgorithm:    "ER_COMPNOTSUPP",
	zip.ErrChecksum:     "ER_CRC",
	zip.ErrInsecurePath: "ER_INSECURE_PATH",
}

// archiveErrorName maps an archive/zip failure to a stable short name. Unknown
// errors map to ER_READ.
func archiveErrorName(err error) string {
	for sentinel, name := range archiveErrorNames {
		if errors.Is(err, sentinel) {
			return name
		}
	}
	return "ER_READ"
}

func unreadableArchive(path string, err error) error {
	return fmt.Errorf("%w: %s (%s): %w", ErrUnreadableArchive, path, archiveErrorName(err), err)
}
