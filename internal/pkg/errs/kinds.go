package errs

// Kind sentinels. Usecase errors are marked with exactly one of these so the
// transport layer can map them without knowing every concrete error.
var (
	ErrNotFound   = New("not found")
	ErrConflict   = New("conflict")
	ErrBadRequest = New("bad request")
	ErrInternal   = New("internal error")
)

type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindBadRequest Kind = "bad_request"
	KindInternal   Kind = "internal"
)

// KindOf classifies err; anything unmarked is internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrBadRequest):
		return KindBadRequest
	case Is(err, ErrNotFound):
		return KindNotFound
	case Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// Sentinel builds a package-level error already marked with a kind.
func Sentinel(msg string, kind error) error {
	return Mark(New(msg), kind)
}
