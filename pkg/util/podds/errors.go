package podds

import "errors"

var (
	// ErrNotEnoughData means a league has no usable history, so no model can be built for it
	ErrNotEnoughData = errors.New("not enough data")
	// ErrUnrated means one or both teams of a fixture have no rating
	ErrUnrated = errors.New("team unrated")
	// ErrMalformedRow is returned for a corpus row that cannot be parsed
	ErrMalformedRow = errors.New("malformed row")
	// ErrRecordNotFound is returned by the store when no row matches
	ErrRecordNotFound = errors.New("record not found")
	// ErrUnknownLeague is returned for a league that is not configured
	ErrUnknownLeague = errors.New("unknown league")
	// ErrFeedUnavailable means every fixture feed call failed and there is no earlier snapshot
	ErrFeedUnavailable = errors.New("fixture feed unavailable")
)
