package telnyxclient

import "errors"

// HTTPStatus extracts the HTTP status code carried by an error returned from
// SendMessage (and the other REST calls), so callers can classify permanent
// vs retryable failures without depending on internal retry bookkeeping.
// ok is false for network/context errors that never reached the API.
func HTTPStatus(err error) (status int, ok bool) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}
