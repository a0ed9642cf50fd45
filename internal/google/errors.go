package google

import (
	"errors"
	"net/http"

	"cartbroker/internal/tables"

	"google.golang.org/api/googleapi"
)

// classify tags Sheets API errors as transient or permanent. Errors that do
// not come from the API (network, context) are returned unchanged and left to
// tables.IsTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return tables.Transient(err)
	default:
		return tables.Permanent(err)
	}
}
