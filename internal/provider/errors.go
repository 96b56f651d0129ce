package provider

import "fmt"

// UnknownStationError reports a request naming a station that no configured
// provider serves.
type UnknownStationError struct {
	Station string
}

func (e *UnknownStationError) Error() string {
	return fmt.Sprintf("Invalid station %s", e.Station)
}

// SearchError represents a failed station catalog query.
type SearchError struct {
	Station string
	Err     error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search failed for station %s: %v", e.Station, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// DownloadError represents a failed product retrieval from a station.
type DownloadError struct {
	Product string
	Err     error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed for product %s: %v", e.Product, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// AuthenticationError represents authentication failures against a station
// API, including 401 Unauthorized and 403 Forbidden responses.
type AuthenticationError struct {
	Operation string
	Err       error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s", e.Operation)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}
