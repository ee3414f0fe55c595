package gorawrcache

import "errors"

var (
	// ErrMissingRemote is returned by New when no Redis client, options or URL
	// was supplied.
	ErrMissingRemote = errors.New("gorawrcache: a redis client, redis options or redis url is required")

	// ErrInvalidConfig wraps every settings validation failure.
	ErrInvalidConfig = errors.New("gorawrcache: invalid config")

	// ErrMissingFunctionID is returned by Wrap when the function has no usable
	// name and WithFunctionID was not given.
	ErrMissingFunctionID = errors.New("gorawrcache: function id required for unnamed functions")
)
