package upload

import "errors"

var (
	// ErrBodySizeMismatch is returned when a request body turns out to be
	// shorter or longer than the size the client declared for it.
	ErrBodySizeMismatch = errors.New("request body does not match the declared size")

	// ErrPayloadTooBig is returned when a declared size exceeds what the
	// selected upload algorithm can accept.
	ErrPayloadTooBig = errors.New("payload exceeds the maximum allowed size")

	// ErrMissingFileName is returned when a batched upload contains a
	// form part without a file name.
	ErrMissingFileName = errors.New("file name is missing")

	// ErrFileCountMismatch is returned when a batched upload body does
	// not contain the number of files the client declared.
	ErrFileCountMismatch = errors.New("request body does not match the declared file count")
)
