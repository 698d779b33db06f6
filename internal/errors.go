package internal

import "errors"

// ErrValidation is returned when an inbound event is missing a room name,
// username or file name. Nothing is mutated when it is returned.
var ErrValidation = errors.New("validation failed")

// ErrQuotaExceeded is returned when a user already uploaded the daily
// maximum of files to a room.
var ErrQuotaExceeded = errors.New("daily upload quota exceeded")

// ErrRoomNotFound is returned when an upload or download targets a room that
// is not live.
var ErrRoomNotFound = errors.New("room not found")

// ErrStorage is returned when blob storage could not save an upload.
var ErrStorage = errors.New("storage error")
