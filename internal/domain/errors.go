package domain

import "errors"

var (
	ErrUnknownKind   = errors.New("unknown trigger kind")
	ErrUnknownAction = errors.New("unknown trigger action")
	ErrMissingSource = errors.New("trigger event has no source id")
	ErrMissingZone   = errors.New("check-in has no zone")
	ErrZoneNotFound  = errors.New("zone not found")
)
