package datamodel

import "errors"

// Domain errors for the datamodel package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrClusterNotFound is returned when a cluster lookup misses.
	ErrClusterNotFound = errors.New("datamodel: cluster not found")

	// ErrAttributeNotFound is returned when an attribute lookup misses.
	ErrAttributeNotFound = errors.New("datamodel: attribute not found")

	// ErrCommandNotFound is returned when a command lookup misses.
	ErrCommandNotFound = errors.New("datamodel: command not found")

	// ErrDeviceTypeNotFound is returned when a device type lookup misses.
	ErrDeviceTypeNotFound = errors.New("datamodel: device type not found")

	// ErrNoDefinitions is returned when loading finds no usable XML files.
	// The dictionary is a hard dependency: startup must fail on this error.
	ErrNoDefinitions = errors.New("datamodel: no definitions found")
)
