// Package ptrx has shorthands for taking the address of a value, for the
// optional pointer fields on stored records.
package ptrx

import (
	"time"
)

// String returns a pointer value for the string value passed in.
func String(v string) *string {
	return &v
}

// Time returns a pointer value for the time.Time value passed in.
func Time(v time.Time) *time.Time {
	return &v
}
