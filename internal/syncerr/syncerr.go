// Package syncerr defines the failure kinds of a DNS sync run. A kind says
// what failed, never how severe it is: callers decide whether an error is
// fatal, logged, or recorded in a report.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	InvalidConfig Kind = iota + 1
	LoginFail
	ListInstancesFail
	ListRecordsFail
	CreateRecordFail
	DeleteRecordFail
)

var kindText = map[Kind]string{
	InvalidConfig:     "invalid configuration",
	LoginFail:         "failed to create a DigitalOcean client",
	ListInstancesFail: "failed to list droplets",
	ListRecordsFail:   "failed to fetch domain records",
	CreateRecordFail:  "failed to create record",
	DeleteRecordFail:  "failed to delete record",
}

func (k Kind) String() string {
	if s, ok := kindText[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown failure (%d)", int(k))
}

// Error makes a Kind usable as an errors.Is target, so callers can write
// errors.Is(err, syncerr.ListRecordsFail).
func (k Kind) Error() string { return k.String() }

// Error is a failure of a given kind wrapping its cause. Subject optionally
// names what the operation acted on (an address, a record id).
type Error struct {
	Kind    Kind
	Subject string
	Err     error
}

// New wraps err with the given kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf wraps err with kind and a subject.
func Newf(kind Kind, subject string, err error) *Error {
	return &Error{Kind: kind, Subject: subject, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Subject != "" {
		msg += " " + e.Subject
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Kind or another *Error with the same kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind && t.Err == nil && t.Subject == ""
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Chain flattens err into the messages of every error in its unwrap tree,
// outermost first. Multi-errors (errors.Join, aggregates) contribute each of
// their members in order.
func Chain(err error) []string {
	var out []string
	var walk func(error)
	walk = func(err error) {
		for err != nil {
			out = append(out, err.Error())
			switch multi := err.(type) {
			case interface{ Unwrap() []error }:
				for _, e := range multi.Unwrap() {
					walk(e)
				}
				return
			case interface{ Errors() []error }:
				for _, e := range multi.Errors() {
					walk(e)
				}
				return
			}
			err = errors.Unwrap(err)
		}
	}
	walk(err)
	return out
}
