// Package driver implements spec.md component J: the Executor that turns
// an Operation into a server round trip, including session/cluster-time
// attachment, error classification, and the retry policy of spec.md
// §4.9. Grounded on the teacher's x/mongo/driver/operation package's
// builder-struct idiom (a reusable Operation value configured with
// function fields rather than an interface hierarchy).
package driver

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/corekv/docdriver/connection"
	"github.com/corekv/docdriver/description"
)

// RetryableWriteErrorLabel and friends are the error labels spec.md §7
// drives retry and pinning decisions from.
const (
	RetryableWriteErrorLabel       = "RetryableWriteError"
	TransientTransactionErrorLabel = "TransientTransactionError"
	UnknownTransactionCommitResult = "UnknownTransactionCommitResult"
	NonResumableChangeStreamError  = "NonResumableChangeStreamError"
)

// readRetryableCodes is the code-driven read-retryable list of spec.md §7.
var readRetryableCodes = map[int32]bool{
	11600: true, // InterruptedAtShutdown
	11602: true, // InterruptedDueToReplStateChange
	10107: true, // NotWritablePrimary
	13435: true, // NotPrimaryNoSecondaryOk
	13436: true, // NotPrimaryOrSecondary
	189:   true, // PrimarySteppedDown
	91:    true, // ShutdownInProgress
	7:     true, // HostNotFound
	6:     true, // HostUnreachable
	89:    true, // NetworkTimeout
	9001:  true, // SocketException
	262:   true, // ExceededTimeLimit
}

// WriteError is a single entry of a reply's writeErrors array.
type WriteError struct {
	Index   int32
	Code    int32
	Message string
}

func (e WriteError) Error() string {
	return fmt.Sprintf("write error at index %d: [%d] %s", e.Index, e.Code, e.Message)
}

// WriteConcernError is a reply's writeConcernError subdocument.
type WriteConcernError struct {
	Code    int32
	Name    string
	Message string
}

func (e WriteConcernError) Error() string {
	return fmt.Sprintf("write concern error: [%d %s] %s", e.Code, e.Name, e.Message)
}

// Error is a command-level failure: the server replied, but ok != 1 (or
// the reply carried write errors), per spec.md §7 "Command"/"Write".
type Error struct {
	Code              int32
	Name              string
	Message           string
	Labels            []string
	TopologyVersion   *description.TopologyVersion
	WriteErrors       []WriteError
	WriteConcernError *WriteConcernError
	Raw               bsoncore.Document
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server replied with error [%d %s]: %s", e.Code, e.Name, e.Message)
	}
	if e.WriteConcernError != nil {
		return e.WriteConcernError.Error()
	}
	if len(e.WriteErrors) > 0 {
		return e.WriteErrors[0].Error()
	}
	return fmt.Sprintf("server replied with error [%d %s]", e.Code, e.Name)
}

// HasErrorLabel reports whether label is present among e's labels.
func (e *Error) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Redact returns a copy of e with Message and Raw replaced by a
// placeholder, preserving code/codeName/labels, for log sinks that must
// not leak document contents (spec.md §7).
func (e *Error) Redact() *Error {
	cp := *e
	if cp.Message != "" {
		cp.Message = "[redacted]"
	}
	cp.Raw = nil
	return &cp
}

// readRetryable reports whether err (a network error or a *Error) is
// read-retryable per spec.md §7's code list.
func readRetryable(err error) bool {
	if connection.NetworkError(err) {
		return true
	}
	var cmdErr *Error
	if as(err, &cmdErr) {
		if readRetryableCodes[cmdErr.Code] {
			return true
		}
	}
	return false
}

// writeRetryable reports whether err is write-retryable: a network error,
// or a command/write-concern error labeled RetryableWriteError.
func writeRetryable(err error) bool {
	if connection.NetworkError(err) {
		return true
	}
	var cmdErr *Error
	if as(err, &cmdErr) {
		return cmdErr.HasErrorLabel(RetryableWriteErrorLabel)
	}
	return false
}

// as is a tiny errors.As wrapper kept local to avoid importing errors in
// every call site that only needs this one assertion.
func as(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

// parseCommandError inspects a decoded reply for ok != 1 and, if found,
// builds the structured Error spec.md §7 describes (code, codeName,
// message, labels, writeErrors, writeConcernError).
func parseCommandError(reply bsoncore.Document) *Error {
	elems, err := reply.Elements()
	if err != nil {
		return &Error{Message: "invalid response: " + err.Error()}
	}

	ok := false
	cmdErr := &Error{Raw: reply}
	for _, e := range elems {
		switch e.Key() {
		case "ok":
			if v, isOK := e.Value().DoubleOK(); isOK {
				ok = v == 1
			} else if v, isOK := e.Value().Int32OK(); isOK {
				ok = v == 1
			}
		case "code":
			v, _ := e.Value().Int32OK()
			cmdErr.Code = v
		case "codeName":
			s, _ := e.Value().StringValueOK()
			cmdErr.Name = s
		case "errmsg":
			s, _ := e.Value().StringValueOK()
			cmdErr.Message = s
		case "errorLabels":
			arr, isOK := e.Value().ArrayOK()
			if !isOK {
				continue
			}
			vals, _ := arr.Values()
			for _, v := range vals {
				if s, ok := v.StringValueOK(); ok {
					cmdErr.Labels = append(cmdErr.Labels, s)
				}
			}
		case "writeConcernError":
			doc, isOK := e.Value().DocumentOK()
			if !isOK {
				continue
			}
			wce := &WriteConcernError{}
			wceElems, _ := doc.Elements()
			for _, we := range wceElems {
				switch we.Key() {
				case "code":
					wce.Code, _ = we.Value().Int32OK()
				case "codeName":
					wce.Name, _ = we.Value().StringValueOK()
				case "errmsg":
					wce.Message, _ = we.Value().StringValueOK()
				case "errorLabels":
					arr, ok := we.Value().ArrayOK()
					if !ok {
						continue
					}
					vals, _ := arr.Values()
					for _, v := range vals {
						if s, ok := v.StringValueOK(); ok {
							cmdErr.Labels = append(cmdErr.Labels, s)
						}
					}
				}
			}
			cmdErr.WriteConcernError = wce
		case "writeErrors":
			arr, isOK := e.Value().ArrayOK()
			if !isOK {
				continue
			}
			vals, _ := arr.Values()
			for _, v := range vals {
				doc, ok := v.DocumentOK()
				if !ok {
					continue
				}
				we := WriteError{}
				weElems, _ := doc.Elements()
				for _, wee := range weElems {
					switch wee.Key() {
					case "index":
						we.Index, _ = wee.Value().Int32OK()
					case "code":
						we.Code, _ = wee.Value().Int32OK()
					case "errmsg":
						we.Message, _ = wee.Value().StringValueOK()
					}
				}
				cmdErr.WriteErrors = append(cmdErr.WriteErrors, we)
			}
		}
	}

	if ok && cmdErr.WriteConcernError == nil && len(cmdErr.WriteErrors) == 0 {
		return nil
	}
	return cmdErr
}
