package browser

import (
	"context"
	"errors"
	"fmt"
)

// Session is one remote browser tab. Commands on a session are serialized by
// the remote end, so callers must not issue them concurrently.
type Session interface {
	Navigate(ctx context.Context, url string) error
	FindElement(ctx context.Context, selector string) (Element, error)
	FindAllElements(ctx context.Context, selector string) ([]Element, error)
	PageSource(ctx context.Context) (string, error)
}

// Element is a handle to a node on the page the session currently shows.
type Element interface {
	FindAllElements(ctx context.Context, selector string) ([]Element, error)
	// Property reads a DOM property. ok is false when the property is unset.
	Property(ctx context.Context, name string) (value string, ok bool, err error)
	Text(ctx context.Context) (string, error)
	// SendKeys types text into the element; "\n" presses Enter.
	SendKeys(ctx context.Context, text string) error
}

type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindTimeout    ErrorKind = "timeout"
	KindNavigation ErrorKind = "navigation"
	KindProtocol   ErrorKind = "protocol"
)

// CommandError is returned by every failed Session or Element operation.
type CommandError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("browser %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func NewCommandError(op string, kind ErrorKind, err error) *CommandError {
	return &CommandError{Op: op, Kind: kind, Err: err}
}

// KindOf returns the kind of the first CommandError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var cerr *CommandError
	if errors.As(err, &cerr) {
		return cerr.Kind, true
	}
	return "", false
}

func IsNotFound(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindNotFound
}

// CheckContext turns a done context into a CommandError before a command is
// sent. Commands already in flight are not interrupted.
func CheckContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		kind := KindProtocol
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return NewCommandError(op, kind, err)
	}
	return nil
}
