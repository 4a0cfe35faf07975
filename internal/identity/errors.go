package identity

import (
	"errors"
	"fmt"
)

// ErrIdentity is matched by every identity failure via errors.Is.
var ErrIdentity = errors.New("message identity")

// MissingIdentityError reports a message without a message id header.
type MissingIdentityError struct {
	Header string
}

func (e *MissingIdentityError) Error() string {
	return fmt.Sprintf("message identity: required header %q is missing", e.Header)
}

func (e *MissingIdentityError) Is(target error) bool { return target == ErrIdentity }

// UnresolvableEndpointError reports a message whose correlation endpoint
// cannot be determined from its headers.
type UnresolvableEndpointError struct {
	MessageID     string
	EnclosedTypes string
}

func (e *UnresolvableEndpointError) Error() string {
	if e.EnclosedTypes != "" {
		return fmt.Sprintf("message identity: cannot resolve endpoint for message %q (types %q)", e.MessageID, e.EnclosedTypes)
	}
	return fmt.Sprintf("message identity: cannot resolve endpoint for message %q", e.MessageID)
}

func (e *UnresolvableEndpointError) Is(target error) bool { return target == ErrIdentity }
