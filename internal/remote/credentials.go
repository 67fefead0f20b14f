package remote

import "errors"

// ErrNoSession is returned when an operation requiring a credential runs
// without one. It classifies as a session-expired error for the UI.
var ErrNoSession = errors.New("no active session")

// Identity is the authenticated principal a submission is stamped with.
type Identity struct {
	UID   string
	Email string
}

// CredentialProvider supplies the current identity, if any. Submission is
// refused without one.
type CredentialProvider interface {
	CurrentIdentity() (Identity, bool)
}

// StaticCredentials is a CredentialProvider with a fixed identity, used when
// the service runs on behalf of a single configured principal.
type StaticCredentials struct {
	Identity Identity
}

func (s StaticCredentials) CurrentIdentity() (Identity, bool) {
	if s.Identity.UID == "" {
		return Identity{}, false
	}
	return s.Identity, true
}
