package trust

// Status classifies a verification outcome.
type Status string

const (
	// StatusVerified means the document carried a valid signature.
	StatusVerified Status = "VERIFIED"
	// StatusFailure means a signature was declared but could not be verified.
	StatusFailure Status = "FAILURE"
	// StatusUnverified means the document declares no signature.
	StatusUnverified Status = "UNVERIFIED"
	// StatusCacheMiss means the body could not be checked and no earlier
	// verdict was cached.
	StatusCacheMiss Status = "CACHE_MISS"
	// StatusUnsupportedCapture means the platform cannot intercept the body
	// and no earlier verdict was cached.
	StatusUnsupportedCapture Status = "UNSUPPORTED_CAPTURE"
)

// Outcome is the verdict assigned to one navigation. Outcomes are values;
// the helpers below return copies and never mutate the receiver.
type Outcome struct {
	Status    Status  `json:"status"`
	Author    *Author `json:"author,omitempty"`
	Error     string  `json:"error,omitempty"`
	FromCache bool    `json:"from_cache,omitempty"`
}

// Verified returns a VERIFIED outcome for author a.
func Verified(a Author) Outcome {
	return Outcome{Status: StatusVerified, Author: &a}
}

// Failed returns a FAILURE outcome carrying err's message.
func Failed(err error) Outcome {
	o := Outcome{Status: StatusFailure}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// Unverified returns an UNVERIFIED outcome.
func Unverified() Outcome { return Outcome{Status: StatusUnverified} }

// CacheMiss returns a CACHE_MISS outcome.
func CacheMiss() Outcome { return Outcome{Status: StatusCacheMiss, FromCache: true} }

// UnsupportedCapture returns an UNSUPPORTED_CAPTURE outcome.
func UnsupportedCapture() Outcome {
	return Outcome{Status: StatusUnsupportedCapture, FromCache: true}
}

// Cached returns a copy of o marked as read from the result cache.
func (o Outcome) Cached() Outcome {
	o.FromCache = true
	if o.Author != nil {
		a := *o.Author
		o.Author = &a
	}
	return o
}

// Fresh returns a copy of o with the cache marker cleared.
func (o Outcome) Fresh() Outcome {
	o.FromCache = false
	if o.Author != nil {
		a := *o.Author
		o.Author = &a
	}
	return o
}

// KeyID returns the resolved author's key id, or "" when there is none.
func (o Outcome) KeyID() KeyID {
	if o.Author == nil {
		return ""
	}
	return o.Author.KeyID
}

// IsVerdict reports whether o says something about the document itself.
// CACHE_MISS and UNSUPPORTED_CAPTURE only say the document was not checked.
func (o Outcome) IsVerdict() bool {
	switch o.Status {
	case StatusVerified, StatusFailure, StatusUnverified:
		return true
	default:
		return false
	}
}

// Persistable reports whether o is a fresh verdict that belongs in the
// result cache.
func (o Outcome) Persistable() bool {
	return o.IsVerdict() && !o.FromCache
}
