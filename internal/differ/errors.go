package differ

import (
	"errors"
	"fmt"
)

// SendReceiveError is raised for any failure to set up or drive the
// send-stream pipeline: pipe creation, the send ioctl, a stream parse error,
// a missing subvolume index entry, or a snapshot that is not read-only.
//
// Recovery: the public wrapper catches it and delegates to the walking
// comparator, which needs none of the send machinery.
type SendReceiveError struct {
	Stage string // pipeline stage that failed: verify, resolve, pipe, send, parse
	Cause error
}

func (e *SendReceiveError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("btrfs send/receive error at %s", e.Stage)
	}
	return fmt.Sprintf("btrfs send/receive error at %s: %v", e.Stage, e.Cause)
}

func (e *SendReceiveError) Unwrap() error {
	return e.Cause
}

// IsSendReceive reports whether err is (or wraps) a SendReceiveError.
func IsSendReceive(err error) bool {
	var e *SendReceiveError
	return errors.As(err, &e)
}
