package differ

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/containerd/log"

	"github.com/pa-sowa/snapper/internal/btrfs"
	"github.com/pa-sowa/snapper/internal/cleanup"
	"github.com/pa-sowa/snapper/internal/sendstream"
)

// doSend runs the producer/consumer pair of one incremental send: the
// consumer goroutine drives the stream parser off the read end of a pipe
// while the kernel send request blocks on the calling goroutine writing into
// the other end. Both pipe ends are closed on every exit path.
func (p *processor) doSend(ctx context.Context, parentRootID uint64, cloneSources []uint64) error {
	pr, pw, err := os.Pipe()
	if err != nil {
		return &SendReceiveError{Stage: "pipe", Cause: err}
	}

	var interrupted atomic.Bool
	stopWatch := context.AfterFunc(ctx, func() {
		interrupted.Store(true)
	})
	defer stopWatch()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("stream consumer panicked: %v", r)
			}
		}()
		parser := sendstream.NewParser(pr, p.ops())
		for {
			if interrupted.Load() {
				done <- ctx.Err()
				return
			}
			finished, err := parser.Next()
			if err != nil {
				done <- err
				return
			}
			if finished {
				done <- nil
				return
			}
		}
	}()

	// The send ioctl blocks until the kernel has emitted the whole stream
	// or failed. It cannot be interrupted; cancellation takes effect once
	// it returns.
	sendErr := btrfs.Send(p.dir2.FD(), btrfs.SendRequest{
		WriteFD:      int(pw.Fd()),
		ParentRoot:   parentRootID,
		CloneSources: cloneSources,
		Flags:        btrfs.SendFlagNoFileData,
	})

	// Closing the write end yields end-of-stream to the consumer. Join it
	// even when ctx is already cancelled; the pipe drain is bounded.
	var consumeErr error
	cleanup.Do(ctx, func(cctx context.Context) {
		pw.Close()
		select {
		case consumeErr = <-done:
		case <-cctx.Done():
			interrupted.Store(true)
			consumeErr = cctx.Err()
		}
		pr.Close()
	})

	if sendErr != nil {
		return &SendReceiveError{Stage: "send", Cause: sendErr}
	}
	if consumeErr != nil {
		return &SendReceiveError{Stage: "parse", Cause: consumeErr}
	}
	if err := ctx.Err(); err != nil {
		return &SendReceiveError{Stage: "send", Cause: err}
	}

	log.G(ctx).WithField("parent", parentRootID).Debug("send stream consumed")
	return nil
}
