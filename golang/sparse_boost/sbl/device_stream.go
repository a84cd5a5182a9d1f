package sbl

import (
	"errors"
	"sync"
)

//ErrStreamClosed is returned when work is enqueued on a closed stream.
var ErrStreamClosed = errors.New("device stream is closed")

type deviceOp struct {
	kernel func() error
	fence  chan struct{}
}

//DeviceStream executes kernels one after another in the order they were enqueued,
//asynchronously to the caller.
type DeviceStream struct {
	queue chan deviceOp
	done  chan struct{}

	sendMu sync.Mutex
	closed bool

	errMu sync.Mutex
	err   error
}

//NewDeviceStream starts a stream.
func NewDeviceStream() *DeviceStream {
	stream := &DeviceStream{queue: make(chan deviceOp, 16), done: make(chan struct{})}
	go stream.run()
	return stream
}

func (stream *DeviceStream) run() {
	defer close(stream.done)
	for op := range stream.queue {
		if op.fence != nil {
			close(op.fence)
			continue
		}
		if err := op.kernel(); err != nil {
			stream.errMu.Lock()
			if stream.err == nil {
				stream.err = err
			}
			stream.errMu.Unlock()
		}
	}
}

func (stream *DeviceStream) send(op deviceOp) error {
	stream.sendMu.Lock()
	defer stream.sendMu.Unlock()
	if stream.closed {
		return ErrStreamClosed
	}
	stream.queue <- op
	return nil
}

//Enqueue schedules a kernel. Its error is reported by the next Synchronize.
func (stream *DeviceStream) Enqueue(kernel func() error) error {
	return stream.send(deviceOp{kernel: kernel})
}

//Synchronize waits for every kernel enqueued so far and returns the first error
//raised since the previous synchronization.
func (stream *DeviceStream) Synchronize() error {
	fence := make(chan struct{})
	if err := stream.send(deviceOp{fence: fence}); err != nil {
		return err
	}
	<-fence

	stream.errMu.Lock()
	defer stream.errMu.Unlock()
	err := stream.err
	stream.err = nil
	return err
}

//Close drains the queue and stops the stream.
func (stream *DeviceStream) Close() error {
	stream.sendMu.Lock()
	if stream.closed {
		stream.sendMu.Unlock()
		return nil
	}
	stream.closed = true
	close(stream.queue)
	stream.sendMu.Unlock()

	<-stream.done
	stream.errMu.Lock()
	defer stream.errMu.Unlock()
	return stream.err
}
