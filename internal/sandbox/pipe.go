package sandbox

import (
	"context"
	"errors"
	"sync"
)

const pipeBuffer = 64

var ErrClosed = errors.New("sandbox connection closed")

// Conn is one end of a Pipe. Messages cross the pipe encoded, so the two
// ends never share memory.
type Conn struct {
	out      chan<- []byte
	in       <-chan []byte
	messages chan Message
	done     chan struct{}
	peerDone <-chan struct{}
	once     sync.Once
}

// Pipe returns the parent and child ends of an in-process connection.
func Pipe() (parent *Conn, child *Conn) {
	toChild := make(chan []byte, pipeBuffer)
	toParent := make(chan []byte, pipeBuffer)
	parentDone := make(chan struct{})
	childDone := make(chan struct{})

	parent = &Conn{
		out:      toChild,
		in:       toParent,
		messages: make(chan Message),
		done:     parentDone,
		peerDone: childDone,
	}
	child = &Conn{
		out:      toParent,
		in:       toChild,
		messages: make(chan Message),
		done:     childDone,
		peerDone: parentDone,
	}
	go parent.pump()
	go child.pump()
	return parent, child
}

// Send queues msg for the peer. It blocks only while the pipe buffer is full.
func (c *Conn) Send(ctx context.Context, msg Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	case <-c.peerDone:
		return ErrClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case <-c.peerDone:
		return ErrClosed
	}
}

// Messages yields decoded messages from the peer. It closes when either end
// closes; frames already queued by a closing peer are still delivered.
func (c *Conn) Messages() <-chan Message {
	return c.messages
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *Conn) pump() {
	defer close(c.messages)
	for {
		select {
		case frame := <-c.in:
			if !c.deliver(frame) {
				return
			}
		case <-c.done:
			return
		case <-c.peerDone:
			for {
				select {
				case frame := <-c.in:
					if !c.deliver(frame) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Conn) deliver(frame []byte) bool {
	msg, err := Decode(frame)
	if err != nil {
		return true
	}
	select {
	case c.messages <- msg:
		return true
	case <-c.done:
		return false
	}
}
