package sbl

import (
	"fmt"
	"log"
	"time"
)

//Session grows one tree per bag and round with a backend chosen at construction.
//Each bag has its own stream, levels are processed in lock step over all bags.
type Session struct {
	splitter Splitter
	ws       *Workspace
	streams  []Stream
	metrics  *Metrics
}

//NewSession creates the backend and one stream per bag.
func NewSession(ws *Workspace, backend string, metrics *Metrics) (*Session, error) {
	splitter, err := NewSplitter(backend, ws)
	if err != nil {
		return nil, err
	}
	return NewSessionWithSplitter(ws, splitter, metrics), nil
}

//NewSessionWithSplitter wraps an existing backend.
func NewSessionWithSplitter(ws *Workspace, splitter Splitter, metrics *Metrics) *Session {
	session := &Session{splitter: splitter, ws: ws, metrics: metrics}
	for range ws.Bags {
		session.streams = append(session.streams, splitter.NewStream())
	}
	return session
}

//Splitter returns the backend of the session.
func (session *Session) Splitter() Splitter {
	return session.splitter
}

//Workspace returns the data the session works on.
func (session *Session) Workspace() *Workspace {
	return session.ws
}

//Close releases the streams and, for the device backend, the buffers of every bag.
func (session *Session) Close() error {
	var first error
	for _, stream := range session.streams {
		if err := stream.Close(); err != nil && first == nil {
			first = err
		}
	}
	if device, ok := session.splitter.(*DeviceSplitter); ok {
		for bagID := range session.ws.Bags {
			device.Release(bagID)
		}
	}
	return first
}

func (session *Session) synchronize(stage string) error {
	for bagID, stream := range session.streams {
		if err := stream.Synchronize(); err != nil {
			return fmt.Errorf("%s, bag %d: %w", stage, bagID, err)
		}
	}
	return nil
}

//GrowRound computes gradients of every bag, grows one tree per bag and adds the trees'
//outputs to the bags' predictions. A failed round leaves the bags' trees unusable.
func (session *Session) GrowRound() ([]*RegTree, error) {
	ws, splitter := session.ws, session.splitter
	backend := splitter.SplitterType()

	for bagID := range ws.Bags {
		if err := splitter.ComputeGD(session.streams[bagID], ws, bagID); err != nil {
			return nil, err
		}
	}
	if err := session.synchronize("gradients"); err != nil {
		return nil, err
	}
	for bagID := range ws.Bags {
		ws.StartTree(bagID)
	}

	for level := 0; ; level++ {
		active := session.activeBags()
		if len(active) == 0 {
			break
		}

		started := time.Now()
		for _, bagID := range active {
			if err := splitter.FindBestSplits(session.streams[bagID], ws, bagID); err != nil {
				return nil, err
			}
		}
		if err := session.synchronize("split search"); err != nil {
			return nil, err
		}
		session.metrics.observeLevel(backend, time.Since(started))

		for _, bagID := range active {
			if err := splitter.ApplySplits(session.streams[bagID], ws, bagID); err != nil {
				return nil, err
			}
		}
		if err := session.synchronize("split application"); err != nil {
			return nil, err
		}
		log.Printf("level %d done, %d bags still growing", level, len(session.activeBags()))
	}

	trees := make([]*RegTree, len(ws.Bags))
	for bagID := range ws.Bags {
		trees[bagID] = ws.FinishTree(bagID)
		session.metrics.observeTree(backend, trees[bagID])
	}
	return trees, nil
}

func (session *Session) activeBags() (active []int) {
	for bagID, bag := range session.ws.Bags {
		if len(bag.Frontier) > 0 {
			active = append(active, bagID)
		}
	}
	return
}
