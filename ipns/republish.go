package ipns

import (
	"context"
	"log"
	"time"

	"github.com/ipfs/go-cid"

	"corenode/corerr"
)

// Start launches the background republish loop: spec.md §4.13's "A
// background task scans the local record store at a configured
// interval... with parallelism republish_concurrency". The bounded
// worker semaphore mirrors bitswap/network.Engine's own buffered-
// channel concurrency cap, the same idiom applied to a ticking scan
// instead of a per-peer send queue.
func (s *System) Start() {
	s.wg.Add(1)
	go s.republishLoop()
}

// Stop ends the republish loop and waits for any in-flight republish
// round to finish.
func (s *System) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *System) republishLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.republishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.republishDue()
		}
	}
}

func (s *System) republishDue() {
	ctx := context.Background()
	due, err := s.store.Due(ctx, s.clock.Now())
	if err != nil {
		log.Printf("ipns: republish scan failed: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, s.republishConcurrency)
	done := make(chan struct{})
	remaining := len(due)

	for _, rec := range due {
		rec := rec
		sem <- struct{}{}
		go func() {
			defer func() {
				<-sem
				done <- struct{}{}
			}()
			if err := s.republishOne(ctx, rec); err != nil {
				log.Printf("ipns: republish %s failed: %v", rec.KeyName, err)
			}
		}()
	}

	for i := 0; i < remaining; i++ {
		<-done
	}
}

// republishOne re-signs rec with an incremented sequence (same value,
// a fresh validity window) and re-publishes it, per spec.md §4.13.
func (s *System) republishOne(ctx context.Context, rec StoredRecord) error {
	stored, err := Unmarshal(rec.Raw)
	if err != nil {
		return err
	}
	value, err := stored.Value()
	if err != nil {
		return err
	}
	ident, _, isIPNS, err := parseValue(value.String())
	if err != nil {
		return err
	}
	if isIPNS {
		return corerr.New(corerr.InvalidRecord, "republish of an ipns-to-ipns pointer is not supported")
	}
	c, err := cid.Decode(ident)
	if err != nil {
		return err
	}

	_, err = s.Publish(ctx, rec.KeyName, c, PublishOptions{})
	return err
}
