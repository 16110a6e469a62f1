package exposure

import (
	"fmt"
	"time"

	"pylon/pkg/logging"
)

type peerState struct {
	lastPing    time.Time
	missedPings int
}

// livenessChecker pings one stale peer per tick, evicting it locally after
// too many consecutive failures. It never emits an unexpose event on
// eviction, since the failure is assumed local to this node's view of the
// network.
type livenessChecker struct {
	e     *Exposure
	state map[string]*peerState
}

func newLivenessChecker(e *Exposure) *livenessChecker {
	return &livenessChecker{e: e, state: make(map[string]*peerState)}
}

func (c *livenessChecker) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.e.stopCh:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *livenessChecker) tick() {
	exposed := c.e.exposedIDs()
	exposedSet := make(map[string]bool, len(exposed))
	for _, id := range exposed {
		exposedSet[id] = true
	}

	for _, id := range exposed {
		if _, ok := c.state[id]; !ok {
			c.state[id] = &peerState{lastPing: time.Now()}
		}
	}
	for id := range c.state {
		if !exposedSet[id] {
			delete(c.state, id)
		}
	}

	now := time.Now()
	var toCheck string
	for id, st := range c.state {
		if now.Sub(st.lastPing) >= c.e.cfg.PingInterval {
			toCheck = id
			break
		}
	}
	if toCheck == "" {
		return
	}

	st := c.state[toCheck]
	if err := c.ping(toCheck); err != nil {
		if c.e.cfg.Debug {
			logging.Error("Exposure", err, "pylon ping failed: %s", toCheck)
		}
		st.lastPing = time.Now()
		st.missedPings++
		if st.missedPings >= c.e.cfg.MaxMissedPings {
			c.e.dropExposureID(toCheck)
			delete(c.state, toCheck)
		}
		return
	}

	if c.e.cfg.Debug {
		logging.Debug("Exposure", "pylon ping done: %s", toCheck)
	}
	st.lastPing = time.Now()
	st.missedPings = 0
}

func (c *livenessChecker) ping(exposureID string) error {
	result, err := c.e.rpc.CallFunctionWithTimeout(exposureID+"_ping", c.e.cfg.PingTimeout, nil, nil)
	if err != nil {
		return err
	}
	ok, _ := result.(bool)
	if !ok {
		return fmt.Errorf("invalid ping result from %s", exposureID)
	}
	return nil
}

func (e *Exposure) exposedIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.registry))
	for _, id := range e.registry {
		ids = append(ids, id)
	}
	return ids
}
