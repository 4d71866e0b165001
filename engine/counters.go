package engine

// counters tracks the per-superstep bookkeeping described in
// spec.md §3 "Superstep counters": how many frames this peer has
// sent to each other peer, and how many gets issued locally are still
// awaiting a response.
type counters struct {
	put       []int64 // put[d]: puts sent to peer d this superstep
	get       []int64 // get[d]: gets sent to peer d this superstep
	msg       []int64 // msg[d]: messages sent to peer d this superstep
	localGets int64   // gets issued locally, awaiting a GetResponse

	remotePuts int64 // frames to drain this sync, from reduce_scatter_sum(put)
	remoteGets int64 // frames to drain this sync, from reduce_scatter_sum(get)
	remoteMsgs int64 // frames to drain this sync, from reduce_scatter_sum(msg)
}

func newCounters(size int) *counters {
	return &counters{
		put: make([]int64, size),
		get: make([]int64, size),
		msg: make([]int64, size),
	}
}

func (c *counters) reset() {
	for i := range c.put {
		c.put[i] = 0
		c.get[i] = 0
		c.msg[i] = 0
	}
	c.localGets = 0
	c.remotePuts = 0
	c.remoteGets = 0
	c.remoteMsgs = 0
}

// isZero reports whether every counter is at its between-superstep
// resting value, the invariant spec.md §3 and §8 item 8 require.
func (c *counters) isZero() bool {
	for _, v := range c.put {
		if v != 0 {
			return false
		}
	}
	for _, v := range c.get {
		if v != 0 {
			return false
		}
	}
	for _, v := range c.msg {
		if v != 0 {
			return false
		}
	}
	return c.localGets == 0 && c.remotePuts == 0 && c.remoteGets == 0 && c.remoteMsgs == 0
}
