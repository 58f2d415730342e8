package acquisition

// call runs fn on the Run goroutine and waits for it. False once Run has returned.
func (c *Coordinator) call(fn func()) bool {
	ack := make(chan struct{})
	c.post(event{kind: evCall, fn: func() {
		fn()
		close(ack)
	}})
	select {
	case <-ack:
		return true
	case <-c.done:
		return false
	}
}

func (p *poller) active() bool { return p.task != nil }
