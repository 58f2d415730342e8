package acquisition

import (
	"math/rand/v2"

	"transformer_monitor/internal/models"
)

// demoSnapshot produces a full randomized snapshot for UI development.
func demoSnapshot(r *rand.Rand) models.Signals {
	return models.Signals{
		models.SignalL1WindingTemp:      75 + r.Float64()*30,
		models.SignalL3WindingTemp:      70 + r.Float64()*35,
		models.SignalTempAlarm1:         r.Float64() > 0.8,
		models.SignalTempAlarm2:         r.Float64() > 0.9,
		models.SignalTransformerTrip:    false,
		models.SignalTransformerAlarm:   r.Float64() > 0.85,
		models.SignalCoolingBankWorking: r.Float64() > 0.1,
		models.SignalCoolingBankFailure: r.Float64() > 0.95,
	}
}

// startDemo feeds randomized snapshots through the normal merge path.
// Only reachable when explicitly enabled in configuration.
func (c *Coordinator) startDemo() {
	if c.demo != nil {
		return
	}
	r := rand.New(rand.NewPCG(uint64(c.now().UnixNano()), 0x7472616e73))
	c.log.Warnw("demo_mode_enabled", "interval", c.opts.DemoInterval)
	c.demo = c.sched.Every(c.opts.DemoInterval, func() {
		c.post(event{kind: evDemo, data: demoSnapshot(r)})
	})
}

func (c *Coordinator) stopDemo() {
	if c.demo == nil {
		return
	}
	c.demo.Stop()
	c.demo = nil
}
