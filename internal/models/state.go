package models

// TemperatureReading is one winding measurement with its display status.
type TemperatureReading struct {
	Value  *float64     `json:"value"` // nil until the signal has been seen
	Status SignalStatus `json:"status"`
}

// TransformerState is the published view served to dashboards.
type TransformerState struct {
	Version      uint64                        `json:"version"`
	Mode         Mode                          `json:"mode"`
	Signals      Signals                       `json:"signals"`
	Connection   ConnectionStatus              `json:"connection"`
	Alarm        bool                          `json:"alarm"`
	Trip         bool                          `json:"trip"`
	Temperatures map[string]TemperatureReading `json:"temperatures"`
}

// NewTransformerState derives the dashboard view from a snapshot.
func NewTransformerState(version uint64, mode Mode, s Signals, conn ConnectionStatus) TransformerState {
	if s == nil {
		s = Signals{}
	}
	temps := make(map[string]TemperatureReading, 2)
	for _, key := range TemperatureSignals() {
		r := TemperatureReading{Status: s.TemperatureStatus(key)}
		if v, ok := s.Number(key); ok {
			r.Value = &v
		}
		temps[key] = r
	}
	return TransformerState{
		Version:      version,
		Mode:         mode,
		Signals:      s,
		Connection:   conn,
		Alarm:        s.HasAlarm(),
		Trip:         s.HasTrip(),
		Temperatures: temps,
	}
}
