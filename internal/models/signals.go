package models

// Signal names as published by the telemetry source. These strings are the wire contract.
const (
	SignalL1WindingTemp      = "LV L1 Winding temperature"
	SignalL3WindingTemp      = "LV L3 Winding temperature"
	SignalTempAlarm1         = "Temp alarm1"
	SignalTempAlarm2         = "Temp alarm2"
	SignalTransformerTrip    = "Transformer trip"
	SignalTransformerAlarm   = "Transformer alarm"
	SignalCoolingBankWorking = "Cooling bank working"
	SignalCoolingBankFailure = "Cooling bank failure"
)

// Winding temperature thresholds, °C.
const (
	TempWarningC = 85.0
	TempAlarmC   = 100.0
)

// SignalStatus classifies a measurement for display.
type SignalStatus string

const (
	StatusNormal   SignalStatus = "normal"
	StatusWarning  SignalStatus = "warning"
	StatusAlarm    SignalStatus = "alarm"
	StatusInactive SignalStatus = "inactive"
)

// SignalKind is the value type a known signal carries on the wire.
type SignalKind int

const (
	KindUnknown SignalKind = iota
	KindNumber
	KindFlag
)

var signalKinds = map[string]SignalKind{
	SignalL1WindingTemp:      KindNumber,
	SignalL3WindingTemp:      KindNumber,
	SignalTempAlarm1:         KindFlag,
	SignalTempAlarm2:         KindFlag,
	SignalTransformerTrip:    KindFlag,
	SignalTransformerAlarm:   KindFlag,
	SignalCoolingBankWorking: KindFlag,
	SignalCoolingBankFailure: KindFlag,
}

// KindOf reports the expected kind of a signal; KindUnknown for keys outside the vocabulary.
func KindOf(key string) SignalKind {
	return signalKinds[key]
}

// TemperatureSignals lists the numeric winding measurements in display order.
func TemperatureSignals() []string {
	return []string{SignalL1WindingTemp, SignalL3WindingTemp}
}

// Signals maps signal names to their latest value. A missing key means unknown.
// Values are float64 for measurements, bool for flags, anything for unrecognized keys.
type Signals map[string]any

// Merge copies every key of partial into s, last write wins. Keys absent from
// partial keep their value.
func (s Signals) Merge(partial Signals) {
	for k, v := range partial {
		s[k] = v
	}
}

// Clone returns a shallow copy; values are scalars for all known keys.
func (s Signals) Clone() Signals {
	out := make(Signals, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Number returns the numeric value of key if known.
func (s Signals) Number(key string) (float64, bool) {
	v, ok := s[key].(float64)
	return v, ok
}

// Flag returns the boolean value of key if known.
func (s Signals) Flag(key string) (bool, bool) {
	v, ok := s[key].(bool)
	return v, ok
}

func (s Signals) isSet(key string) bool {
	v, _ := s.Flag(key)
	return v
}

// HasAlarm reports whether any alarm flag is raised.
func (s Signals) HasAlarm() bool {
	return s.isSet(SignalTransformerAlarm) || s.isSet(SignalTempAlarm1) || s.isSet(SignalTempAlarm2)
}

// HasTrip reports whether the transformer has tripped.
func (s Signals) HasTrip() bool {
	return s.isSet(SignalTransformerTrip)
}

// TemperatureStatus classifies a winding temperature against the thresholds.
func (s Signals) TemperatureStatus(key string) SignalStatus {
	v, ok := s.Number(key)
	switch {
	case !ok:
		return StatusInactive
	case v >= TempAlarmC:
		return StatusAlarm
	case v >= TempWarningC:
		return StatusWarning
	default:
		return StatusNormal
	}
}
