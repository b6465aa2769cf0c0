package main

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// powerButtonEvent translates an evdev event into a PowerButtonChanged.
// Autorepeat (value 2) and other keys are ignored.
func powerButtonEvent(ev inputEvent) (PowerButtonChanged, bool) {
	if ev.Type != evKey || ev.Code != keyPower {
		return PowerButtonChanged{}, false
	}
	switch ev.Value {
	case keyPress:
		return PowerButtonChanged{Pressed: true}, true
	case keyRelease:
		return PowerButtonChanged{Pressed: false}, true
	default:
		return PowerButtonChanged{}, false
	}
}
