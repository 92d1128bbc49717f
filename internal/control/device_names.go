package control

// Fixed registry names for the three devices the wire protocol knows how to
// connect/disconnect by command code.
const (
	DeviceDelsysAnalog = "delsys_analog"
	DeviceDelsysEMG    = "delsys_emg"
	DeviceMagstim      = "magstim"
)
