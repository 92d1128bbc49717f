package wire

// Command codes sent client -> server in a command frame's Header.Code.
const (
	CmdHandshake uint32 = iota
	CmdConnectDelsysAnalog
	CmdConnectDelsysEMG
	CmdConnectMagstim
	CmdDisconnectDelsysAnalog
	CmdDisconnectDelsysEMG
	CmdDisconnectMagstim
	CmdStartRecording
	CmdStopRecording
	CmdGetLastTrialData
	CmdFailed
)

// CommandNames maps a command code to its wire name, for logging.
var CommandNames = map[uint32]string{
	CmdHandshake:              "HANDSHAKE",
	CmdConnectDelsysAnalog:    "CONNECT_DELSYS_ANALOG",
	CmdConnectDelsysEMG:       "CONNECT_DELSYS_EMG",
	CmdConnectMagstim:         "CONNECT_MAGSTIM",
	CmdDisconnectDelsysAnalog: "DISCONNECT_DELSYS_ANALOG",
	CmdDisconnectDelsysEMG:    "DISCONNECT_DELSYS_EMG",
	CmdDisconnectMagstim:      "DISCONNECT_MAGSTIM",
	CmdStartRecording:         "START_RECORDING",
	CmdStopRecording:          "STOP_RECORDING",
	CmdGetLastTrialData:       "GET_LAST_TRIAL_DATA",
	CmdFailed:                 "FAILED",
}

// Response (ack) codes sent server -> client in a response frame's
// Header.Code.
const (
	RespNOK uint32 = iota
	RespOK
)
