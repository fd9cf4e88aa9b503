package jnap

// JNAP action URNs understood by Velop nodes. The primary node answers all
// of them; secondaries only answer the core set.
const (
	ActionTransaction           = "http://linksys.com/jnap/core/Transaction"
	ActionCheckPassword         = "http://linksys.com/jnap/core/CheckAdminPassword"
	ActionGetDeviceInfo         = "http://linksys.com/jnap/core/GetDeviceInfo"
	ActionReboot                = "http://linksys.com/jnap/core/Reboot"
	ActionGetDevices            = "http://linksys.com/jnap/devicelist/GetDevices3"
	ActionDeleteDevice          = "http://linksys.com/jnap/devicelist/DeleteDevice"
	ActionGetBackhaulInfo       = "http://linksys.com/jnap/nodes/diagnostics/GetBackhaulInfo"
	ActionGetUpdateSettings     = "http://linksys.com/jnap/nodes/firmwareupdate/GetFirmwareUpdateSettings"
	ActionGetUpdateStatus       = "http://linksys.com/jnap/nodes/firmwareupdate/GetFirmwareUpdateStatus"
	ActionUpdateFirmwareNow     = "http://linksys.com/jnap/nodes/firmwareupdate/UpdateFirmwareNow"
	ActionGetWANStatus          = "http://linksys.com/jnap/router/GetWANStatus"
	ActionGetGuestSettings      = "http://linksys.com/jnap/guestnetwork/GetGuestRadioSettings"
	ActionSetGuestSettings      = "http://linksys.com/jnap/guestnetwork/SetGuestRadioSettings"
	ActionGetParentalControl    = "http://linksys.com/jnap/parentalcontrol/GetParentalControlSettings"
	ActionSetParentalControl    = "http://linksys.com/jnap/parentalcontrol/SetParentalControlSettings"
	ActionRunHealthCheck        = "http://linksys.com/jnap/healthcheck/RunHealthCheck"
	ActionGetHealthCheckStatus  = "http://linksys.com/jnap/healthcheck/GetHealthCheckStatus"
	ActionGetHealthCheckResults = "http://linksys.com/jnap/healthcheck/GetHealthCheckResults"
)
