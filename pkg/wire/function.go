package wire

import "fmt"

// Group identifies the protocol family in the message header.
type Group uint32

// GroupDEVM is the group id of every DEVM message.
const GroupDEVM Group = 0x00000100

// Function identifies a command or event.
type Function uint32

// FunctionEventBase is the first function id of the asynchronous event range.
const FunctionEventBase Function = 0x00010000

// IsEvent reports whether f is in the asynchronous event range.
func (f Function) IsEvent() bool { return f >= FunctionEventBase }

// Power and registration commands.
const (
	FuncPowerOn              Function = 0x1001
	FuncPowerOff             Function = 0x1002
	FuncQueryPowerState      Function = 0x1003
	FuncAcknowledgePowerDown Function = 0x1004

	FuncRegisterEventCallback    Function = 0x1010
	FuncUnregisterEventCallback  Function = 0x1011
	FuncRegisterAuthentication   Function = 0x1012
	FuncUnregisterAuthentication Function = 0x1013
)

// Local device commands.
const (
	FuncQueryLocalProperties  Function = 0x1020
	FuncUpdateLocalProperties Function = 0x1021
	FuncEnableFeature         Function = 0x1022
	FuncDisableFeature        Function = 0x1023
	FuncQueryActiveFeatures   Function = 0x1024
)

// Discovery, scan and advertising commands.
const (
	FuncStartDeviceDiscovery Function = 0x1030
	FuncStopDeviceDiscovery  Function = 0x1031
	FuncStartLEScan          Function = 0x1032
	FuncStopLEScan           Function = 0x1033
	FuncStartObservationScan Function = 0x1034
	FuncStopObservationScan  Function = 0x1035
	FuncStartAdvertising     Function = 0x1036
	FuncStopAdvertising      Function = 0x1037
)

// Remote device commands.
const (
	FuncQueryRemoteDeviceList             Function = 0x1040
	FuncQueryRemoteDeviceProperties       Function = 0x1041
	FuncAddRemoteDevice                   Function = 0x1042
	FuncDeleteRemoteDevice                Function = 0x1043
	FuncDeleteRemoteDevices               Function = 0x1044
	FuncUpdateRemoteDeviceApplicationData Function = 0x1045
	FuncQueryRemoteDeviceServices         Function = 0x1046
)

// Pairing and connection commands.
const (
	FuncPairWithRemoteDevice       Function = 0x1050
	FuncCancelPairWithRemoteDevice Function = 0x1051
	FuncUnpairRemoteDevice         Function = 0x1052
	FuncAuthenticationResponse     Function = 0x1053
	FuncConnectWithRemoteDevice    Function = 0x1054
	FuncDisconnectRemoteDevice     Function = 0x1055
)

// Service record commands.
const (
	FuncRegisterServiceRecord        Function = 0x1060
	FuncDeleteServiceRecord          Function = 0x1061
	FuncQueryServiceRecordAttribute  Function = 0x1062
	FuncAddServiceRecordAttribute    Function = 0x1063
	FuncDeleteServiceRecordAttribute Function = 0x1064
)

// Interleaved advertisement scheduler commands.
const (
	FuncScheduleAdvertisement        Function = 0x1070
	FuncCancelScheduledAdvertisement Function = 0x1071
	FuncSuspendScheduling            Function = 0x1072
	FuncResumeScheduling             Function = 0x1073
)

// Events.
const (
	EventDevicePoweredOn        Function = FunctionEventBase + 0x01
	EventDevicePoweringOff      Function = FunctionEventBase + 0x02
	EventDevicePoweredOff       Function = FunctionEventBase + 0x03
	EventLocalPropertiesChanged Function = FunctionEventBase + 0x04

	EventDiscoveryStarted       Function = FunctionEventBase + 0x05
	EventDiscoveryStopped       Function = FunctionEventBase + 0x06
	EventLEScanStarted          Function = FunctionEventBase + 0x07
	EventLEScanStopped          Function = FunctionEventBase + 0x08
	EventObservationScanStarted Function = FunctionEventBase + 0x09
	EventObservationScanStopped Function = FunctionEventBase + 0x0A
	EventAdvertisingStarted     Function = FunctionEventBase + 0x0B
	EventAdvertisingStopped     Function = FunctionEventBase + 0x0C

	EventRemoteDeviceFound             Function = FunctionEventBase + 0x10
	EventRemoteDeviceDeleted           Function = FunctionEventBase + 0x11
	EventRemoteDevicePropertiesChanged Function = FunctionEventBase + 0x12
	EventRemoteDevicePairingStatus     Function = FunctionEventBase + 0x13

	EventAuthenticationRequest Function = FunctionEventBase + 0x20

	EventAdvertisementComplete Function = FunctionEventBase + 0x30
	EventSchedulingSuspended   Function = FunctionEventBase + 0x31
	EventSchedulingResumed     Function = FunctionEventBase + 0x32
)

var functionNames = map[Function]string{
	FuncPowerOn:                           "PowerOn",
	FuncPowerOff:                          "PowerOff",
	FuncQueryPowerState:                   "QueryPowerState",
	FuncAcknowledgePowerDown:              "AcknowledgePowerDown",
	FuncRegisterEventCallback:             "RegisterEventCallback",
	FuncUnregisterEventCallback:           "UnregisterEventCallback",
	FuncRegisterAuthentication:            "RegisterAuthentication",
	FuncUnregisterAuthentication:          "UnregisterAuthentication",
	FuncQueryLocalProperties:              "QueryLocalProperties",
	FuncUpdateLocalProperties:             "UpdateLocalProperties",
	FuncEnableFeature:                     "EnableFeature",
	FuncDisableFeature:                    "DisableFeature",
	FuncQueryActiveFeatures:               "QueryActiveFeatures",
	FuncStartDeviceDiscovery:              "StartDeviceDiscovery",
	FuncStopDeviceDiscovery:               "StopDeviceDiscovery",
	FuncStartLEScan:                       "StartLEScan",
	FuncStopLEScan:                        "StopLEScan",
	FuncStartObservationScan:              "StartObservationScan",
	FuncStopObservationScan:               "StopObservationScan",
	FuncStartAdvertising:                  "StartAdvertising",
	FuncStopAdvertising:                   "StopAdvertising",
	FuncQueryRemoteDeviceList:             "QueryRemoteDeviceList",
	FuncQueryRemoteDeviceProperties:       "QueryRemoteDeviceProperties",
	FuncAddRemoteDevice:                   "AddRemoteDevice",
	FuncDeleteRemoteDevice:                "DeleteRemoteDevice",
	FuncDeleteRemoteDevices:               "DeleteRemoteDevices",
	FuncUpdateRemoteDeviceApplicationData: "UpdateRemoteDeviceApplicationData",
	FuncQueryRemoteDeviceServices:         "QueryRemoteDeviceServices",
	FuncPairWithRemoteDevice:              "PairWithRemoteDevice",
	FuncCancelPairWithRemoteDevice:        "CancelPairWithRemoteDevice",
	FuncUnpairRemoteDevice:                "UnpairRemoteDevice",
	FuncAuthenticationResponse:            "AuthenticationResponse",
	FuncConnectWithRemoteDevice:           "ConnectWithRemoteDevice",
	FuncDisconnectRemoteDevice:            "DisconnectRemoteDevice",
	FuncRegisterServiceRecord:             "RegisterServiceRecord",
	FuncDeleteServiceRecord:               "DeleteServiceRecord",
	FuncQueryServiceRecordAttribute:       "QueryServiceRecordAttribute",
	FuncAddServiceRecordAttribute:         "AddServiceRecordAttribute",
	FuncDeleteServiceRecordAttribute:      "DeleteServiceRecordAttribute",
	FuncScheduleAdvertisement:             "ScheduleAdvertisement",
	FuncCancelScheduledAdvertisement:      "CancelScheduledAdvertisement",
	FuncSuspendScheduling:                 "SuspendScheduling",
	FuncResumeScheduling:                  "ResumeScheduling",
	EventDevicePoweredOn:                  "DevicePoweredOn",
	EventDevicePoweringOff:                "DevicePoweringOff",
	EventDevicePoweredOff:                 "DevicePoweredOff",
	EventLocalPropertiesChanged:           "LocalPropertiesChanged",
	EventDiscoveryStarted:                 "DiscoveryStarted",
	EventDiscoveryStopped:                 "DiscoveryStopped",
	EventLEScanStarted:                    "LEScanStarted",
	EventLEScanStopped:                    "LEScanStopped",
	EventObservationScanStarted:           "ObservationScanStarted",
	EventObservationScanStopped:           "ObservationScanStopped",
	EventAdvertisingStarted:               "AdvertisingStarted",
	EventAdvertisingStopped:               "AdvertisingStopped",
	EventRemoteDeviceFound:                "RemoteDeviceFound",
	EventRemoteDeviceDeleted:              "RemoteDeviceDeleted",
	EventRemoteDevicePropertiesChanged:    "RemoteDevicePropertiesChanged",
	EventRemoteDevicePairingStatus:        "RemoteDevicePairingStatus",
	EventAuthenticationRequest:            "AuthenticationRequest",
	EventAdvertisementComplete:            "AdvertisementComplete",
	EventSchedulingSuspended:              "SchedulingSuspended",
	EventSchedulingResumed:                "SchedulingResumed",
}

// String returns the function name.
func (f Function) String() string {
	if name, ok := functionNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Function(0x%08X)", uint32(f))
}
