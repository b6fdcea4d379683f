package interactive

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/devm-project/devm-go/pkg/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var commands = map[string]command{
	// Power
	"poweron":  {"", "Power the local device on", (*Shell).powerOn},
	"poweroff": {"", "Power the local device off", (*Shell).powerOff},
	"power":    {"", "Show the power state", (*Shell).powerState},
	"ack":      {"", "Acknowledge a pending power-down", (*Shell).ack},

	// Local device
	"props":    {"", "Show local device properties", (*Shell).props},
	"setname":  {"<name>", "Set the local device name", (*Shell).setName},
	"setclass": {"<cod>", "Set the local class of device", (*Shell).setClass},
	"setmode":  {"discoverable|connectable|pairable <value>", "Set a scan or pairing mode", (*Shell).setMode},
	"features": {"", "Show active features", (*Shell).features},
	"enable":   {"le|ant|interleaved", "Enable a feature", (*Shell).enable},
	"disable":  {"le|ant|interleaved", "Disable a feature", (*Shell).disable},

	// Discovery and advertising
	"discover":      {"[seconds]", "Start device discovery (0 = until stopped)", (*Shell).discover},
	"stopdiscover":  {"", "Stop device discovery", (*Shell).stopDiscover},
	"lescan":        {"[seconds]", "Start an LE scan", (*Shell).leScan},
	"stoplescan":    {"", "Stop the LE scan", (*Shell).stopLEScan},
	"observe":       {"<report-ms> [active]", "Start an observation scan", (*Shell).observe},
	"stopobserve":   {"", "Stop the observation scan", (*Shell).stopObserve},
	"advertise":     {"[seconds] [hex-data]", "Start connectable advertising", (*Shell).advertise},
	"stopadvertise": {"[force]", "Stop advertising", (*Shell).stopAdvertise},

	// Remote devices
	"devices":    {"[all|connected|paired|unpaired]", "List remote devices", (*Shell).devices},
	"device":     {"<addr>", "Show remote device properties", (*Shell).device},
	"dump":       {"[addr]", "Print local or remote properties as JSON", (*Shell).dump},
	"services":   {"<addr> [force]", "List services of a remote device", (*Shell).services},
	"add":        {"<addr> [cod] [hex-appdata]", "Add a remote device", (*Shell).add},
	"delete":     {"<addr>", "Delete a remote device", (*Shell).delete},
	"deleteall":  {"[all|connected|paired|unpaired]", "Delete remote devices by filter", (*Shell).deleteAll},
	"appdata":    {"<addr> <hex>", "Set remote device application data", (*Shell).appData},
	"pair":       {"<addr> [le]", "Pair with a remote device", (*Shell).pair},
	"cancelpair": {"<addr>", "Cancel an ongoing pairing", (*Shell).cancelPair},
	"unpair":     {"<addr> [le]", "Remove a bond", (*Shell).unpair},
	"connect":    {"<addr> [le]", "Connect to a remote device", (*Shell).connect},
	"disconnect": {"<addr> [le]", "Disconnect a remote device", (*Shell).disconnect},

	// Authentication
	"auth":    {"on|off", "Become (or stop being) the authentication handler", (*Shell).auth},
	"confirm": {"<addr> yes|no", "Answer a confirmation request", (*Shell).confirm},
	"passkey": {"<addr> <number>", "Answer a passkey request", (*Shell).passkey},
	"pin":     {"<addr> <code>", "Answer a PIN code request", (*Shell).pin},

	// Service records
	"record":    {"<uuid>[,<uuid>...] [persistent]", "Register a service record", (*Shell).record},
	"delrecord": {"<handle>", "Delete a service record", (*Shell).delRecord},
	"addattr":   {"<handle> <id> <hex>", "Add a record attribute", (*Shell).addAttr},
	"delattr":   {"<handle> <id>", "Delete a record attribute", (*Shell).delAttr},
	"attr":      {"<handle> <id>", "Read a record attribute", (*Shell).attr},

	// Interleaved advertisements
	"schedule": {"<ms> [hex-payload] [scannable]", "Schedule a one-shot advertisement", (*Shell).schedule},
	"cancel":   {"<job>", "Cancel a scheduled advertisement", (*Shell).cancel},
	"suspend":  {"", "Suspend interleaved scheduling", (*Shell).suspend},
	"resume":   {"", "Resume interleaved scheduling", (*Shell).resume},
}

func (s *Shell) powerOn(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	if err := s.client.PowerOn(s.ctx); err != nil {
		return err
	}
	s.ok("Powered on")
	return nil
}

func (s *Shell) powerOff(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	if err := s.client.PowerOff(s.ctx); err != nil {
		return err
	}
	s.ok("Power-off requested")
	return nil
}

func (s *Shell) powerState(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	state, err := s.client.QueryPowerState(s.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Power: %s\n", state)
	return nil
}

func (s *Shell) ack(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	if err := s.client.AcknowledgePowerDown(s.ctx, s.callbackID); err != nil {
		return err
	}
	s.ok("Power-down acknowledged")
	return nil
}

func (s *Shell) props(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	p, err := s.client.QueryLocalProperties(s.ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(s.out, formatLocal(&p))
	return nil
}

func (s *Shell) setName(args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	name := strings.Join(args, " ")
	if err := s.client.UpdateLocalProperties(s.ctx, wire.LocalMaskDeviceName, wire.LocalProperties{DeviceName: name}); err != nil {
		return err
	}
	s.ok("Name set to %q", name)
	return nil
}

func (s *Shell) setClass(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	cod, err := parseUint32(args[0])
	if err != nil {
		return err
	}
	props := wire.LocalProperties{ClassOfDevice: wire.ClassOfDevice(cod)}
	if err := s.client.UpdateLocalProperties(s.ctx, wire.LocalMaskClassOfDevice, props); err != nil {
		return err
	}
	s.ok("Class of device set to %s", props.ClassOfDevice)
	return nil
}

func (s *Shell) setMode(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	mask, props, err := parseMode(args[0], args[1])
	if err != nil {
		return err
	}
	if err := s.client.UpdateLocalProperties(s.ctx, mask, props); err != nil {
		return err
	}
	s.ok("%s mode set", args[0])
	return nil
}

func (s *Shell) features(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	f, err := s.client.QueryActiveFeatures(s.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Features: %s\n", formatFeatures(f))
	return nil
}

func (s *Shell) enable(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	f, err := parseFeature(args[0])
	if err != nil {
		return err
	}
	if err := s.client.EnableFeature(s.ctx, f); err != nil {
		return err
	}
	s.ok("Enabled %s", f)
	return nil
}

func (s *Shell) disable(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	f, err := parseFeature(args[0])
	if err != nil {
		return err
	}
	if err := s.client.DisableFeature(s.ctx, f); err != nil {
		return err
	}
	s.ok("Disabled %s", f)
	return nil
}

func (s *Shell) discover(args []string) error {
	seconds, err := optionalSeconds(args)
	if err != nil {
		return err
	}
	if err := s.client.StartDeviceDiscovery(s.ctx, seconds); err != nil {
		return err
	}
	s.ok("Discovery started")
	return nil
}

func (s *Shell) stopDiscover(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	return s.client.StopDeviceDiscovery(s.ctx)
}

func (s *Shell) leScan(args []string) error {
	seconds, err := optionalSeconds(args)
	if err != nil {
		return err
	}
	if err := s.client.StartLEScan(s.ctx, seconds); err != nil {
		return err
	}
	s.ok("LE scan started")
	return nil
}

func (s *Shell) stopLEScan(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	return s.client.StopLEScan(s.ctx)
}

func (s *Shell) observe(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	freq, err := parseUint32(args[0])
	if err != nil {
		return err
	}
	req := wire.ObservationScanRequest{ReportingFrequencyMS: freq}
	if len(args) == 2 {
		if args[1] != "active" {
			return errUsage
		}
		req.Flags |= wire.ObsFlagActiveScanning
	}
	if err := s.client.StartObservationScan(s.ctx, req); err != nil {
		return err
	}
	s.ok("Observation scan started")
	return nil
}

func (s *Shell) stopObserve(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	return s.client.StopObservationScan(s.ctx)
}

func (s *Shell) advertise(args []string) error {
	if len(args) > 2 {
		return errUsage
	}
	req := wire.StartAdvertisingRequest{
		Flags: wire.AdvFlagDiscoverable | wire.AdvFlagConnectable | wire.AdvFlagAdvertiseName,
	}
	if len(args) > 0 {
		seconds, err := parseUint32(args[0])
		if err != nil {
			return err
		}
		req.DurationSeconds = seconds
	}
	if len(args) > 1 {
		data, err := parseHex(args[1])
		if err != nil {
			return err
		}
		req.Data = data
	}
	if err := s.client.StartAdvertising(s.ctx, req); err != nil {
		return err
	}
	s.ok("Advertising started")
	return nil
}

func (s *Shell) stopAdvertise(args []string) error {
	force := false
	switch {
	case len(args) == 0:
	case len(args) == 1 && args[0] == "force":
		force = true
	default:
		return errUsage
	}
	return s.client.StopAdvertising(s.ctx, force)
}

func (s *Shell) devices(args []string) error {
	filter := wire.FilterAll
	if len(args) > 1 {
		return errUsage
	}
	if len(args) == 1 {
		f, err := parseFilter(args[0])
		if err != nil {
			return err
		}
		filter = f
	}
	total, addrs, err := s.client.QueryRemoteDeviceList(s.ctx, filter, 0, 256)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%d device(s)\n", total)
	for _, addr := range addrs {
		dev, err := s.client.QueryRemoteDeviceProperties(s.ctx, addr)
		if err != nil {
			fmt.Fprintf(s.out, "  %s\n", addr)
			continue
		}
		fmt.Fprintf(s.out, "  %s  %-24q %s\n", addr, dev.DeviceName, dev.Flags)
	}
	return nil
}

func (s *Shell) device(args []string) error {
	addr, err := singleAddr(args)
	if err != nil {
		return err
	}
	dev, err := s.client.QueryRemoteDeviceProperties(s.ctx, addr)
	if err != nil {
		return err
	}
	fmt.Fprint(s.out, formatRemote(&dev))
	return nil
}

func (s *Shell) dump(args []string) error {
	var v any
	switch len(args) {
	case 0:
		p, err := s.client.QueryLocalProperties(s.ctx)
		if err != nil {
			return err
		}
		v = localView(&p)
	case 1:
		addr, err := wire.ParseBDAddr(args[0])
		if err != nil {
			return err
		}
		dev, err := s.client.QueryRemoteDeviceProperties(s.ctx, addr)
		if err != nil {
			return err
		}
		v = remoteView(&dev)
	default:
		return errUsage
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(out))
	return nil
}

func (s *Shell) services(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	addr, err := wire.ParseBDAddr(args[0])
	if err != nil {
		return err
	}
	var flags wire.OperationFlags
	if len(args) == 2 {
		if args[1] != "force" {
			return errUsage
		}
		flags |= wire.OpFlagForceUpdate
	}
	total, ids, err := s.client.QueryRemoteDeviceServices(s.ctx, addr, flags, 64)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%d service(s)\n", total)
	for _, id := range ids {
		fmt.Fprintf(s.out, "  %s\n", id)
	}
	return nil
}

func (s *Shell) add(args []string) error {
	if len(args) < 1 || len(args) > 3 {
		return errUsage
	}
	addr, err := wire.ParseBDAddr(args[0])
	if err != nil {
		return err
	}
	var cod uint32
	if len(args) > 1 {
		if cod, err = parseUint32(args[1]); err != nil {
			return err
		}
	}
	var data []byte
	if len(args) > 2 {
		if data, err = parseHex(args[2]); err != nil {
			return err
		}
	}
	if err := s.client.AddRemoteDevice(s.ctx, addr, wire.ClassOfDevice(cod), data); err != nil {
		return err
	}
	s.ok("Added %s", addr)
	return nil
}

func (s *Shell) delete(args []string) error {
	addr, err := singleAddr(args)
	if err != nil {
		return err
	}
	if err := s.client.DeleteRemoteDevice(s.ctx, addr); err != nil {
		return err
	}
	s.ok("Deleted %s", addr)
	return nil
}

func (s *Shell) deleteAll(args []string) error {
	filter := wire.FilterAll
	if len(args) > 1 {
		return errUsage
	}
	if len(args) == 1 {
		f, err := parseFilter(args[0])
		if err != nil {
			return err
		}
		filter = f
	}
	return s.client.DeleteRemoteDevices(s.ctx, filter)
}

func (s *Shell) appData(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	addr, err := wire.ParseBDAddr(args[0])
	if err != nil {
		return err
	}
	data, err := parseHex(args[1])
	if err != nil {
		return err
	}
	return s.client.UpdateRemoteDeviceApplicationData(s.ctx, addr, data)
}

func (s *Shell) pair(args []string) error {
	addr, flags, err := addrWithLE(args)
	if err != nil {
		return err
	}
	if err := s.client.PairWithRemoteDevice(s.ctx, addr, flags); err != nil {
		return err
	}
	s.ok("Pairing with %s", addr)
	return nil
}

func (s *Shell) cancelPair(args []string) error {
	addr, err := singleAddr(args)
	if err != nil {
		return err
	}
	return s.client.CancelPairWithRemoteDevice(s.ctx, addr)
}

func (s *Shell) unpair(args []string) error {
	addr, flags, err := addrWithLE(args)
	if err != nil {
		return err
	}
	return s.client.UnpairRemoteDevice(s.ctx, addr, flags)
}

func (s *Shell) connect(args []string) error {
	addr, flags, err := addrWithLE(args)
	if err != nil {
		return err
	}
	if err := s.client.ConnectWithRemoteDevice(s.ctx, addr, flags); err != nil {
		return err
	}
	s.ok("Connecting to %s", addr)
	return nil
}

func (s *Shell) disconnect(args []string) error {
	addr, flags, err := addrWithLE(args)
	if err != nil {
		return err
	}
	return s.client.DisconnectRemoteDevice(s.ctx, addr, flags)
}

func (s *Shell) auth(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	switch args[0] {
	case "on":
		if err := s.client.RegisterAuthentication(s.ctx, s.callbackID); err != nil {
			return err
		}
		s.ok("Handling authentication requests")
	case "off":
		if err := s.client.UnregisterAuthentication(s.ctx, s.callbackID); err != nil {
			return err
		}
		s.ok("No longer handling authentication requests")
	default:
		return errUsage
	}
	return nil
}

func (s *Shell) confirm(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	addr, err := wire.ParseBDAddr(args[0])
	if err != nil {
		return err
	}
	var data wire.AuthData
	switch strings.ToLower(args[1]) {
	case "yes", "y":
		data = wire.Confirmation(true)
	case "no", "n":
	default:
		return errUsage
	}
	return s.respond(addr, wire.AuthUserConfirmationResponse, data)
}

func (s *Shell) passkey(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	addr, err := wire.ParseBDAddr(args[0])
	if err != nil {
		return err
	}
	n, err := parseUint32(args[1])
	if err != nil {
		return err
	}
	return s.respond(addr, wire.AuthPasskeyResponse, wire.Passkey(n))
}

func (s *Shell) pin(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	addr, err := wire.ParseBDAddr(args[0])
	if err != nil {
		return err
	}
	return s.respond(addr, wire.AuthPINCodeResponse, wire.PINCode(args[1]))
}

// respond answers the pending request for addr. Without a pending request
// the classic form of fallback is sent and the daemon decides.
func (s *Shell) respond(addr wire.BDAddr, fallback wire.AuthAction, data wire.AuthData) error {
	action := fallback
	if req, ok := s.takePending(addr); ok {
		if r, ok := req.ResponseTo(); ok {
			action = r
		}
	}
	info := wire.AuthenticationInformation{Address: addr, Action: action, Data: data}
	if err := s.client.AuthenticationResponse(s.ctx, info); err != nil {
		return err
	}
	s.ok("Sent %s", action)
	return nil
}

func (s *Shell) record(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	var classes []uuid.UUID
	for _, part := range strings.Split(args[0], ",") {
		id, err := uuid.Parse(part)
		if err != nil {
			return fmt.Errorf("invalid UUID %q: %w", part, err)
		}
		classes = append(classes, id)
	}
	persistent := false
	if len(args) == 2 {
		if args[1] != "persistent" {
			return errUsage
		}
		persistent = true
	}
	handle, err := s.client.RegisterServiceRecord(s.ctx, s.callbackID, persistent, classes)
	if err != nil {
		return err
	}
	s.ok("Record handle 0x%08X", handle)
	return nil
}

func (s *Shell) delRecord(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	handle, err := parseUint32(args[0])
	if err != nil {
		return err
	}
	return s.client.DeleteServiceRecord(s.ctx, handle)
}

func (s *Shell) addAttr(args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	handle, id, err := handleAndAttr(args)
	if err != nil {
		return err
	}
	value, err := parseHex(args[2])
	if err != nil {
		return err
	}
	return s.client.AddServiceRecordAttribute(s.ctx, handle, id, value)
}

func (s *Shell) delAttr(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	handle, id, err := handleAndAttr(args)
	if err != nil {
		return err
	}
	return s.client.DeleteServiceRecordAttribute(s.ctx, handle, id)
}

func (s *Shell) attr(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	handle, id, err := handleAndAttr(args)
	if err != nil {
		return err
	}
	total, value, err := s.client.QueryServiceRecordAttribute(s.ctx, handle, id, 1024)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Attribute 0x%04X (%d bytes): %X\n", id, total, value)
	return nil
}

func (s *Shell) schedule(args []string) error {
	if len(args) < 1 || len(args) > 3 {
		return errUsage
	}
	ms, err := parseUint32(args[0])
	if err != nil {
		return err
	}
	req := wire.ScheduleAdvertisementRequest{CallbackID: s.callbackID, DurationMS: ms}
	for _, arg := range args[1:] {
		if arg == "scannable" {
			req.Flags |= wire.JobFlagScannable
			continue
		}
		if req.Payload, err = parseHex(arg); err != nil {
			return err
		}
	}
	job, err := s.client.ScheduleAdvertisement(s.ctx, req)
	if err != nil {
		return err
	}
	s.ok("Scheduled job %d", job)
	return nil
}

func (s *Shell) cancel(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	job, err := parseUint32(args[0])
	if err != nil {
		return err
	}
	return s.client.CancelScheduledAdvertisement(s.ctx, s.callbackID, job)
}

func (s *Shell) suspend(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	return s.client.SuspendScheduling(s.ctx)
}

func (s *Shell) resume(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	return s.client.ResumeScheduling(s.ctx)
}
