package interactive

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/devm-project/devm-go/pkg/wire"
)

func formatEvent(ev wire.Event) string {
	switch b := ev.Body.(type) {
	case *wire.PoweringOffEvent:
		return fmt.Sprintf("%s: acknowledge within %dms ('ack')", ev.Function, b.AckTimeoutMS)
	case *wire.LocalPropertiesChangedEvent:
		return fmt.Sprintf("%s: mask=0x%02X name=%q flags=%s", ev.Function, uint32(b.Mask), b.Properties.DeviceName, b.Properties.Flags)
	case *wire.RemoteDeviceFoundEvent:
		return fmt.Sprintf("%s: %s %q rssi=%d", ev.Function, b.Device.Address, b.Device.DeviceName, b.Device.RSSI)
	case *wire.RemoteDeviceDeletedEvent:
		return fmt.Sprintf("%s: %s", ev.Function, b.Address)
	case *wire.RemotePropertiesChangedEvent:
		return fmt.Sprintf("%s: %s mask=0x%04X flags=%s", ev.Function, b.Device.Address, uint32(b.Mask), b.Device.Flags)
	case *wire.PairingStatusEvent:
		return fmt.Sprintf("%s: %s success=%t paired=%t le=%t status=%d", ev.Function, b.Address, b.Success, b.Paired, b.LE, b.AuthStatus)
	case *wire.AdvertisementCompleteEvent:
		return fmt.Sprintf("%s: job=%d %s", ev.Function, b.JobID, b.Status)
	default:
		return ev.Function.String()
	}
}

func formatAuthRequest(info *wire.AuthenticationInformation) string {
	base := fmt.Sprintf("%s from %s", info.Action, info.Address)
	switch info.Action.Code() {
	case wire.AuthUserConfirmationRequest:
		return fmt.Sprintf("%s: confirm %06d with 'confirm %s yes|no'", base, passkeyOf(info.Data), info.Address)
	case wire.AuthPasskeyRequest:
		return fmt.Sprintf("%s: answer with 'passkey %s <number>'", base, info.Address)
	case wire.AuthPINCodeRequest:
		return fmt.Sprintf("%s: answer with 'pin %s <code>'", base, info.Address)
	case wire.AuthPasskeyIndication:
		return fmt.Sprintf("%s: enter %06d on the remote device", base, passkeyOf(info.Data))
	default:
		return base
	}
}

func passkeyOf(data wire.AuthData) uint32 {
	if p, ok := data.(wire.Passkey); ok {
		return uint32(p)
	}
	return 0
}

func formatLocal(p *wire.LocalProperties) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Address:       %s\n", p.Address)
	fmt.Fprintf(&b, "LE address:    %s (%s)\n", p.LEAddress, p.LEAddressType)
	fmt.Fprintf(&b, "Name:          %s\n", p.DeviceName)
	fmt.Fprintf(&b, "Class:         %s\n", p.ClassOfDevice)
	fmt.Fprintf(&b, "Discoverable:  %d (timeout %ds)\n", p.DiscoverableMode, p.DiscoverableTimeout)
	fmt.Fprintf(&b, "Connectable:   %d (timeout %ds)\n", p.ConnectableMode, p.ConnectableTimeout)
	fmt.Fprintf(&b, "Pairable:      %d (timeout %ds)\n", p.PairableMode, p.PairableTimeout)
	fmt.Fprintf(&b, "Appearance:    0x%04X\n", p.Appearance)
	fmt.Fprintf(&b, "Flags:         %s\n", p.Flags)
	return b.String()
}

func formatRemote(d *wire.RemoteDevice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Address:       %s\n", d.Address)
	fmt.Fprintf(&b, "Name:          %s\n", d.DeviceName)
	fmt.Fprintf(&b, "Class:         %s\n", d.ClassOfDevice)
	fmt.Fprintf(&b, "Flags:         %s\n", d.Flags)
	fmt.Fprintf(&b, "RSSI:          %d (LE %d)\n", d.RSSI, d.LERSSI)
	fmt.Fprintf(&b, "Tx power:      %d (LE %d)\n", d.TxPower, d.LETxPower)
	fmt.Fprintf(&b, "LE type:       %s\n", d.LEAddressType)
	if d.LastObserved != 0 {
		fmt.Fprintf(&b, "Last observed: %s\n", time.UnixMilli(d.LastObserved).Format(time.RFC3339))
	}
	if len(d.AdvertisingReport) > 0 {
		fmt.Fprintf(&b, "Adv report:    %X\n", d.AdvertisingReport)
	}
	if len(d.ApplicationData) > 0 {
		fmt.Fprintf(&b, "App data:      %X\n", d.ApplicationData)
	}
	return b.String()
}

func formatFeatures(f wire.Feature) string {
	var names []string
	for _, feat := range []wire.Feature{wire.FeatureLowEnergy, wire.FeatureANTPlus, wire.FeatureInterleavedAdvertising} {
		if f&feat != 0 {
			names = append(names, feat.String())
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

type localJSON struct {
	Address       string `json:"address"`
	LEAddress     string `json:"le_address"`
	Name          string `json:"name"`
	ClassOfDevice string `json:"class_of_device"`
	Discoverable  uint32 `json:"discoverable_mode"`
	Connectable   uint32 `json:"connectable_mode"`
	Pairable      uint32 `json:"pairable_mode"`
	Appearance    uint16 `json:"appearance"`
	Flags         string `json:"flags"`
}

func localView(p *wire.LocalProperties) localJSON {
	return localJSON{
		Address:       p.Address.String(),
		LEAddress:     p.LEAddress.String(),
		Name:          p.DeviceName,
		ClassOfDevice: p.ClassOfDevice.String(),
		Discoverable:  uint32(p.DiscoverableMode),
		Connectable:   uint32(p.ConnectableMode),
		Pairable:      uint32(p.PairableMode),
		Appearance:    p.Appearance,
		Flags:         p.Flags.String(),
	}
}

type remoteJSON struct {
	Address         string `json:"address"`
	Name            string `json:"name"`
	ClassOfDevice   string `json:"class_of_device"`
	Flags           string `json:"flags"`
	RSSI            int8   `json:"rssi"`
	LERSSI          int8   `json:"le_rssi"`
	LEAddressType   string `json:"le_address_type"`
	Appearance      uint16 `json:"appearance"`
	LastObserved    int64  `json:"last_observed,omitempty"`
	ApplicationData string `json:"application_data,omitempty"`
}

func remoteView(d *wire.RemoteDevice) remoteJSON {
	return remoteJSON{
		Address:         d.Address.String(),
		Name:            d.DeviceName,
		ClassOfDevice:   d.ClassOfDevice.String(),
		Flags:           d.Flags.String(),
		RSSI:            d.RSSI,
		LERSSI:          d.LERSSI,
		LEAddressType:   d.LEAddressType.String(),
		Appearance:      d.Appearance,
		LastObserved:    d.LastObserved,
		ApplicationData: hex.EncodeToString(d.ApplicationData),
	}
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(v), nil
}

func parseHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q", s)
	}
	return b, nil
}

func parseFeature(s string) (wire.Feature, error) {
	switch strings.ToLower(s) {
	case "le", "low-energy":
		return wire.FeatureLowEnergy, nil
	case "ant", "ant+":
		return wire.FeatureANTPlus, nil
	case "interleaved", "interleaved-advertising":
		return wire.FeatureInterleavedAdvertising, nil
	default:
		return 0, fmt.Errorf("unknown feature %q", s)
	}
}

func parseFilter(s string) (wire.DeviceFilter, error) {
	switch strings.ToLower(s) {
	case "all":
		return wire.FilterAll, nil
	case "connected":
		return wire.FilterCurrentlyConnected, nil
	case "paired":
		return wire.FilterCurrentlyPaired, nil
	case "unpaired":
		return wire.FilterCurrentlyUnpaired, nil
	default:
		return 0, fmt.Errorf("unknown filter %q", s)
	}
}

func parseMode(kind, value string) (wire.LocalPropertiesMask, wire.LocalProperties, error) {
	var props wire.LocalProperties
	v, err := parseUint32(value)
	if err != nil {
		return 0, props, err
	}
	switch strings.ToLower(kind) {
	case "discoverable":
		props.DiscoverableMode = wire.DiscoverableMode(v)
		return wire.LocalMaskDiscoverableMode, props, nil
	case "connectable":
		props.ConnectableMode = wire.ConnectableMode(v)
		return wire.LocalMaskConnectableMode, props, nil
	case "pairable":
		props.PairableMode = wire.PairableMode(v)
		return wire.LocalMaskPairableMode, props, nil
	default:
		return 0, props, errUsage
	}
}

func optionalSeconds(args []string) (uint32, error) {
	switch len(args) {
	case 0:
		return 0, nil
	case 1:
		return parseUint32(args[0])
	default:
		return 0, errUsage
	}
}

func singleAddr(args []string) (wire.BDAddr, error) {
	if len(args) != 1 {
		return wire.BDAddr{}, errUsage
	}
	return wire.ParseBDAddr(args[0])
}

func addrWithLE(args []string) (wire.BDAddr, wire.OperationFlags, error) {
	if len(args) < 1 || len(args) > 2 {
		return wire.BDAddr{}, 0, errUsage
	}
	addr, err := wire.ParseBDAddr(args[0])
	if err != nil {
		return addr, 0, err
	}
	if len(args) == 2 {
		if args[1] != "le" {
			return addr, 0, errUsage
		}
		return addr, wire.OpFlagLE, nil
	}
	return addr, 0, nil
}

var errAttrID = errors.New("attribute id must fit 16 bits")

func handleAndAttr(args []string) (uint32, uint16, error) {
	handle, err := parseUint32(args[0])
	if err != nil {
		return 0, 0, err
	}
	id, err := parseUint32(args[1])
	if err != nil {
		return 0, 0, err
	}
	if id > 0xFFFF {
		return 0, 0, errAttrID
	}
	return handle, uint16(id), nil
}
