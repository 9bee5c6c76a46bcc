package radio

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/TakashiAihara/wlan-scanner/internal/probe"
)

const iwLinkOutput = `Connected to 8c:3b:ad:12:34:56 (on wlan0)
	SSID: office-5g
	freq: 5180
	RX: 1812345 bytes (10234 packets)
	TX: 412345 bytes (2345 packets)
	signal: -58 dBm
	rx bitrate: 433.3 MBit/s VHT-MCS 9 80MHz short GI VHT-NSS 1
	tx bitrate: 390.0 MBit/s VHT-MCS 8 80MHz short GI VHT-NSS 1

	bss flags:	short-slot-time
	dtim period:	1
	beacon int:	100
`

const iwconfigOutput = `wlan0     IEEE 802.11  ESSID:"home net"
          Mode:Managed  Frequency:2.437 GHz  Access Point: 8C:3B:AD:12:34:56
          Bit Rate=72.2 Mb/s   Tx-Power=22 dBm
          Retry short limit:7   RTS thr:off   Fragment thr:off
          Power Management:on
          Link Quality=49/70  Signal level=-61 dBm
          Rx invalid nwid:0  Rx invalid crypt:0  Rx invalid frag:0
`

const netshOutput = `
There is 1 interface on the system:

    Name                   : Wi-Fi
    Description            : Intel(R) Wi-Fi 6 AX201 160MHz
    State                  : connected
    SSID                   : corp
    BSSID                  : 8c:3b:ad:12:34:56
    Network type           : Infrastructure
    Radio type             : 802.11ax
    Channel                : 36
    Receive rate (Mbps)    : 866.7
    Transmit rate (Mbps)   : 780
    Signal                 : 80%
`

const airportOutput = `     agrCtlRSSI: -47
     agrExtRSSI: 0
    agrCtlNoise: -92
          state: running
        op mode: station
     lastTxRate: 585
        maxRate: 867
            SSID: cafe
         channel: 149,80
`

func TestParseIWLink(t *testing.T) {
	s, err := ParseIWLink(iwLinkOutput)
	if err != nil {
		t.Fatalf("ParseIWLink: %v", err)
	}
	if s.SSID != "office-5g" {
		t.Fatalf("unexpected ssid %q", s.SSID)
	}
	if *s.RSSI != -58 || *s.LinkQuality != 84 {
		t.Fatalf("unexpected rssi/quality %v/%v", *s.RSSI, *s.LinkQuality)
	}
	if *s.Channel != 36 || *s.FrequencyGHz != 5.18 {
		t.Fatalf("unexpected channel/frequency %v/%v", *s.Channel, *s.FrequencyGHz)
	}
	if *s.TxRateMbps != 390 || *s.RxRateMbps != 433.3 {
		t.Fatalf("unexpected rates %v/%v", *s.TxRateMbps, *s.RxRateMbps)
	}
}

func TestParseIWLinkNotConnected(t *testing.T) {
	if _, err := ParseIWLink("Not connected.\n"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected got %v", err)
	}
}

func TestParseIwconfig(t *testing.T) {
	s, err := ParseIwconfig(iwconfigOutput)
	if err != nil {
		t.Fatalf("ParseIwconfig: %v", err)
	}
	if s.SSID != "home net" {
		t.Fatalf("unexpected ssid %q", s.SSID)
	}
	if *s.Channel != 6 {
		t.Fatalf("expected channel 6 got %d", *s.Channel)
	}
	if *s.LinkQuality != 70 {
		t.Fatalf("expected quality 70 got %v", *s.LinkQuality)
	}
	if *s.RSSI != -61 {
		t.Fatalf("expected signal level to win, got %v", *s.RSSI)
	}
	if *s.TxRateMbps != 72.2 || *s.RxRateMbps != 72.2 {
		t.Fatalf("unexpected rates %v/%v", *s.TxRateMbps, *s.RxRateMbps)
	}
}

func TestParseNetsh(t *testing.T) {
	s, err := ParseNetsh(netshOutput)
	if err != nil {
		t.Fatalf("ParseNetsh: %v", err)
	}
	if s.SSID != "corp" || *s.Channel != 36 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if *s.LinkQuality != 80 || *s.RSSI != -60 {
		t.Fatalf("unexpected quality/rssi %v/%v", *s.LinkQuality, *s.RSSI)
	}
	if math.Abs(*s.FrequencyGHz-5.18) > 1e-9 {
		t.Fatalf("unexpected frequency %v", *s.FrequencyGHz)
	}
	if *s.RxRateMbps != 866.7 || *s.TxRateMbps != 780 {
		t.Fatalf("unexpected rates %v/%v", *s.RxRateMbps, *s.TxRateMbps)
	}
}

func TestParseAirport(t *testing.T) {
	s, err := ParseAirport(airportOutput)
	if err != nil {
		t.Fatalf("ParseAirport: %v", err)
	}
	if s.SSID != "cafe" || *s.Channel != 149 || *s.RSSI != -47 || *s.LinkQuality != 100 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
}

func TestConversions(t *testing.T) {
	if QualityFromRSSI(-70) != 60 || QualityFromRSSI(-120) != 0 || QualityFromRSSI(-30) != 100 {
		t.Fatalf("unexpected quality conversion")
	}
	if RSSIFromQuality(50) != -75 || RSSIFromQuality(0) != -100 || RSSIFromQuality(100) != -50 {
		t.Fatalf("unexpected rssi conversion")
	}
	if FrequencyFromChannel(14) != 2.484 || ChannelFromFrequency(2.484) != 14 {
		t.Fatalf("unexpected channel 14 handling")
	}
	if ChannelFromFrequency(2.412) != 1 || ChannelFromFrequency(5.745) != 149 {
		t.Fatalf("unexpected channel lookup")
	}
	if FrequencyFromChannel(200) != 0 || ChannelFromFrequency(60) != 0 {
		t.Fatalf("expected out-of-band to map to zero")
	}
}

func fakeRunner(outputs map[string]string, errs map[string]error) probe.CommandRunner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if err, ok := errs[name]; ok {
			return nil, err
		}
		return []byte(outputs[name]), nil
	}
}

func TestAdapterLinuxFallsBackToIwconfig(t *testing.T) {
	a := New(Config{Interface: "auto"}, Dependencies{
		GOOS: "linux",
		Links: func() ([]Link, error) {
			return []Link{{Name: "eth0", Up: true}, {Name: "wlp2s0", Up: true, Wireless: true}}, nil
		},
		Run: fakeRunner(map[string]string{"iwconfig": iwconfigOutput}, map[string]error{"iw": errors.New("iw: not found")}),
	})

	out := a.Run(context.Background())
	if out.Status != probe.StatusSuccess {
		t.Fatalf("expected success got %s (%s)", out.Status, out.Reason)
	}
	snap := out.Samples.(probe.RadioSamples)
	if snap.Interface != "wlp2s0" || snap.SSID != "home net" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestAdapterInterfaceDown(t *testing.T) {
	a := New(Config{Interface: "wlan0"}, Dependencies{
		GOOS:  "linux",
		Links: func() ([]Link, error) { return []Link{{Name: "wlan0", Wireless: true}}, nil },
		Run:   fakeRunner(map[string]string{"iw": iwLinkOutput}, nil),
	})
	out := a.Run(context.Background())
	if out.Status != probe.StatusFailure || out.Reason != "interface wlan0 is down" {
		t.Fatalf("unexpected outcome %s (%s)", out.Status, out.Reason)
	}
}

func TestAdapterNotConnected(t *testing.T) {
	a := New(Config{Interface: "wlan0"}, Dependencies{
		GOOS:  "linux",
		Links: func() ([]Link, error) { return nil, errors.New("no netlink") },
		Run:   fakeRunner(map[string]string{"iw": "Not connected.\n"}, nil),
	})
	out := a.Run(context.Background())
	if out.Status != probe.StatusFailure || !strings.Contains(out.Reason, "not connected") {
		t.Fatalf("unexpected outcome %s (%s)", out.Status, out.Reason)
	}
}

func TestAdapterNoWirelessInterface(t *testing.T) {
	a := New(Config{Interface: "auto"}, Dependencies{
		GOOS:  "linux",
		Links: func() ([]Link, error) { return []Link{{Name: "eth0", Up: true}}, nil },
	})
	out := a.Run(context.Background())
	if out.Status != probe.StatusFailure || out.Reason != "no wireless interface found" {
		t.Fatalf("unexpected outcome %s (%s)", out.Status, out.Reason)
	}
}

func TestAdapterWindows(t *testing.T) {
	var gotArgs []string
	a := New(Config{Interface: "Wi-Fi"}, Dependencies{
		GOOS:  "windows",
		Links: func() ([]Link, error) { return nil, nil },
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = append([]string{name}, args...)
			return []byte(netshOutput), nil
		},
	})
	out := a.Run(context.Background())
	if out.Status != probe.StatusSuccess {
		t.Fatalf("expected success got %s (%s)", out.Status, out.Reason)
	}
	if strings.Join(gotArgs, " ") != "netsh wlan show interfaces name=Wi-Fi" {
		t.Fatalf("unexpected command %v", gotArgs)
	}
}
