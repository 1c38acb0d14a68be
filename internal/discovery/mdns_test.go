package discovery

import (
	"slices"
	"testing"
)

func TestPortFromAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		addr    string
		want    int
		wantErr bool
	}{
		{addr: ":8080", want: 8080},
		{addr: "127.0.0.1:9000", want: 9000},
		{addr: "[::1]:443", want: 443},
		{addr: "localhost", wantErr: true},
		{addr: ":http", wantErr: true},
		{addr: ":70000", wantErr: true},
	}
	for _, tt := range tests {
		got, err := PortFromAddr(tt.addr)
		if (err != nil) != tt.wantErr {
			t.Errorf("PortFromAddr(%q) err = %v, wantErr %v", tt.addr, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("PortFromAddr(%q) = %d, want %d", tt.addr, got, tt.want)
		}
	}
}

func TestTXTRecords(t *testing.T) {
	t.Parallel()
	got := txtRecords(Config{Version: "1.2.0"})
	want := []string{"path=/v1/session", "version=1.2.0"}
	if !slices.Equal(got, want) {
		t.Errorf("txtRecords = %v, want %v", got, want)
	}
	if got := txtRecords(Config{}); len(got) != 1 {
		t.Errorf("txtRecords without version = %v", got)
	}
}

func TestAdvertise_RejectsBadPort(t *testing.T) {
	t.Parallel()
	if _, err := Advertise(Config{Instance: "parley", Port: 0}); err == nil {
		t.Error("Advertise with port 0 succeeded")
	}
}

func TestLocalIPv4_NoLoopback(t *testing.T) {
	t.Parallel()
	ips, err := localIPv4()
	if err != nil {
		t.Skipf("cannot list interfaces: %v", err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.To4() == nil {
			t.Errorf("unexpected address %v", ip)
		}
	}
}
