// Package wol sends Wake-on-LAN magic packets.
package wol

import (
	"context"
	"fmt"
	"net"

	gowol "github.com/sabhiram/go-wol/wol"

	"dozer/internal/wake"
)

var _ wake.Sender = (*Sender)(nil)

// DefaultBroadcast is the limited broadcast address on the discard port.
const DefaultBroadcast = "255.255.255.255:9"

// MagicPacket builds the 102-byte payload for a 6-byte hardware address.
func MagicPacket(mac net.HardwareAddr) ([]byte, error) {
	if len(mac) != 6 {
		return nil, fmt.Errorf("magic packet needs a 6-byte hardware address, got %d bytes", len(mac))
	}
	mp, err := gowol.New(mac.String())
	if err != nil {
		return nil, fmt.Errorf("build magic packet for %s: %w", mac, err)
	}
	return mp.Marshal()
}

// Sender writes magic packets to a UDP broadcast address.
type Sender struct {
	addr string
}

// NewSender returns a Sender for addr, or DefaultBroadcast when addr is empty.
func NewSender(addr string) *Sender {
	if addr == "" {
		addr = DefaultBroadcast
	}
	return &Sender{addr: addr}
}

func (s *Sender) Send(ctx context.Context, mac net.HardwareAddr) error {
	pkt, err := MagicPacket(mac)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", s.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(pkt); err != nil {
		return fmt.Errorf("send magic packet to %s: %w", s.addr, err)
	}
	return nil
}
