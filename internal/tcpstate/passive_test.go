package tcpstate

import (
	"net/netip"
	"testing"
	"time"

	"github.com/momentics/kbecho/internal/headers"
	"github.com/stretchr/testify/require"
)

func mustAddrPort(s string) netip.AddrPort {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		panic(err)
	}
	return ap
}

func TestPassiveSocket_FullHandshake(t *testing.T) {
	local := mustAddrPort("10.0.0.1:9000")
	remote := mustAddrPort("10.0.0.2:5555")
	ps := NewPassiveSocket(local, 4, 42, PassiveConfig{WindowScale: 2, ReceiveWindow: 65535, AckDelay: 10 * time.Millisecond})

	syn := headers.TCP{SrcPort: remote.Port(), DstPort: local.Port(), SeqNum: 1000, Flags: headers.FlagSYN, Window: 65535,
		Opts: headers.Options{HasMSS: true, MSS: 1460, HasWindowScale: true, WindowScale: 3}}
	out, err := ps.Receive(remote, headers.MAC{}, headers.MAC{}, syn, time.Now())
	require.NoError(t, err)
	require.NotNil(t, out.SynAck)
	require.Nil(t, out.CB)
	require.True(t, out.SynAck.Header.HasFlag(headers.FlagSYN))
	require.True(t, out.SynAck.Header.HasFlag(headers.FlagACK))
	require.Equal(t, 1, ps.BacklogDepth())

	localISN := headers.SeqNum(out.SynAck.Header.SeqNum)
	ack := headers.TCP{SrcPort: remote.Port(), DstPort: local.Port(), AckNum: uint32(localISN) + 1, Flags: headers.FlagACK, Window: 65535}
	out2, err := ps.Receive(remote, headers.MAC{}, headers.MAC{}, ack, time.Now())
	require.NoError(t, err)
	require.NotNil(t, out2.CB)
	require.Equal(t, StateEstablished, out2.CB.State)
	require.Equal(t, headers.SeqNum(1001), out2.CB.RcvNXT)
	require.Equal(t, 0, ps.BacklogDepth())
}

func TestPassiveSocket_BareAckWithoutPriorSynIsRejected(t *testing.T) {
	local := mustAddrPort("10.0.0.1:9000")
	remote := mustAddrPort("10.0.0.2:5555")
	ps := NewPassiveSocket(local, 4, 1, PassiveConfig{ReceiveWindow: 65535})

	ack := headers.TCP{SrcPort: remote.Port(), DstPort: local.Port(), Flags: headers.FlagACK}
	out, err := ps.Receive(remote, headers.MAC{}, headers.MAC{}, ack, time.Now())
	require.Error(t, err)
	require.Nil(t, out.SynAck)
	require.Nil(t, out.CB)
}

func TestPassiveSocket_BacklogSaturationRefusesExtraSyn(t *testing.T) {
	local := mustAddrPort("10.0.0.1:9000")
	ps := NewPassiveSocket(local, 2, 7, PassiveConfig{ReceiveWindow: 65535})

	for i := 0; i < 2; i++ {
		remote := netip.MustParseAddrPort("10.0.0.2:100" + string(rune('0'+i)))
		syn := headers.TCP{SrcPort: remote.Port(), DstPort: local.Port(), SeqNum: 1, Flags: headers.FlagSYN}
		out, err := ps.Receive(remote, headers.MAC{}, headers.MAC{}, syn, time.Now())
		require.NoError(t, err)
		require.NotNil(t, out.SynAck)
	}

	remote := netip.MustParseAddrPort("10.0.0.2:1099")
	syn := headers.TCP{SrcPort: remote.Port(), DstPort: local.Port(), SeqNum: 1, Flags: headers.FlagSYN}
	_, err := ps.Receive(remote, headers.MAC{}, headers.MAC{}, syn, time.Now())
	require.ErrorIs(t, err, ErrBacklogFull)
}
