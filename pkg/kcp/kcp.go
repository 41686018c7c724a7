// Package kcp implements the ARQ engine used for the reliable channel:
// a sliding-window protocol with selective retransmission, fast resend,
// and dead-link detection, transported over an arbitrary datagram sink.
//
// The engine is transport-agnostic. Outbound segments are handed to the
// output callback as ready-to-transmit buffers no larger than the
// configured MTU; inbound datagrams are fed through Input. The caller
// drives the engine by calling Update with a monotonic millisecond
// clock.
package kcp

import "encoding/binary"

// Overhead is the per-segment header size in bytes. Consumers that wrap
// engine output in their own framing derive offsets from this constant.
const Overhead = 24

const (
	rtoNDL = 30 // minimum rto in no-delay mode
	rtoMin = 100
	rtoDef = 200
	rtoMax = 60000

	cmdPush = 81 // data segment
	cmdAck  = 82 // acknowledgement
	cmdWask = 83 // window probe request
	cmdWins = 84 // window size reply

	askSend = 1 // need to send a window probe
	askTell = 2 // need to send a window reply

	defaultSndWnd = 32
	defaultRcvWnd = 128
	defaultMtu    = 1400

	defaultDeadLink = 20
	threshInit      = 2
	threshMin       = 2
	probeInit       = 7000   // initial probe interval, ms
	probeLimit      = 120000 // maximum probe interval, ms
	fastackLimit    = 5
)

func timediff(later, earlier uint32) int32 {
	return int32(later - earlier)
}

// segment is one unit of the sliding window.
type segment struct {
	conv     uint32
	cmd      uint8
	frg      uint8
	wnd      uint16
	ts       uint32
	sn       uint32
	una      uint32
	rto      uint32
	xmit     uint32
	resendts uint32
	fastack  uint32
	data     []byte
}

// encode writes the segment header into b and returns the remainder.
func (s *segment) encode(b []byte) []byte {
	binary.LittleEndian.PutUint32(b, s.conv)
	b[4] = s.cmd
	b[5] = s.frg
	binary.LittleEndian.PutUint16(b[6:], s.wnd)
	binary.LittleEndian.PutUint32(b[8:], s.ts)
	binary.LittleEndian.PutUint32(b[12:], s.sn)
	binary.LittleEndian.PutUint32(b[16:], s.una)
	binary.LittleEndian.PutUint32(b[20:], uint32(len(s.data)))
	return b[Overhead:]
}

type ackItem struct {
	sn uint32
	ts uint32
}

// KCP is a single reliable-transport state machine. It is not safe for
// concurrent use; the owner serializes Send/Input/Recv/Update calls.
type KCP struct {
	conv, mtu, mss, state              uint32
	sndUna, sndNxt, rcvNxt             uint32
	ssthresh                           uint32
	rxRttvar, rxSrtt                   int32
	rxRto, rxMinrto                    uint32
	sndWnd, rcvWnd, rmtWnd, cwnd, probe uint32
	interval, tsFlush                  uint32
	nodelay, updated                   uint32
	tsProbe, probeWait                 uint32
	deadLink, incr                     uint32
	current                            uint32
	xmit                               uint32

	fastresend int32
	nocwnd     int32

	sndQueue []segment
	rcvQueue []segment
	sndBuf   []segment
	rcvBuf   []segment

	acklist []ackItem

	buffer []byte
	output func(buf []byte)
}

// NewKCP creates an engine for the given conversation id. output is the
// datagram sink; it is called from within Flush/Update with a
// buffer that is only valid for the duration of the call.
func NewKCP(conv uint32, output func(buf []byte)) *KCP {
	k := &KCP{
		conv:     conv,
		sndWnd:   defaultSndWnd,
		rcvWnd:   defaultRcvWnd,
		rmtWnd:   defaultRcvWnd,
		cwnd:     1,
		mtu:      defaultMtu,
		mss:      defaultMtu - Overhead,
		rxRto:    rtoDef,
		rxMinrto: rtoMin,
		interval: 100,
		tsFlush:  100,
		ssthresh: threshInit,
		deadLink: defaultDeadLink,
		buffer:   make([]byte, defaultMtu),
		output:   output,
	}
	return k
}

// PeekSize returns the size of the next reassembled message, or a
// negative value when no complete message is queued.
func (k *KCP) PeekSize() int {
	if len(k.rcvQueue) == 0 {
		return -1
	}
	seg := &k.rcvQueue[0]
	if seg.frg == 0 {
		return len(seg.data)
	}
	if len(k.rcvQueue) < int(seg.frg)+1 {
		return -1
	}
	length := 0
	for i := range k.rcvQueue {
		seg := &k.rcvQueue[i]
		length += len(seg.data)
		if seg.frg == 0 {
			break
		}
	}
	return length
}

// Recv dequeues one reassembled message into buffer. It returns the
// message size, or a negative value when no message is ready or the
// buffer is too small.
func (k *KCP) Recv(buffer []byte) int {
	peeksize := k.PeekSize()
	if peeksize < 0 {
		return -1
	}
	if peeksize > len(buffer) && peeksize > 0 {
		return -2
	}

	fastRecover := len(k.rcvQueue) >= int(k.rcvWnd)

	// merge fragments
	n := 0
	count := 0
	for i := range k.rcvQueue {
		seg := &k.rcvQueue[i]
		copy(buffer[n:], seg.data)
		n += len(seg.data)
		count++
		if seg.frg == 0 {
			break
		}
	}
	k.rcvQueue = removeFront(k.rcvQueue, count)

	// move available segments from rcvBuf to rcvQueue
	count = 0
	for i := range k.rcvBuf {
		seg := &k.rcvBuf[i]
		if seg.sn == k.rcvNxt && len(k.rcvQueue)+count < int(k.rcvWnd) {
			k.rcvNxt++
			count++
		} else {
			break
		}
	}
	if count > 0 {
		k.rcvQueue = append(k.rcvQueue, k.rcvBuf[:count]...)
		k.rcvBuf = removeFront(k.rcvBuf, count)
	}

	// tell the remote our window opened again
	if len(k.rcvQueue) < int(k.rcvWnd) && fastRecover {
		k.probe |= askTell
	}
	return n
}

// Send enqueues an outbound message, fragmenting it per MSS. It returns
// a negative value when the message is empty or needs as many fragments
// as the local receive window holds (or more than 255).
func (k *KCP) Send(buffer []byte) int {
	if len(buffer) == 0 {
		return -1
	}
	count := (len(buffer) + int(k.mss) - 1) / int(k.mss)
	if count > 255 || count >= int(k.rcvWnd) {
		return -2
	}
	if count == 0 {
		count = 1
	}

	for i := 0; i < count; i++ {
		size := len(buffer)
		if size > int(k.mss) {
			size = int(k.mss)
		}
		seg := segment{
			frg:  uint8(count - i - 1),
			data: make([]byte, size),
		}
		copy(seg.data, buffer)
		k.sndQueue = append(k.sndQueue, seg)
		buffer = buffer[size:]
	}
	return 0
}

func (k *KCP) updateAck(rtt int32) {
	if k.rxSrtt == 0 {
		k.rxSrtt = rtt
		k.rxRttvar = rtt >> 1
	} else {
		delta := rtt - k.rxSrtt
		if delta < 0 {
			delta = -delta
		}
		k.rxRttvar = (3*k.rxRttvar + delta) >> 2
		k.rxSrtt = (7*k.rxSrtt + rtt) >> 3
		if k.rxSrtt < 1 {
			k.rxSrtt = 1
		}
	}
	rto := uint32(k.rxSrtt) + max32(k.interval, uint32(k.rxRttvar)<<2)
	k.rxRto = bound32(k.rxMinrto, rto, rtoMax)
}

func (k *KCP) shrinkBuf() {
	if len(k.sndBuf) > 0 {
		k.sndUna = k.sndBuf[0].sn
	} else {
		k.sndUna = k.sndNxt
	}
}

func (k *KCP) parseAck(sn uint32) {
	if timediff(sn, k.sndUna) < 0 || timediff(sn, k.sndNxt) >= 0 {
		return
	}
	for i := range k.sndBuf {
		seg := &k.sndBuf[i]
		if sn == seg.sn {
			k.sndBuf = append(k.sndBuf[:i], k.sndBuf[i+1:]...)
			break
		}
		if timediff(sn, seg.sn) < 0 {
			break
		}
	}
}

func (k *KCP) parseFastack(sn, ts uint32) {
	if timediff(sn, k.sndUna) < 0 || timediff(sn, k.sndNxt) >= 0 {
		return
	}
	for i := range k.sndBuf {
		seg := &k.sndBuf[i]
		if timediff(sn, seg.sn) < 0 {
			break
		} else if sn != seg.sn && timediff(seg.ts, ts) <= 0 {
			seg.fastack++
		}
	}
}

func (k *KCP) parseUna(una uint32) {
	count := 0
	for i := range k.sndBuf {
		seg := &k.sndBuf[i]
		if timediff(una, seg.sn) > 0 {
			count++
		} else {
			break
		}
	}
	k.sndBuf = removeFront(k.sndBuf, count)
}

func (k *KCP) ackPush(sn, ts uint32) {
	k.acklist = append(k.acklist, ackItem{sn, ts})
}

func (k *KCP) parseData(newseg segment) {
	sn := newseg.sn
	if timediff(sn, k.rcvNxt+k.rcvWnd) >= 0 || timediff(sn, k.rcvNxt) < 0 {
		return
	}

	repeat := false
	insertIdx := len(k.rcvBuf)
	for i := len(k.rcvBuf) - 1; i >= 0; i-- {
		seg := &k.rcvBuf[i]
		if seg.sn == sn {
			repeat = true
			break
		}
		if timediff(sn, seg.sn) > 0 {
			insertIdx = i + 1
			break
		}
		insertIdx = i
	}
	if !repeat {
		k.rcvBuf = append(k.rcvBuf, segment{})
		copy(k.rcvBuf[insertIdx+1:], k.rcvBuf[insertIdx:])
		k.rcvBuf[insertIdx] = newseg
	}

	// move available segments from rcvBuf to rcvQueue
	count := 0
	for i := range k.rcvBuf {
		seg := &k.rcvBuf[i]
		if seg.sn == k.rcvNxt && len(k.rcvQueue)+count < int(k.rcvWnd) {
			k.rcvNxt++
			count++
		} else {
			break
		}
	}
	if count > 0 {
		k.rcvQueue = append(k.rcvQueue, k.rcvBuf[:count]...)
		k.rcvBuf = removeFront(k.rcvBuf, count)
	}
}

// Input feeds one received datagram body (a contiguous segment stream)
// into the engine. It returns a negative value when the data is
// malformed or belongs to another conversation.
func (k *KCP) Input(data []byte) int {
	prevUna := k.sndUna
	if len(data) < Overhead {
		return -1
	}

	var maxack, latestTs uint32
	ackNoted := false

	for {
		if len(data) < Overhead {
			break
		}
		conv := binary.LittleEndian.Uint32(data)
		if conv != k.conv {
			return -1
		}
		cmd := data[4]
		frg := data[5]
		wnd := binary.LittleEndian.Uint16(data[6:])
		ts := binary.LittleEndian.Uint32(data[8:])
		sn := binary.LittleEndian.Uint32(data[12:])
		una := binary.LittleEndian.Uint32(data[16:])
		length := binary.LittleEndian.Uint32(data[20:])
		data = data[Overhead:]
		if len(data) < int(length) {
			return -2
		}
		if cmd != cmdPush && cmd != cmdAck && cmd != cmdWask && cmd != cmdWins {
			return -3
		}

		k.rmtWnd = uint32(wnd)
		k.parseUna(una)
		k.shrinkBuf()

		switch cmd {
		case cmdAck:
			if rtt := timediff(k.current, ts); rtt >= 0 {
				k.updateAck(rtt)
			}
			k.parseAck(sn)
			k.shrinkBuf()
			if !ackNoted || timediff(sn, maxack) > 0 {
				maxack = sn
				latestTs = ts
				ackNoted = true
			}
		case cmdPush:
			if timediff(sn, k.rcvNxt+k.rcvWnd) < 0 {
				k.ackPush(sn, ts)
				if timediff(sn, k.rcvNxt) >= 0 {
					seg := segment{
						conv: conv,
						cmd:  cmd,
						frg:  frg,
						wnd:  wnd,
						ts:   ts,
						sn:   sn,
						una:  una,
						data: make([]byte, length),
					}
					copy(seg.data, data[:length])
					k.parseData(seg)
				}
			}
		case cmdWask:
			k.probe |= askTell
		case cmdWins:
			// window update carried in the header, nothing more to do
		}
		data = data[length:]
	}

	if ackNoted {
		k.parseFastack(maxack, latestTs)
	}

	if timediff(k.sndUna, prevUna) > 0 {
		if k.cwnd < k.rmtWnd {
			mss := k.mss
			if k.cwnd < k.ssthresh {
				k.cwnd++
				k.incr += mss
			} else {
				if k.incr < mss {
					k.incr = mss
				}
				k.incr += (mss*mss)/k.incr + (mss / 16)
				if (k.cwnd+1)*mss <= k.incr {
					if mss > 0 {
						k.cwnd = (k.incr + mss - 1) / mss
					} else {
						k.cwnd = k.incr + mss - 1
					}
				}
			}
			if k.cwnd > k.rmtWnd {
				k.cwnd = k.rmtWnd
				k.incr = k.rmtWnd * mss
			}
		}
	}
	return 0
}

func (k *KCP) wndUnused() uint16 {
	if len(k.rcvQueue) < int(k.rcvWnd) {
		return uint16(int(k.rcvWnd) - len(k.rcvQueue))
	}
	return 0
}

// Flush pushes pending acks, probes, and window data to the output sink.
func (k *KCP) Flush() {
	if k.updated == 0 {
		return
	}
	current := k.current
	buffer := k.buffer
	ptr := 0

	var seg segment
	seg.conv = k.conv
	seg.cmd = cmdAck
	seg.wnd = k.wndUnused()
	seg.una = k.rcvNxt

	makeSpace := func(space int) {
		if ptr+space > int(k.mtu) {
			k.output(buffer[:ptr])
			ptr = 0
		}
	}

	// flush acknowledgements
	for _, ack := range k.acklist {
		makeSpace(Overhead)
		seg.sn, seg.ts = ack.sn, ack.ts
		seg.encode(buffer[ptr:])
		ptr += Overhead
	}
	k.acklist = k.acklist[:0]

	// probe window size if remote window is zero
	if k.rmtWnd == 0 {
		if k.probeWait == 0 {
			k.probeWait = probeInit
			k.tsProbe = current + k.probeWait
		} else if timediff(current, k.tsProbe) >= 0 {
			if k.probeWait < probeInit {
				k.probeWait = probeInit
			}
			k.probeWait += k.probeWait / 2
			if k.probeWait > probeLimit {
				k.probeWait = probeLimit
			}
			k.tsProbe = current + k.probeWait
			k.probe |= askSend
		}
	} else {
		k.tsProbe = 0
		k.probeWait = 0
	}

	if k.probe&askSend != 0 {
		seg.cmd = cmdWask
		makeSpace(Overhead)
		seg.encode(buffer[ptr:])
		ptr += Overhead
	}
	if k.probe&askTell != 0 {
		seg.cmd = cmdWins
		makeSpace(Overhead)
		seg.encode(buffer[ptr:])
		ptr += Overhead
	}
	k.probe = 0

	// sliding window, controlled by congestion window unless disabled
	cwnd := min32(k.sndWnd, k.rmtWnd)
	if k.nocwnd == 0 {
		cwnd = min32(k.cwnd, cwnd)
	}

	// move segments from sndQueue into the window
	for len(k.sndQueue) > 0 {
		if timediff(k.sndNxt, k.sndUna+cwnd) >= 0 {
			break
		}
		newseg := k.sndQueue[0]
		newseg.conv = k.conv
		newseg.cmd = cmdPush
		newseg.sn = k.sndNxt
		k.sndBuf = append(k.sndBuf, newseg)
		k.sndQueue = removeFront(k.sndQueue, 1)
		k.sndNxt++
	}

	resent := uint32(k.fastresend)
	if k.fastresend <= 0 {
		resent = 0xffffffff
	}
	rtomin := k.rxRto >> 3
	if k.nodelay != 0 {
		rtomin = 0
	}

	change := 0
	lost := false

	for i := range k.sndBuf {
		sndseg := &k.sndBuf[i]
		needsend := false
		if sndseg.xmit == 0 {
			needsend = true
			sndseg.xmit++
			sndseg.rto = k.rxRto
			sndseg.resendts = current + sndseg.rto + rtomin
		} else if timediff(current, sndseg.resendts) >= 0 {
			needsend = true
			sndseg.xmit++
			k.xmit++
			if k.nodelay == 0 {
				sndseg.rto += max32(sndseg.rto, k.rxRto)
			} else {
				step := sndseg.rto
				if k.nodelay >= 2 {
					step = k.rxRto
				}
				sndseg.rto += step / 2
			}
			sndseg.resendts = current + sndseg.rto
			lost = true
		} else if sndseg.fastack >= resent {
			if sndseg.xmit <= fastackLimit {
				needsend = true
				sndseg.xmit++
				sndseg.fastack = 0
				sndseg.resendts = current + sndseg.rto
				change++
			}
		}

		if needsend {
			sndseg.ts = current
			sndseg.wnd = seg.wnd
			sndseg.una = k.rcvNxt

			need := Overhead + len(sndseg.data)
			makeSpace(need)
			sndseg.encode(buffer[ptr:])
			ptr += Overhead
			copy(buffer[ptr:], sndseg.data)
			ptr += len(sndseg.data)

			// xmit counts the first transmission; the rest are retransmits
			if sndseg.xmit-1 > k.deadLink {
				k.state = 0xffffffff
			}
		}
	}

	if ptr > 0 {
		k.output(buffer[:ptr])
	}

	// congestion control updates
	if change > 0 {
		inflight := k.sndNxt - k.sndUna
		k.ssthresh = inflight / 2
		if k.ssthresh < threshMin {
			k.ssthresh = threshMin
		}
		k.cwnd = k.ssthresh + resent
		k.incr = k.cwnd * k.mss
	}
	if lost {
		k.ssthresh = cwnd / 2
		if k.ssthresh < threshMin {
			k.ssthresh = threshMin
		}
		k.cwnd = 1
		k.incr = k.mss
	}
	if k.cwnd < 1 {
		k.cwnd = 1
		k.incr = k.mss
	}
}

// Update drives retransmissions and acknowledgements. current is a
// monotonic millisecond clock shared with the peer's tick loop; call it
// repeatedly at the configured interval.
func (k *KCP) Update(current uint32) {
	k.current = current
	if k.updated == 0 {
		k.updated = 1
		k.tsFlush = current
	}
	slap := timediff(current, k.tsFlush)
	if slap >= 10000 || slap < -10000 {
		k.tsFlush = current
		slap = 0
	}
	if slap >= 0 {
		k.tsFlush += k.interval
		if timediff(current, k.tsFlush) >= 0 {
			k.tsFlush = current + k.interval
		}
		k.Flush()
	}
}

// SetMtu changes the maximum transmission unit. Output buffers never
// exceed this size. Returns a negative value when mtu is too small.
func (k *KCP) SetMtu(mtu int) int {
	if mtu < 50 || mtu < Overhead {
		return -1
	}
	k.buffer = make([]byte, mtu)
	k.mtu = uint32(mtu)
	k.mss = k.mtu - Overhead
	return 0
}

// NoDelay tunes the retransmission timing: nodelay enables aggressive
// RTO handling, interval is the internal flush interval in ms, resend
// enables fast retransmit after that many duplicate acks, and nc
// disables congestion window control when nonzero.
func (k *KCP) NoDelay(nodelay, interval, resend, nc int) {
	if nodelay >= 0 {
		k.nodelay = uint32(nodelay)
		if nodelay != 0 {
			k.rxMinrto = rtoNDL
		} else {
			k.rxMinrto = rtoMin
		}
	}
	if interval >= 0 {
		if interval > 5000 {
			interval = 5000
		} else if interval < 10 {
			interval = 10
		}
		k.interval = uint32(interval)
	}
	if resend >= 0 {
		k.fastresend = int32(resend)
	}
	if nc >= 0 {
		k.nocwnd = int32(nc)
	}
}

// WndSize sets the send and receive window sizes in segments.
func (k *KCP) WndSize(sndwnd, rcvwnd int) {
	if sndwnd > 0 {
		k.sndWnd = uint32(sndwnd)
	}
	if rcvwnd > 0 {
		k.rcvWnd = uint32(rcvwnd)
	}
}

// SetMaxRetransmits sets how many times a single segment may be
// retransmitted before the link is declared dead.
func (k *KCP) SetMaxRetransmits(n uint32) {
	if n > 0 {
		k.deadLink = n
	}
}

// IsDeadLink reports whether a segment exceeded the retransmission
// limit without being acknowledged. Once true it stays true.
func (k *KCP) IsDeadLink() bool {
	return k.state != 0
}

// WaitSnd returns the number of segments waiting to be sent or
// acknowledged.
func (k *KCP) WaitSnd() int {
	return len(k.sndBuf) + len(k.sndQueue)
}

// FirstPushByte scans a raw segment stream and returns the first
// payload byte of the first data segment, skipping control segments
// such as acknowledgements that may precede it in the same datagram.
// It reports false when the stream holds no data segment.
func FirstPushByte(stream []byte) (byte, bool) {
	for len(stream) >= Overhead {
		cmd := stream[4]
		length := binary.LittleEndian.Uint32(stream[20:])
		stream = stream[Overhead:]
		if uint32(len(stream)) < length {
			return 0, false
		}
		if cmd == cmdPush {
			if length == 0 {
				return 0, false
			}
			return stream[0], true
		}
		stream = stream[length:]
	}
	return 0, false
}

func removeFront(q []segment, n int) []segment {
	if n == 0 {
		return q
	}
	copy(q, q[n:])
	return q[:len(q)-n]
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func bound32(lower, middle, upper uint32) uint32 {
	return min32(max32(lower, middle), upper)
}
