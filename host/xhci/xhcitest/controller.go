package xhcitest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/host/xhci/dma"
	"github.com/ardnew/softxhci/host/xhci/ring"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// DefaultMaxSlots is the number of device slots a new controller offers.
const DefaultMaxSlots = 8

// Errors.
var (
	// ErrNotProgrammed indicates a register that must be written before the
	// operation.
	ErrNotProgrammed = errors.New("register not programmed")

	// ErrEventRingFull indicates an event was lost because the driver had
	// not consumed enough of the event ring.
	ErrEventRingFull = errors.New("event ring full")
)

// Doorbell is one recorded doorbell write.
type Doorbell struct {
	Slot   uint8
	Target uint8
	Stream uint16
}

// Dequeue is one recorded event ring dequeue pointer write.
type Dequeue struct {
	Interrupter int
	Pointer     dma.Addr
	Segment     int
	ClearBusy   bool
}

type endpointKey struct {
	slot uint8
	dci  uint8
}

type endpoint struct {
	mem     *dma.Region
	ring    *ring.Ring
	handler Endpoint
	halted  bool
	stopped bool
}

type slot struct {
	address hal.DeviceAddress
}

// Controller is a simulated host controller.
type Controller struct {
	mu       sync.Mutex
	mem      dma.Resolver
	maxSlots int
	manual   bool

	cmd       *ring.Ring
	events    producer
	slots     map[uint8]*slot
	endpoints map[endpointKey]*endpoint
	ports     map[uint8]hal.PortStatus
	nextAddr  hal.DeviceAddress

	doorbells []Doorbell
	dequeues  []Dequeue
	queued    []Doorbell
	lost      int
	err       error

	irq chan struct{}
}

// New returns a controller that reaches shared memory through mem.
func New(mem dma.Resolver) *Controller {
	return &Controller{
		mem:       mem,
		maxSlots:  DefaultMaxSlots,
		slots:     make(map[uint8]*slot),
		endpoints: make(map[endpointKey]*endpoint),
		ports:     make(map[uint8]hal.PortStatus),
		nextAddr:  1,
		irq:       make(chan struct{}, 1),
	}
}

// SetMaxSlots sets the number of device slots Enable Slot hands out.
func (c *Controller) SetMaxSlots(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSlots = n
}

// SetManual selects whether doorbells are processed when written (false)
// or queued until Step (true).
func (c *Controller) SetManual(manual bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manual = manual
}

// Interrupts returns the channel signalled after events are posted.
func (c *Controller) Interrupts() <-chan struct{} { return c.irq }

// Doorbells returns every doorbell write so far.
func (c *Controller) Doorbells() []Doorbell {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Doorbell(nil), c.doorbells...)
}

// Dequeues returns every event ring dequeue pointer write so far.
func (c *Controller) Dequeues() []Dequeue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Dequeue(nil), c.dequeues...)
}

// EventsLost returns the number of events dropped on a full event ring.
func (c *Controller) EventsLost() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lost
}

// Err returns the first programming error the controller detected. A real
// controller would set the Host Controller Error flag.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) fail(err error) {
	if c.err == nil {
		c.err = err
	}
	pkg.LogError(pkg.ComponentSim, "host controller error", "error", err)
}

// =============================================================================
// Registers
// =============================================================================

// SetCommandRing implements the command ring control register.
func (c *Controller) SetCommandRing(base dma.Addr, cycle bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	region, _, err := c.mem.Resolve(base)
	if err != nil {
		c.fail(fmt.Errorf("command ring: %w", err))
		return
	}
	r, err := ring.Open(region, base, cycle)
	if err != nil {
		c.fail(fmt.Errorf("command ring: %w", err))
		return
	}
	c.cmd = r
}

// SetEventRingSegmentTable implements the segment table size and base
// registers.
func (c *Controller) SetEventRingSegmentTable(interrupter int, size int, base dma.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.events.program(c.mem, size, base); err != nil {
		c.fail(fmt.Errorf("interrupter %d: %w", interrupter, err))
	}
}

// SetEventRingDequeue implements the event ring dequeue pointer register.
func (c *Controller) SetEventRingDequeue(interrupter int, ptr dma.Addr, segment int, clearBusy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dequeues = append(c.dequeues, Dequeue{interrupter, ptr, segment, clearBusy})
	c.events.erdp = ptr
}

// RingDoorbell implements the doorbell array.
func (c *Controller) RingDoorbell(slot, target uint8, stream uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()

	db := Doorbell{slot, target, stream}
	c.doorbells = append(c.doorbells, db)
	if c.manual {
		c.queued = append(c.queued, db)
		return
	}
	c.ring(db)
}

// Step processes every doorbell queued in manual mode and returns how many
// there were.
func (c *Controller) Step() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	queued := c.queued
	c.queued = nil
	for _, db := range queued {
		c.ring(db)
	}
	return len(queued)
}

// StepCommands processes the command doorbells queued in manual mode and
// leaves endpoint doorbells queued. It returns how many it processed.
func (c *Controller) StepCommands() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rest []Doorbell
	n := 0
	for _, db := range c.queued {
		if db.Slot != 0 {
			rest = append(rest, db)
			continue
		}
		c.ring(db)
		n++
	}
	c.queued = rest
	return n
}

func (c *Controller) ring(db Doorbell) {
	if db.Slot == 0 {
		c.processCommands()
		return
	}
	c.processTransfers(db.Slot, db.Target)
}

// =============================================================================
// Event ring
// =============================================================================

// producer writes events into the segments listed by a segment table.
type producer struct {
	segs  []ring.Segment
	mem   []*dma.Region
	seg   int
	index int
	cycle bool
	erdp  dma.Addr
}

func (p *producer) program(res dma.Resolver, size int, base dma.Addr) error {
	region, off, err := res.Resolve(base)
	if err != nil {
		return fmt.Errorf("segment table: %w", err)
	}
	if off != 0 {
		return fmt.Errorf("segment table %v is not a region base", base)
	}
	table, err := ring.ReadSegmentTable(region, size)
	if err != nil {
		return err
	}

	*p = producer{cycle: true}
	for i := range table.EntryCount() {
		e := table.Entry(i)
		mem, off, err := res.Resolve(e.Base)
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		if off != 0 || mem.Size() < e.Bytes() {
			return fmt.Errorf("segment %d at %v does not fit its region", i, e.Base)
		}
		p.segs = append(p.segs, e)
		p.mem = append(p.mem, mem)
	}
	p.erdp = p.segs[0].Base
	return nil
}

func (p *producer) programmed() bool { return len(p.segs) > 0 }

func (p *producer) addr(seg, index int) dma.Addr {
	return p.segs[seg].Base + dma.Addr(index*trb.Size)
}

func (p *producer) next() (seg, index int, wrapped bool) {
	seg, index = p.seg, p.index+1
	if index == p.segs[seg].Blocks {
		seg, index = seg+1, 0
		if seg == len(p.segs) {
			seg, wrapped = 0, true
		}
	}
	return seg, index, wrapped
}

// post writes b at the enqueue position, cycle word last.
func (p *producer) post(b trb.Block) error {
	if !p.programmed() {
		return ErrNotProgrammed
	}
	seg, index, wrapped := p.next()
	if p.addr(seg, index) == p.erdp {
		return ErrEventRingFull
	}

	b = b.WithCycle(p.cycle)
	mem, off := p.mem[p.seg], p.index*trb.Size
	mem.Store32(off, b[0])
	mem.Store32(off+4, b[1])
	mem.Store32(off+8, b[2])
	mem.Store32(off+12, b[3])

	p.seg, p.index = seg, index
	if wrapped {
		p.cycle = !p.cycle
	}
	return nil
}

// post publishes an event and raises the interrupt. c.mu must be held.
func (c *Controller) post(e trb.Event) {
	if err := c.events.post(e.Encode()); err != nil {
		if errors.Is(err, ErrEventRingFull) {
			c.lost++
			pkg.LogWarn(pkg.ComponentSim, "event lost", "type", e.Type())
			return
		}
		c.fail(err)
		return
	}
	select {
	case c.irq <- struct{}{}:
	default:
	}
}

// Post injects an arbitrary event.
func (c *Controller) Post(e trb.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.post(e)
}

// =============================================================================
// Ports
// =============================================================================

// Connect marks a root hub port connected at speed and posts a Port Status
// Change event.
func (c *Controller) Connect(port uint8, speed hal.Speed) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ports[port] = hal.PortStatus{
		Connected:     true,
		Enabled:       true,
		PowerOn:       true,
		Speed:         speed,
		ConnectChange: true,
		EnableChange:  true,
	}
	c.post(trb.PortStatusChange{Port: port, Code: trb.CodeSuccess})
}

// Disconnect marks a root hub port disconnected and posts a Port Status
// Change event.
func (c *Controller) Disconnect(port uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ports[port] = hal.PortStatus{PowerOn: true, ConnectChange: true}
	c.post(trb.PortStatusChange{Port: port, Code: trb.CodeSuccess})
}

// PortStatus returns the status of a root hub port and clears its change
// flags.
func (c *Controller) PortStatus(port uint8) hal.PortStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.ports[port]
	cleared := st
	cleared.ConnectChange, cleared.EnableChange, cleared.ResetChange = false, false, false
	c.ports[port] = cleared
	return st
}

// SlotAddress returns the USB address assigned to a slot by Address Device.
func (c *Controller) SlotAddress(id uint8) (hal.DeviceAddress, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[id]
	if !ok {
		return 0, false
	}
	return s.address, true
}
