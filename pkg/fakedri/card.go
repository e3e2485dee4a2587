// Copyright 2026 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fakedri

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/fbdev-drm-shim/pkg/drm"
)

// ErrNoEvents is returned by WaitEvent when nothing is queued and the card
// does not hold events back; a real card would block forever.
var ErrNoEvents = errors.New("fakedri: waiting for an event that will never come")

const (
	firstObjectID = 30
	fakeFd        = 1000
)

type property struct {
	drm.Property
	objectType uint32
}

type object struct {
	typ   uint32
	props map[uint32]uint64
}

type primeFD struct {
	fd     int
	ino    uint64
	handle uint32
}

// Commit records one atomic commit.
type Commit struct {
	Items    []drm.AtomicProperty
	Flags    uint32
	UserData uint64
}

// Flip records one legacy page flip.
type Flip struct {
	CrtcID, FbID, Flags uint32
	UserData            uint64
}

type failure struct {
	after int
	err   error
}

// Card is an in-memory drm.Card.
type Card struct {
	mu   sync.Mutex
	cond *sync.Cond

	opts   GenOptions
	nextID uint32
	open   bool

	caps map[uint64]uint64

	crtcs      []uint32
	crtcState  map[uint32]*drm.Crtc
	encoders   []*drm.Encoder
	connectors []*drm.Connector
	planes     []*drm.Plane
	planeTypes map[uint32]uint64

	properties map[uint32]*property
	propByName map[string]uint32 // "<objtype>/<name>"
	objects    map[uint32]*object

	blobs  map[uint32][]byte
	dumbs  map[uint32]*drm.DumbBuffer
	fbs    map[uint32]drm.FramebufferCmd
	primes []primeFD

	events      []drm.Event
	holdEvents  bool
	flipPending map[uint32]bool

	calls    map[string]int
	failures map[string]failure

	commits  []Commit
	flips    []Flip
	setCrtcs []drm.Crtc
}

// New builds a card from options.
func New(opts GenOptions) (*Card, error) {
	opts, err := verifyOptions(opts)
	if err != nil {
		return nil, err
	}

	c := &Card{
		opts:        opts,
		nextID:      firstObjectID,
		open:        true,
		caps:        map[uint64]uint64{},
		crtcState:   map[uint32]*drm.Crtc{},
		planeTypes:  map[uint32]uint64{},
		properties:  map[uint32]*property{},
		propByName:  map[string]uint32{},
		objects:     map[uint32]*object{},
		blobs:       map[uint32][]byte{},
		dumbs:       map[uint32]*drm.DumbBuffer{},
		fbs:         map[uint32]drm.FramebufferCmd{},
		flipPending: map[uint32]bool{},
		calls:       map[string]int{},
		failures:    map[string]failure{},
	}
	c.cond = sync.NewCond(&c.mu)

	for i := 0; i < opts.Crtcs; i++ {
		id := c.newObject(drm.ObjectCRTC, "ACTIVE", "MODE_ID")
		c.crtcs = append(c.crtcs, id)
		c.crtcState[id] = &drm.Crtc{ID: id}
	}

	allCrtcs := uint32(1)<<len(c.crtcs) - 1

	for i, spec := range opts.Connectors {
		typ, _ := connectorType(spec.Type)

		enc := &drm.Encoder{ID: c.newID(), Type: typ, PossibleCrtcs: allCrtcs}
		c.encoders = append(c.encoders, enc)

		conn := &drm.Connector{
			ID:         c.newObject(drm.ObjectConnector, "CRTC_ID", "DPMS"),
			Type:       typ,
			TypeID:     uint32(c.countType(typ) + 1),
			Connection: drm.Disconnected,
			Encoders:   []uint32{enc.ID},
		}

		if spec.Connected {
			conn.Connection = drm.Connected
			conn.EncoderID = enc.ID

			for _, m := range spec.Modes {
				mode, _ := ParseMode(m)
				conn.Modes = append(conn.Modes, mode)
			}

			if len(c.crtcs) > 0 {
				enc.CrtcID = c.crtcs[i%len(c.crtcs)]
			}
		}

		c.connectors = append(c.connectors, conn)
	}

	planes := opts.Planes
	if len(planes) == 0 {
		for range c.crtcs {
			planes = append(planes,
				PlaneSpec{Type: "Primary", Formats: []string{"XR24", "AR24", "RG16"}},
				PlaneSpec{Type: "Cursor", Formats: []string{"AR24"}})
		}
	}

	for _, spec := range planes {
		typ, _ := planeType(spec.Type)

		p := &drm.Plane{
			ID: c.newObject(drm.ObjectPlane, "type", "FB_ID", "CRTC_ID",
				"CRTC_X", "CRTC_Y", "CRTC_W", "CRTC_H",
				"SRC_X", "SRC_Y", "SRC_W", "SRC_H"),
			PossibleCrtcs: allCrtcs,
		}

		for _, f := range spec.Formats {
			format, _ := pixelFormat(f)
			p.Formats = append(p.Formats, format)
		}

		c.objects[p.ID].props[c.propByName[propKey(drm.ObjectPlane, "type")]] = typ
		c.planeTypes[p.ID] = typ
		c.planes = append(c.planes, p)
	}

	return c, nil
}

// NewDefault builds a card from DefaultOptions.
func NewDefault() *Card {
	c, err := New(DefaultOptions())
	if err != nil {
		panic(err)
	}

	return c
}

func propKey(objectType uint32, name string) string {
	return fmt.Sprintf("%x/%s", objectType, name)
}

func (c *Card) newID() uint32 {
	id := c.nextID
	c.nextID++

	return id
}

func (c *Card) newObject(typ uint32, props ...string) uint32 {
	id := c.newID()
	obj := &object{typ: typ, props: map[uint32]uint64{}}

	for _, name := range props {
		key := propKey(typ, name)

		pid, ok := c.propByName[key]
		if !ok {
			pid = c.newID()
			c.propByName[key] = pid
			c.properties[pid] = &property{
				Property:   drm.Property{ID: pid, Name: name},
				objectType: typ,
			}
		}

		obj.props[pid] = 0
	}

	c.objects[id] = obj

	return id
}

func (c *Card) countType(typ uint32) int {
	n := 0

	for _, conn := range c.connectors {
		if conn.Type == typ {
			n++
		}
	}

	return n
}

// call counts an operation and returns an injected failure, if any.
func (c *Card) call(op string) error {
	c.calls[op]++

	if !c.open {
		return unix.EBADF
	}

	if f, ok := c.failures[op]; ok && c.calls[op] > f.after {
		return f.err
	}

	return nil
}

// FailAfter makes op fail with err once it has succeeded after times.
func (c *Card) FailAfter(op string, after int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures[op] = failure{after: after, err: err}
}

// Calls returns how often op was invoked.
func (c *Card) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls[op]
}

// HoldEvents makes WaitEvent block until ReleaseEvents instead of failing
// when the queue is empty.
func (c *Card) HoldEvents(hold bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.holdEvents = hold
	c.cond.Broadcast()
}

// ReleaseEvents wakes up a blocked WaitEvent if events are queued.
func (c *Card) ReleaseEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.holdEvents = false
	c.cond.Broadcast()
}

// QueuedEvents returns the number of undelivered events.
func (c *Card) QueuedEvents() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.events)
}

// Commits returns the atomic commits issued so far.
func (c *Card) Commits() []Commit {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Commit(nil), c.commits...)
}

// Flips returns the legacy page flips issued so far.
func (c *Card) Flips() []Flip {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Flip(nil), c.flips...)
}

// SetCrtcCalls returns the legacy CRTC configurations applied so far.
func (c *Card) SetCrtcCalls() []drm.Crtc {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]drm.Crtc(nil), c.setCrtcs...)
}

// ConnectorIDs returns connector IDs in enumeration order.
func (c *Card) ConnectorIDs() []uint32 {
	var ids []uint32
	for _, conn := range c.connectors {
		ids = append(ids, conn.ID)
	}

	return ids
}

// CrtcIDs returns CRTC IDs in enumeration order.
func (c *Card) CrtcIDs() []uint32 {
	return append([]uint32(nil), c.crtcs...)
}

// PlaneIDs returns all plane IDs.
func (c *Card) PlaneIDs() []uint32 {
	var ids []uint32
	for _, p := range c.planes {
		ids = append(ids, p.ID)
	}

	return ids
}

// PropertyID returns the ID of a named property of an object type.
func (c *Card) PropertyID(objectType uint32, name string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.propByName[propKey(objectType, name)]
}

// PropertyValue returns the current value of an object property.
func (c *Card) PropertyValue(objectID uint32, name string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objects[objectID]
	if !ok {
		return 0, false
	}

	v, ok := obj.props[c.propByName[propKey(obj.typ, name)]]

	return v, ok
}

// SetCrtcState overrides what Crtc reports, e.g. a console left on screen.
func (c *Card) SetCrtcState(crtc drm.Crtc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.crtcState[crtc.ID] = &crtc
}

// IsOpen reports whether the card has been closed.
func (c *Card) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.open
}

func (c *Card) reopen() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.open = true
}

// Leaks lists kernel objects created through the card and not released,
// including exported descriptors still open.
func (c *Card) Leaks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var leaks []string

	for h := range c.dumbs {
		leaks = append(leaks, fmt.Sprintf("dumb buffer %d", h))
	}

	for id := range c.fbs {
		leaks = append(leaks, fmt.Sprintf("framebuffer %d", id))
	}

	for id := range c.blobs {
		leaks = append(leaks, fmt.Sprintf("property blob %d", id))
	}

	for _, p := range c.primes {
		if primeOpen(p) {
			leaks = append(leaks, fmt.Sprintf("prime fd %d (handle %d)", p.fd, p.handle))
		}
	}

	sort.Strings(leaks)

	return leaks
}

// Counts returns the number of live dumb buffers, framebuffers and blobs.
func (c *Card) Counts() (dumbs, fbs, blobs int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.dumbs), len(c.fbs), len(c.blobs)
}

func primeOpen(p primeFD) bool {
	var st unix.Stat_t
	if err := unix.Fstat(p.fd, &st); err != nil {
		return false
	}

	return st.Ino == p.ino
}

// Close marks the card closed. Queued events are dropped and blocked
// waiters are woken.
func (c *Card) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls["Close"]++

	if !c.open {
		return unix.EBADF
	}

	c.open = false
	c.events = nil
	c.flipPending = map[uint32]bool{}
	c.caps = map[uint64]uint64{}
	c.cond.Broadcast()

	return nil
}

// Fd returns a fixed fake descriptor number.
func (c *Card) Fd() int {
	return fakeFd
}

// Version reports the configured driver name.
func (c *Card) Version() (*drm.Version, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("Version"); err != nil {
		return nil, err
	}

	return &drm.Version{Major: 1, Minor: 1, Name: c.opts.Driver, Desc: c.opts.Info}, nil
}

// SetClientCap records universal planes and atomic caps.
func (c *Card) SetClientCap(capability, value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("SetClientCap"); err != nil {
		return err
	}

	switch capability {
	case drm.ClientCapUniversalPlanes:
	case drm.ClientCapAtomic:
		if c.opts.NoAtomic {
			return unix.EOPNOTSUPP
		}
		// atomic implies universal planes
		c.caps[drm.ClientCapUniversalPlanes] = value
	default:
		return unix.EINVAL
	}

	c.caps[capability] = value

	return nil
}

// Resources lists the mode setting objects.
func (c *Card) Resources() (*drm.Resources, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("Resources"); err != nil {
		return nil, err
	}

	res := &drm.Resources{
		Crtcs:     append([]uint32(nil), c.crtcs...),
		MinWidth:  1,
		MaxWidth:  4096,
		MinHeight: 1,
		MaxHeight: 4096,
	}

	for _, conn := range c.connectors {
		res.Connectors = append(res.Connectors, conn.ID)
	}

	for _, enc := range c.encoders {
		res.Encoders = append(res.Encoders, enc.ID)
	}

	for id := range c.fbs {
		res.FBs = append(res.FBs, id)
	}

	return res, nil
}

// Connector returns a copy of a connector.
func (c *Card) Connector(id uint32) (*drm.Connector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("Connector"); err != nil {
		return nil, err
	}

	for _, conn := range c.connectors {
		if conn.ID == id {
			cp := *conn
			cp.Modes = append([]drm.ModeInfo(nil), conn.Modes...)
			cp.Encoders = append([]uint32(nil), conn.Encoders...)

			return &cp, nil
		}
	}

	return nil, unix.ENOENT
}

// Encoder returns a copy of an encoder.
func (c *Card) Encoder(id uint32) (*drm.Encoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("Encoder"); err != nil {
		return nil, err
	}

	for _, enc := range c.encoders {
		if enc.ID == id {
			cp := *enc
			return &cp, nil
		}
	}

	return nil, unix.ENOENT
}

// Crtc returns the current CRTC state.
func (c *Card) Crtc(id uint32) (*drm.Crtc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("Crtc"); err != nil {
		return nil, err
	}

	st, ok := c.crtcState[id]
	if !ok {
		return nil, unix.ENOENT
	}

	cp := *st

	return &cp, nil
}

// SetCrtc applies a legacy configuration.
func (c *Card) SetCrtc(crtc *drm.Crtc, connectors []uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("SetCrtc"); err != nil {
		return err
	}

	if _, ok := c.crtcState[crtc.ID]; !ok {
		return unix.ENOENT
	}

	if crtc.FbID != 0 {
		if _, ok := c.fbs[crtc.FbID]; !ok {
			return unix.ENOENT
		}
	}

	cp := *crtc
	c.crtcState[crtc.ID] = &cp
	c.setCrtcs = append(c.setCrtcs, cp)

	return nil
}

// PlaneResources lists overlay planes, and primary and cursor planes once
// the universal planes cap is set.
func (c *Card) PlaneResources() ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("PlaneResources"); err != nil {
		return nil, err
	}

	var ids []uint32

	for _, p := range c.planes {
		if c.planeTypes[p.ID] != drm.PlaneTypeOverlay && c.caps[drm.ClientCapUniversalPlanes] == 0 {
			continue
		}

		ids = append(ids, p.ID)
	}

	return ids, nil
}

// Plane returns a copy of a plane.
func (c *Card) Plane(id uint32) (*drm.Plane, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("Plane"); err != nil {
		return nil, err
	}

	for _, p := range c.planes {
		if p.ID == id {
			cp := *p
			cp.Formats = append([]uint32(nil), p.Formats...)

			return &cp, nil
		}
	}

	return nil, unix.ENOENT
}

// ObjectProperties returns the properties of an object of the given type.
func (c *Card) ObjectProperties(id, objectType uint32) (*drm.ObjectProperties, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("ObjectProperties"); err != nil {
		return nil, err
	}

	obj, ok := c.objects[id]
	if !ok || obj.typ != objectType {
		return nil, unix.ENOENT
	}

	out := &drm.ObjectProperties{ObjectID: id, ObjectType: objectType}

	pids := make([]uint32, 0, len(obj.props))
	for pid := range obj.props {
		pids = append(pids, pid)
	}

	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	for _, pid := range pids {
		out.Props = append(out.Props, pid)
		out.Values = append(out.Values, obj.props[pid])
	}

	return out, nil
}

// Property returns property metadata.
func (c *Card) Property(id uint32) (*drm.Property, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("Property"); err != nil {
		return nil, err
	}

	p, ok := c.properties[id]
	if !ok {
		return nil, unix.ENOENT
	}

	cp := p.Property

	return &cp, nil
}

// CreatePropertyBlob stores a blob.
func (c *Card) CreatePropertyBlob(data []byte) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("CreatePropertyBlob"); err != nil {
		return 0, err
	}

	id := c.newID()
	c.blobs[id] = append([]byte(nil), data...)

	return id, nil
}

// DestroyPropertyBlob drops a blob.
func (c *Card) DestroyPropertyBlob(id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("DestroyPropertyBlob"); err != nil {
		return err
	}

	if _, ok := c.blobs[id]; !ok {
		return unix.ENOENT
	}

	delete(c.blobs, id)

	return nil
}

// CreateDumb allocates a dumb buffer with a 64 byte aligned pitch.
func (c *Card) CreateDumb(width, height, bpp uint32) (*drm.DumbBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("CreateDumb"); err != nil {
		return nil, err
	}

	if width == 0 || height == 0 || bpp == 0 {
		return nil, unix.EINVAL
	}

	pitch := (width*((bpp+7)/8) + 63) &^ 63
	b := &drm.DumbBuffer{
		Handle: c.newID(),
		Width:  width,
		Height: height,
		Bpp:    bpp,
		Pitch:  pitch,
		Size:   uint64(pitch) * uint64(height),
	}
	c.dumbs[b.Handle] = b
	cp := *b

	return &cp, nil
}

// MapDumb returns a fake mmap offset.
func (c *Card) MapDumb(handle uint32) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("MapDumb"); err != nil {
		return 0, err
	}

	if _, ok := c.dumbs[handle]; !ok {
		return 0, unix.ENOENT
	}

	return uint64(handle) << 12, nil
}

// DestroyDumb frees a dumb buffer. Framebuffers still referencing it keep
// it busy.
func (c *Card) DestroyDumb(handle uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("DestroyDumb"); err != nil {
		return err
	}

	if _, ok := c.dumbs[handle]; !ok {
		return unix.ENOENT
	}

	for _, fb := range c.fbs {
		if fb.Handle == handle {
			return unix.EBUSY
		}
	}

	delete(c.dumbs, handle)

	return nil
}

// PrimeHandleToFD exports a buffer as a memfd standing in for a dma-buf.
func (c *Card) PrimeHandleToFD(handle, flags uint32) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("PrimeHandleToFD"); err != nil {
		return -1, err
	}

	b, ok := c.dumbs[handle]
	if !ok {
		return -1, unix.ENOENT
	}

	fd, err := unix.MemfdCreate(fmt.Sprintf("fakedri-prime-%d", handle), unix.MFD_CLOEXEC)
	if err != nil {
		return -1, err
	}

	if err := unix.Ftruncate(fd, int64(b.Size)); err != nil {
		unix.Close(fd)
		return -1, err
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return -1, err
	}

	c.primes = append(c.primes, primeFD{fd: fd, ino: st.Ino, handle: handle})

	return fd, nil
}

// AddFB2 registers a framebuffer over a dumb buffer.
func (c *Card) AddFB2(fb *drm.FramebufferCmd) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("AddFB2"); err != nil {
		return 0, err
	}

	b, ok := c.dumbs[fb.Handle]
	if !ok {
		return 0, unix.ENOENT
	}

	if fb.Width > b.Width || fb.Height > b.Height || fb.Pitch < b.Pitch {
		return 0, unix.EINVAL
	}

	if fb.Format != drm.FormatXRGB8888 && fb.Format != drm.FormatRGB565 {
		return 0, unix.EINVAL
	}

	id := c.newID()
	c.fbs[id] = *fb

	return id, nil
}

// RemoveFB unregisters a framebuffer.
func (c *Card) RemoveFB(id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("RemoveFB"); err != nil {
		return err
	}

	if _, ok := c.fbs[id]; !ok {
		return unix.ENOENT
	}

	delete(c.fbs, id)

	return nil
}

func (c *Card) queueFlip(crtcID uint32, userData uint64) {
	c.flipPending[crtcID] = true
	c.events = append(c.events, drm.Event{
		Type:     drm.EventFlipComplete,
		UserData: userData,
		Sequence: uint32(len(c.flips) + len(c.commits)),
		CrtcID:   crtcID,
	})
	c.cond.Broadcast()
}

// PageFlip flips a CRTC to another framebuffer. A flip is refused with
// EBUSY until the event of the previous one has been read.
func (c *Card) PageFlip(crtcID, fbID, flags uint32, userData uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("PageFlip"); err != nil {
		return err
	}

	st, ok := c.crtcState[crtcID]
	if !ok {
		return unix.ENOENT
	}

	if _, ok := c.fbs[fbID]; !ok {
		return unix.ENOENT
	}

	if c.flipPending[crtcID] {
		return unix.EBUSY
	}

	st.FbID = fbID
	c.flips = append(c.flips, Flip{CrtcID: crtcID, FbID: fbID, Flags: flags, UserData: userData})

	if flags&drm.PageFlipEvent != 0 {
		c.queueFlip(crtcID, userData)
	}

	return nil
}

// AtomicCommit validates and applies an atomic request.
func (c *Card) AtomicCommit(req *drm.AtomicReq, flags uint32, userData uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("AtomicCommit"); err != nil {
		return err
	}

	if c.caps[drm.ClientCapAtomic] == 0 {
		return unix.EINVAL
	}

	items := req.Items()
	fbProp := c.propByName[propKey(drm.ObjectPlane, "FB_ID")]
	modeProp := c.propByName[propKey(drm.ObjectCRTC, "MODE_ID")]
	crtcs := map[uint32]bool{}

	for _, it := range items {
		obj, ok := c.objects[it.ObjectID]
		if !ok {
			return unix.ENOENT
		}

		if _, ok := obj.props[it.PropertyID]; !ok {
			return unix.EINVAL
		}

		switch {
		case it.PropertyID == fbProp && it.Value != 0:
			if _, ok := c.fbs[uint32(it.Value)]; !ok {
				return unix.ENOENT
			}
		case it.PropertyID == modeProp && it.Value != 0:
			if _, ok := c.blobs[uint32(it.Value)]; !ok {
				return unix.ENOENT
			}

			if flags&drm.AtomicAllowModeSet == 0 && obj.props[it.PropertyID] != it.Value {
				return unix.EINVAL
			}
		}

		if obj.typ == drm.ObjectCRTC {
			crtcs[it.ObjectID] = true
		}
	}

	if len(crtcs) == 0 && len(c.crtcs) > 0 {
		// plane-only commits act on the CRTC the plane is bound to
		crtcs[c.crtcs[0]] = true
	}

	for id := range crtcs {
		if c.flipPending[id] && flags&drm.AtomicNonBlock != 0 {
			return unix.EBUSY
		}
	}

	if flags&drm.AtomicTestOnly != 0 {
		return nil
	}

	for _, it := range items {
		c.objects[it.ObjectID].props[it.PropertyID] = it.Value
	}

	c.commits = append(c.commits, Commit{Items: items, Flags: flags, UserData: userData})

	if flags&drm.PageFlipEvent != 0 {
		for id := range crtcs {
			c.queueFlip(id, userData)
		}
	}

	return nil
}

// WaitEvent returns once an event is queued. With events held it blocks
// until ReleaseEvents or Close; otherwise an empty queue is an error.
func (c *Card) WaitEvent() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls["WaitEvent"]++

	for {
		if !c.open {
			return unix.EBADF
		}

		if len(c.events) > 0 && !c.holdEvents {
			return nil
		}

		if !c.holdEvents {
			return ErrNoEvents
		}

		c.cond.Wait()
	}
}

// ReadEvents drains the event queue.
func (c *Card) ReadEvents() ([]drm.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call("ReadEvents"); err != nil {
		return nil, err
	}

	if len(c.events) == 0 {
		return nil, unix.EAGAIN
	}

	events := c.events
	c.events = nil

	for _, ev := range events {
		delete(c.flipPending, ev.CrtcID)
	}

	return events, nil
}
