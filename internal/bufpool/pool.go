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

// Package bufpool allocates the pages of the emulated framebuffer as DRM
// dumb buffers, exports them as dma-buf descriptors for the GPU driver and
// optionally registers them as scanout framebuffers.
package bufpool

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/intel/fbdev-drm-shim/pkg/drm"
)

// Page is one buffer of the pool.
type Page struct {
	Index  int
	Handle uint32
	Pitch  uint32
	// FD is the exported dma-buf descriptor, -1 once closed.
	FD   int
	FbID uint32
	// Req binds FbID to the primary plane (atomic mode setting only).
	Req *drm.AtomicReq

	// Used is set while the page is submitted for display or shown.
	Used bool
}

// Options describe the pool geometry.
type Options struct {
	Width, Height uint32
	// Bpp is bytes per pixel.
	Bpp   uint32
	Count int
	// Surface registers every page as a framebuffer.
	Surface bool
	// Binder builds the plane request of a framebuffer, may be nil.
	Binder func(fbID uint32) *drm.AtomicReq
}

// Pool owns the buffer objects, exported descriptors and framebuffers of
// the emulated framebuffer pages.
type Pool struct {
	card  drm.Card
	opts  Options
	size  uint64
	pages []*Page
}

// New allocates opts.Count pages. Any failure releases everything created
// so far.
func New(card drm.Card, opts Options) (*Pool, error) {
	if opts.Count < 1 || opts.Width == 0 || opts.Height == 0 || opts.Bpp == 0 {
		return nil, errors.Errorf("invalid pool geometry %dx%dx%d, %d pages",
			opts.Width, opts.Height, opts.Bpp, opts.Count)
	}

	p := &Pool{
		card: card,
		opts: opts,
		size: uint64(opts.Width) * uint64(opts.Height) * uint64(opts.Bpp),
	}

	for i := 0; i < opts.Count; i++ {
		page, err := p.newPage(i)
		if err != nil {
			if ferr := p.Free(); ferr != nil {
				klog.Warningf("releasing partial pool: %v", ferr)
			}

			return nil, errors.Wrapf(err, "page %d of %d", i, opts.Count)
		}

		p.pages = append(p.pages, page)
	}

	klog.V(1).Infof("allocated %d pages of %d bytes (%dx%d, %d bytes per pixel)",
		opts.Count, p.size, opts.Width, opts.Height, opts.Bpp)

	return p, nil
}

// newPage creates one page. On failure the partially built page is
// released before returning.
func (p *Pool) newPage(index int) (*Page, error) {
	bo, err := p.card.CreateDumb(p.opts.Width, p.opts.Height, p.opts.Bpp*8)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create buffer object")
	}

	page := &Page{Index: index, Handle: bo.Handle, Pitch: bo.Pitch, FD: -1}

	page.FD, err = p.card.PrimeHandleToFD(bo.Handle, drm.PrimeCloexec|drm.PrimeRDWR)
	if err != nil {
		page.FD = -1
		p.release(page)

		return nil, errors.Wrap(err, "failed to export buffer object")
	}

	if !p.opts.Surface {
		return page, nil
	}

	page.FbID, err = p.card.AddFB2(&drm.FramebufferCmd{
		Width:  p.opts.Width,
		Height: p.opts.Height,
		Format: drm.FormatForBpp(p.opts.Bpp),
		Handle: bo.Handle,
		Pitch:  bo.Pitch,
	})
	if err != nil {
		p.release(page)
		return nil, errors.Wrap(err, "failed to add framebuffer")
	}

	if p.opts.Binder != nil {
		page.Req = p.opts.Binder(page.FbID)
	}

	klog.V(3).Infof("page %d: handle %d, pitch %d, dma-buf fd %d, framebuffer %d",
		index, page.Handle, page.Pitch, page.FD, page.FbID)

	return page, nil
}

// release removes the framebuffer before the buffer object it scans out.
func (p *Pool) release(page *Page) error {
	var first error

	keep := func(err error) {
		if err == nil {
			return
		}

		if first == nil {
			first = err
		} else {
			klog.Warningf("page %d: %v", page.Index, err)
		}
	}

	if page.FbID != 0 {
		keep(errors.Wrapf(p.card.RemoveFB(page.FbID), "failed to remove framebuffer %d", page.FbID))
		page.FbID = 0
		page.Req = nil
	}

	if page.FD >= 0 {
		keep(errors.Wrapf(unix.Close(page.FD), "failed to close dma-buf fd %d", page.FD))
		page.FD = -1
	}

	if page.Handle != 0 {
		keep(errors.Wrapf(p.card.DestroyDumb(page.Handle), "failed to destroy buffer object %d", page.Handle))
		page.Handle = 0
	}

	return first
}

// Free releases every page. The first error is returned, the others are
// logged.
func (p *Pool) Free() error {
	var first error

	for _, page := range p.pages {
		if err := p.release(page); err != nil && first == nil {
			first = err
		}
	}

	p.pages = nil

	return first
}

// Len returns the number of pages.
func (p *Pool) Len() int {
	return len(p.pages)
}

// Page returns page i.
func (p *Pool) Page(i int) *Page {
	return p.pages[i]
}

// FD returns the dma-buf descriptor of page i, or -1 for an invalid index.
func (p *Pool) FD(i int) int {
	if i < 0 || i >= len(p.pages) {
		return -1
	}

	return p.pages[i].FD
}

// Size returns the byte size of one page.
func (p *Pool) Size() uint64 {
	return p.size
}

// IndexForAddress maps an address inside the emulated framebuffer to the
// page it starts. Only page-aligned addresses inside the first count
// pages resolve.
func IndexForAddress(base, addr, size uint64, count int) (int, bool) {
	if size == 0 || count <= 0 || addr < base {
		return 0, false
	}

	offset := addr - base
	if offset%size != 0 {
		return 0, false
	}

	k := offset / size
	if k >= uint64(count) {
		return 0, false
	}

	return int(k), true
}
