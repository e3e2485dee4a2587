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

// Package stats counts emulation events and writes them in the Prometheus
// text exposition format, suitable for the node exporter textfile
// collector. A nil *Collector is valid and counts nothing.
package stats

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
)

// Counter identifies one event counter.
type Counter int

// Counters.
const (
	SessionInits Counter = iota
	SessionInitFailures
	SessionFrees
	FlipsIssued
	FlipsCompleted
	FlipErrors
	MaliTranslated
	MaliRejected
	Passthrough
	numCounters
)

var counterInfo = [numCounters]struct{ name, help string }{
	SessionInits:        {"fbdev_shim_session_inits_total", "Completed session initializations."},
	SessionInitFailures: {"fbdev_shim_session_init_failures_total", "Failed session initializations."},
	SessionFrees:        {"fbdev_shim_session_frees_total", "Session teardowns."},
	FlipsIssued:         {"fbdev_shim_flips_issued_total", "Page flips submitted to the display."},
	FlipsCompleted:      {"fbdev_shim_flips_completed_total", "Page flip completion events handled."},
	FlipErrors:          {"fbdev_shim_flip_errors_total", "Page flips the kernel refused."},
	MaliTranslated:      {"fbdev_shim_mali_translated_total", "External memory mappings served from the buffer pool."},
	MaliRejected:        {"fbdev_shim_mali_rejected_total", "External memory mappings outside the buffer pool."},
	Passthrough:         {"fbdev_shim_passthrough_ioctls_total", "Ioctls on tracked descriptors forwarded unchanged."},
}

const latencyName = "fbdev_shim_flip_latency_seconds"

// Collector accumulates counters and the flip latency.
type Collector struct {
	mu     sync.Mutex
	clock  clock.PassiveClock
	counts [numCounters]uint64

	latencyCount uint64
	latencySum   float64
}

// New returns a collector reading time from c; nil means the real clock.
func New(c clock.PassiveClock) *Collector {
	if c == nil {
		c = clock.RealClock{}
	}

	return &Collector{clock: c}
}

// Inc increments a counter.
func (c *Collector) Inc(counter Counter) {
	if c == nil {
		return
	}

	c.mu.Lock()
	c.counts[counter]++
	c.mu.Unlock()
}

// Value returns a counter.
func (c *Collector) Value(counter Counter) uint64 {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counts[counter]
}

// Now returns the collector's current time.
func (c *Collector) Now() time.Time {
	if c == nil {
		return time.Time{}
	}

	return c.clock.Now()
}

// ObserveFlip records the latency of a flip issued at start.
func (c *Collector) ObserveFlip(start time.Time) {
	if c == nil || start.IsZero() {
		return
	}

	d := c.clock.Since(start)

	c.mu.Lock()
	c.latencyCount++
	c.latencySum += d.Seconds()
	c.mu.Unlock()
}

// Latency returns the number of observed flips and their total latency.
func (c *Collector) Latency() (uint64, time.Duration) {
	if c == nil {
		return 0, 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.latencyCount, time.Duration(c.latencySum * float64(time.Second))
}

// Families returns a snapshot as Prometheus metric families.
func (c *Collector) Families() []*io_prometheus_client.MetricFamily {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	families := make([]*io_prometheus_client.MetricFamily, 0, numCounters+1)

	for i, info := range counterInfo {
		families = append(families, &io_prometheus_client.MetricFamily{
			Name: proto.String(info.name),
			Help: proto.String(info.help),
			Type: io_prometheus_client.MetricType_COUNTER.Enum(),
			Metric: []*io_prometheus_client.Metric{
				{Counter: &io_prometheus_client.Counter{Value: proto.Float64(float64(c.counts[i]))}},
			},
		})
	}

	families = append(families, &io_prometheus_client.MetricFamily{
		Name: proto.String(latencyName),
		Help: proto.String("Time from submitting a page flip to its completion event."),
		Type: io_prometheus_client.MetricType_SUMMARY.Enum(),
		Metric: []*io_prometheus_client.Metric{
			{Summary: &io_prometheus_client.Summary{
				SampleCount: proto.Uint64(c.latencyCount),
				SampleSum:   proto.Float64(c.latencySum),
			}},
		},
	})

	return families
}

// Write renders all metrics in the text exposition format.
func (c *Collector) Write(w io.Writer) error {
	for _, mf := range c.Families() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrapf(err, "failed to write %s", mf.GetName())
		}
	}

	return nil
}

// WriteFile replaces path with the current metrics. The file is written
// next to path and renamed so readers never see a partial file.
func (c *Collector) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := c.Write(&buf); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path))
	if err != nil {
		return errors.Wrap(err, "can't create statistics file")
	}

	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return errors.Wrap(err, "can't write statistics")
	}

	if err := tmp.Close(); err != nil {
		return errors.WithStack(err)
	}

	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return errors.WithStack(err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "can't install statistics file")
	}

	klog.V(2).Infof("statistics written to %s", path)

	return nil
}
