/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package metrics mirrors internal/stats' counters into Prometheus gauges
// and counters, exposed over an HTTP handler the cmd entrypoint wires up
// behind --metrics-addr. It is a pure read-through: the collector queries
// the live Counters/Store on every scrape instead of keeping its own state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	libsto "github.com/nabbar/gomemd/internal/store"
	libstt "github.com/nabbar/gomemd/internal/stats"
)

const namespace = "gomemd"

// Collector implements prometheus.Collector by reading a stats snapshot on
// every Collect call.
type Collector struct {
	counters *libstt.Counters
	store    *libsto.Store

	descCurrConn   *prometheus.Desc
	descTotalConn  *prometheus.Desc
	descCmd        *prometheus.Desc
	descGetResult  *prometheus.Desc
	descDelResult  *prometheus.Desc
	descIncrResult *prometheus.Desc
	descDecrResult *prometheus.Desc
	descCasResult  *prometheus.Desc
	descBytesIO    *prometheus.Desc
	descCurrItems  *prometheus.Desc
	descTotalItems *prometheus.Desc
	descEvictions  *prometheus.Desc
	descExpired    *prometheus.Desc
	descBytesUsed  *prometheus.Desc
	descUptime     *prometheus.Desc
}

// New returns a Collector ready to be passed to prometheus.Registry.Register.
func New(counters *libstt.Counters, store *libsto.Store) *Collector {
	return &Collector{
		counters: counters,
		store:    store,

		descCurrConn:   prometheus.NewDesc(namespace+"_connections_current", "Open connections.", nil, nil),
		descTotalConn:  prometheus.NewDesc(namespace+"_connections_total", "Connections accepted since start.", nil, nil),
		descCmd:        prometheus.NewDesc(namespace+"_commands_total", "Commands processed by type.", []string{"command"}, nil),
		descGetResult:  prometheus.NewDesc(namespace+"_get_total", "GET results.", []string{"result"}, nil),
		descDelResult:  prometheus.NewDesc(namespace+"_delete_total", "DELETE results.", []string{"result"}, nil),
		descIncrResult: prometheus.NewDesc(namespace+"_incr_total", "INCR results.", []string{"result"}, nil),
		descDecrResult: prometheus.NewDesc(namespace+"_decr_total", "DECR results.", []string{"result"}, nil),
		descCasResult:  prometheus.NewDesc(namespace+"_cas_total", "CAS results.", []string{"result"}, nil),
		descBytesIO:    prometheus.NewDesc(namespace+"_network_bytes_total", "Bytes moved over the wire.", []string{"direction"}, nil),
		descCurrItems:  prometheus.NewDesc(namespace+"_items_current", "Items currently stored.", nil, nil),
		descTotalItems: prometheus.NewDesc(namespace+"_items_total", "Items stored since start.", nil, nil),
		descEvictions:  prometheus.NewDesc(namespace+"_evictions_total", "Items evicted for space.", nil, nil),
		descExpired:    prometheus.NewDesc(namespace+"_expired_total", "Items reaped for expiration.", nil, nil),
		descBytesUsed:  prometheus.NewDesc(namespace+"_bytes_used", "Bytes held by stored items.", nil, nil),
		descUptime:     prometheus.NewDesc(namespace+"_uptime_seconds", "Seconds since process start.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.descCurrConn
	ch <- c.descTotalConn
	ch <- c.descCmd
	ch <- c.descGetResult
	ch <- c.descDelResult
	ch <- c.descIncrResult
	ch <- c.descDecrResult
	ch <- c.descCasResult
	ch <- c.descBytesIO
	ch <- c.descCurrItems
	ch <- c.descTotalItems
	ch <- c.descEvictions
	ch <- c.descExpired
	ch <- c.descBytesUsed
	ch <- c.descUptime
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.counters.Snapshot(c.store)

	ch <- prometheus.MustNewConstMetric(c.descCurrConn, prometheus.GaugeValue, float64(s.CurrConnections))
	ch <- prometheus.MustNewConstMetric(c.descTotalConn, prometheus.CounterValue, float64(s.TotalConnections))

	ch <- prometheus.MustNewConstMetric(c.descCmd, prometheus.CounterValue, float64(s.CmdGet), "get")
	ch <- prometheus.MustNewConstMetric(c.descCmd, prometheus.CounterValue, float64(s.CmdSet), "set")
	ch <- prometheus.MustNewConstMetric(c.descCmd, prometheus.CounterValue, float64(s.CmdFlush), "flush")
	ch <- prometheus.MustNewConstMetric(c.descCmd, prometheus.CounterValue, float64(s.CmdTouch), "touch")

	ch <- prometheus.MustNewConstMetric(c.descGetResult, prometheus.CounterValue, float64(s.GetHits), "hit")
	ch <- prometheus.MustNewConstMetric(c.descGetResult, prometheus.CounterValue, float64(s.GetMisses), "miss")

	ch <- prometheus.MustNewConstMetric(c.descDelResult, prometheus.CounterValue, float64(s.DeleteHits), "hit")
	ch <- prometheus.MustNewConstMetric(c.descDelResult, prometheus.CounterValue, float64(s.DeleteMisses), "miss")

	ch <- prometheus.MustNewConstMetric(c.descIncrResult, prometheus.CounterValue, float64(s.IncrHits), "hit")
	ch <- prometheus.MustNewConstMetric(c.descIncrResult, prometheus.CounterValue, float64(s.IncrMisses), "miss")

	ch <- prometheus.MustNewConstMetric(c.descDecrResult, prometheus.CounterValue, float64(s.DecrHits), "hit")
	ch <- prometheus.MustNewConstMetric(c.descDecrResult, prometheus.CounterValue, float64(s.DecrMisses), "miss")

	ch <- prometheus.MustNewConstMetric(c.descCasResult, prometheus.CounterValue, float64(s.CasHits), "hit")
	ch <- prometheus.MustNewConstMetric(c.descCasResult, prometheus.CounterValue, float64(s.CasMisses), "miss")
	ch <- prometheus.MustNewConstMetric(c.descCasResult, prometheus.CounterValue, float64(s.CasBadval), "badval")

	ch <- prometheus.MustNewConstMetric(c.descBytesIO, prometheus.CounterValue, float64(s.BytesRead), "read")
	ch <- prometheus.MustNewConstMetric(c.descBytesIO, prometheus.CounterValue, float64(s.BytesWritten), "written")

	ch <- prometheus.MustNewConstMetric(c.descCurrItems, prometheus.GaugeValue, float64(s.CurrItems))
	ch <- prometheus.MustNewConstMetric(c.descTotalItems, prometheus.CounterValue, float64(s.TotalItems))
	ch <- prometheus.MustNewConstMetric(c.descEvictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.descExpired, prometheus.CounterValue, float64(s.Expired))
	ch <- prometheus.MustNewConstMetric(c.descBytesUsed, prometheus.GaugeValue, float64(s.BytesUsed))
	ch <- prometheus.MustNewConstMetric(c.descUptime, prometheus.GaugeValue, s.Uptime.Seconds())
}

var _ prometheus.Collector = (*Collector)(nil)
