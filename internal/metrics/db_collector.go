package metrics

import "github.com/prometheus/client_golang/prometheus"

// PoolStats is a snapshot of the database pool, decoupled from pgxpool.
type PoolStats struct {
	Total    int32
	Idle     int32
	Acquired int32
	Max      int32
	// EmptyAcquires counts acquires that had to wait for a free connection.
	EmptyAcquires int64
}

// DBPoolStatFunc reads the current pool statistics.
type DBPoolStatFunc func() PoolStats

type poolGauge struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(PoolStats) float64
}

// dbPoolCollector reads the pool once per scrape and reports every gauge
// from the same snapshot.
type dbPoolCollector struct {
	stats  DBPoolStatFunc
	gauges []poolGauge
}

// NewDBPoolCollector creates a collector exposing the pool statistics.
func NewDBPoolCollector(stats DBPoolStatFunc) prometheus.Collector {
	g := func(name, help string, vt prometheus.ValueType, v func(PoolStats) float64) poolGauge {
		return poolGauge{desc: prometheus.NewDesc(name, help, nil, nil), valueType: vt, value: v}
	}
	return &dbPoolCollector{
		stats: stats,
		gauges: []poolGauge{
			g("teamspace_db_pool_total_conns", "Connections currently open in the pool.", prometheus.GaugeValue,
				func(s PoolStats) float64 { return float64(s.Total) }),
			g("teamspace_db_pool_idle_conns", "Open connections not in use.", prometheus.GaugeValue,
				func(s PoolStats) float64 { return float64(s.Idle) }),
			g("teamspace_db_pool_acquired_conns", "Connections checked out by requests and vote transactions.", prometheus.GaugeValue,
				func(s PoolStats) float64 { return float64(s.Acquired) }),
			g("teamspace_db_pool_max_conns", "Configured pool size.", prometheus.GaugeValue,
				func(s PoolStats) float64 { return float64(s.Max) }),
			g("teamspace_db_pool_empty_acquires_total", "Acquires that waited because the pool was exhausted.", prometheus.CounterValue,
				func(s PoolStats) float64 { return float64(s.EmptyAcquires) }),
		},
	}
}

func (c *dbPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
}

func (c *dbPoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	for _, g := range c.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, g.valueType, g.value(s))
	}
}
