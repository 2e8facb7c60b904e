// Package navigator walks the department → municipality → zone → center →
// station hierarchy depth-first and enqueues one work item per station that
// has not been persisted yet.
package navigator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
	"github.com/JakeFAU/cne-results-crawler/internal/metrics"
)

// Hierarchy level names used for metrics and logs.
const (
	LevelMunicipalities = "municipalities"
	LevelZones          = "zones"
	LevelCenters        = "centers"
	LevelStations       = "stations"
)

// Department is one entry of the fixed top-level enumeration.
type Department struct {
	ID   string
	Name string
}

// Config describes the hierarchy endpoints and labels.
type Config struct {
	BaseAPI          string
	Level            string
	Departments      []Department
	ZoneLabels       map[string]string
	UnknownZoneLabel string
}

// Stats counts the nodes visited during one walk.
type Stats struct {
	Departments    int `json:"departments"`
	Municipalities int `json:"municipalities"`
	Zones          int `json:"zones"`
	Centers        int `json:"centers"`
	Stations       int `json:"stations"`
	Skipped        int `json:"skipped"`
	Enqueued       int `json:"enqueued"`
}

// Navigator discovers stations and feeds them to a queue.
type Navigator struct {
	cfg      Config
	fetcher  crawler.NavigationFetcher
	store    crawler.ExistenceChecker
	queue    crawler.Enqueuer
	counters *crawler.RunCounters
	logger   *zap.Logger
}

// New wires a Navigator. counters may be nil.
func New(
	cfg Config,
	fetcher crawler.NavigationFetcher,
	store crawler.ExistenceChecker,
	queue crawler.Enqueuer,
	counters *crawler.RunCounters,
	logger *zap.Logger,
) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counters == nil {
		counters = &crawler.RunCounters{}
	}
	if cfg.UnknownZoneLabel == "" {
		cfg.UnknownZoneLabel = "Unknown"
	}
	if cfg.Level == "" {
		cfg.Level = "01"
	}
	cfg.BaseAPI = strings.TrimRight(cfg.BaseAPI, "/")
	return &Navigator{cfg: cfg, fetcher: fetcher, store: store, queue: queue, counters: counters, logger: logger}
}

// Walk traverses every configured department. Unreachable branches are
// skipped; Walk only fails on cancellation or a closed queue.
func (n *Navigator) Walk(ctx context.Context) (Stats, error) {
	var stats Stats
	for _, dept := range n.cfg.Departments {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("walk hierarchy: %w", err)
		}
		stats.Departments++
		if err := n.walkDepartment(ctx, dept, &stats); err != nil {
			return stats, err
		}
	}
	n.logger.Info("Hierarchy traversed",
		zap.Int("departments", stats.Departments),
		zap.Int("municipalities", stats.Municipalities),
		zap.Int("centers", stats.Centers),
		zap.Int("stations", stats.Stations),
		zap.Int("enqueued", stats.Enqueued),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

func (n *Navigator) walkDepartment(ctx context.Context, dept Department, stats *Stats) error {
	url := n.url(dept.ID, "municipios")
	munis := n.fetcher.FetchNavigation(ctx, url, LevelMunicipalities, "Municipalities of "+dept.Name)
	n.logger.Info("Processing department", zap.String("department", dept.Name), zap.Int("municipalities", len(munis)))

	for _, raw := range munis {
		fields := crawler.Object(raw)
		path := crawler.GeoPath{
			DepartmentCode:   dept.ID,
			DepartmentName:   dept.Name,
			MunicipalityCode: fields.Text("id_municipio", ""),
			MunicipalityName: fields.Text("municipio", ""),
		}
		if path.MunicipalityCode == "" {
			continue
		}
		stats.Municipalities++
		if err := n.walkMunicipality(ctx, path, stats); err != nil {
			return err
		}
	}
	return nil
}

func (n *Navigator) walkMunicipality(ctx context.Context, parent crawler.GeoPath, stats *Stats) error {
	url := n.url(parent.DepartmentCode, parent.MunicipalityCode, "00", "zonas")
	zones := n.fetcher.FetchNavigation(ctx, url, LevelZones, "Zones of "+parent.MunicipalityName)
	n.logger.Info("Processing municipality",
		zap.String("department", parent.DepartmentName),
		zap.String("municipality", parent.MunicipalityName),
	)

	for _, raw := range zones {
		fields := crawler.Object(raw)
		code := ""
		if v, ok := fields.First("cod_zona", "id_zona"); ok {
			code, _ = crawler.Text(v)
		}
		if code == "" {
			continue
		}
		path := parent
		path.ZoneCode = code
		path.ZoneName = fields.Text("zona", "")
		if path.ZoneName == "" {
			path.ZoneName = n.zoneLabel(code)
		}
		stats.Zones++
		if err := n.walkZone(ctx, path, stats); err != nil {
			return err
		}
	}
	return nil
}

func (n *Navigator) walkZone(ctx context.Context, parent crawler.GeoPath, stats *Stats) error {
	url := n.url(parent.DepartmentCode, parent.MunicipalityCode, parent.ZoneCode, "puestos")
	centers := n.fetcher.FetchNavigation(ctx, url, LevelCenters, "Centers in "+parent.ZoneName)

	for _, raw := range centers {
		fields := crawler.Object(raw)
		path := parent
		path.CenterCode = fields.Text("id_puesto", "")
		path.CenterName = fields.Text("puesto", "")
		if path.CenterCode == "" {
			continue
		}
		stats.Centers++
		if err := n.walkCenter(ctx, path, stats); err != nil {
			return err
		}
	}
	return nil
}

func (n *Navigator) walkCenter(ctx context.Context, path crawler.GeoPath, stats *Stats) error {
	url := n.url(path.DepartmentCode, path.MunicipalityCode, path.ZoneCode, path.CenterCode, "mesas")
	stations := n.fetcher.FetchNavigation(ctx, url, LevelStations, "Polling Stations in "+path.CenterName)

	for _, raw := range stations {
		if err := n.visitStation(ctx, raw, path, stats); err != nil {
			return err
		}
	}
	return nil
}

// visitStation applies the existence pre-filter and enqueues the station.
func (n *Navigator) visitStation(ctx context.Context, raw json.RawMessage, path crawler.GeoPath, stats *Stats) error {
	fields := crawler.Object(raw)
	var id int64
	if v, ok := fields.First("numero", "jrv"); ok {
		id, _ = crawler.Int(v)
	}
	if id <= 0 {
		return nil
	}
	stats.Stations++
	n.counters.Discovered.Add(1)

	exists, err := n.store.Exists(ctx, id)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("walk hierarchy: %w", ctxErr)
		}
		n.logger.Warn("Existence check failed; enqueueing anyway", zap.Int64("id_jrv", id), zap.Error(err))
	}
	if exists {
		stats.Skipped++
		n.counters.Skipped.Add(1)
		metrics.ObserveStation("skipped")
		n.logger.Debug("Station already persisted", zap.Int64("id_jrv", id))
		return nil
	}

	item := crawler.WorkItem{
		StationID:   id,
		DocumentURL: fields.Text("nombre_archivo", ""),
		Raw:         append([]byte(nil), raw...),
		Path:        path,
	}
	if err := n.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("enqueue station %d: %w", id, err)
	}
	stats.Enqueued++
	n.counters.Enqueued.Add(1)
	metrics.ObserveStation("enqueued")
	return nil
}

func (n *Navigator) zoneLabel(code string) string {
	if label, ok := n.cfg.ZoneLabels[code]; ok && label != "" {
		return label
	}
	return n.cfg.UnknownZoneLabel
}

func (n *Navigator) url(parts ...string) string {
	return n.cfg.BaseAPI + "/actas-documentos/" + n.cfg.Level + "/" + strings.Join(parts, "/")
}
