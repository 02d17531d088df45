package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/jmoiron/sqlx"
)

// UpsertFacility inserts or replaces a facility row.
func (s *Store) UpsertFacility(f *models.Facility) error {
	_, err := s.db.NamedExec(`
		INSERT OR REPLACE INTO facilities (
			facility_id, name, type, city, state, country, lat, lon, criticality_score
		) VALUES (
			:facility_id, :name, :type, :city, :state, :country, :lat, :lon, :criticality_score
		)`, f)
	if err != nil {
		return fmt.Errorf("upsert facility: %w", err)
	}
	return nil
}

// UpsertLane inserts or replaces a lane row.
func (s *Store) UpsertLane(l *models.Lane) error {
	_, err := s.db.NamedExec(`
		INSERT OR REPLACE INTO lanes (
			lane_id, origin_facility_id, dest_facility_id, mode, carrier_name,
			avg_transit_days, volume_score
		) VALUES (
			:lane_id, :origin_facility_id, :dest_facility_id, :mode, :carrier_name,
			:avg_transit_days, :volume_score
		)`, l)
	if err != nil {
		return fmt.Errorf("upsert lane: %w", err)
	}
	return nil
}

// UpsertShipment inserts or replaces a shipment row.
func (s *Store) UpsertShipment(sh *models.Shipment) error {
	_, err := s.db.NamedExec(`
		INSERT OR REPLACE INTO shipments (
			shipment_id, order_id, lane_id, sku_id, qty, status,
			ship_date, eta_date, customer_name, priority_flag
		) VALUES (
			:shipment_id, :order_id, :lane_id, :sku_id, :qty, :status,
			:ship_date, :eta_date, :customer_name, :priority_flag
		)`, sh)
	if err != nil {
		return fmt.Errorf("upsert shipment: %w", err)
	}
	return nil
}

// AllFacilities returns every facility ordered by id.
func (s *Store) AllFacilities() ([]models.Facility, error) {
	var out []models.Facility
	if err := s.db.Select(&out, `SELECT * FROM facilities ORDER BY facility_id`); err != nil {
		return nil, fmt.Errorf("query facilities: %w", err)
	}
	return out, nil
}

// FacilitiesByIDs returns the facilities with the given ids.
func (s *Store) FacilitiesByIDs(ids []string) ([]models.Facility, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM facilities WHERE facility_id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build facilities query: %w", err)
	}
	var out []models.Facility
	if err := s.db.Select(&out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query facilities: %w", err)
	}
	return out, nil
}

// LanesByIDs returns the lanes with the given ids.
func (s *Store) LanesByIDs(ids []string) ([]models.Lane, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM lanes WHERE lane_id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build lanes query: %w", err)
	}
	var out []models.Lane
	if err := s.db.Select(&out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query lanes: %w", err)
	}
	return out, nil
}

// ShipmentsByIDs returns the shipments with the given ids.
func (s *Store) ShipmentsByIDs(ids []string) ([]models.Shipment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM shipments WHERE shipment_id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build shipments query: %w", err)
	}
	var out []models.Shipment
	if err := s.db.Select(&out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query shipments: %w", err)
	}
	return out, nil
}

// LanesTouching returns lanes whose origin or destination is one of the
// given facilities.
func (s *Store) LanesTouching(facilityIDs []string) ([]models.Lane, error) {
	if len(facilityIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT * FROM lanes
		WHERE origin_facility_id IN (?) OR dest_facility_id IN (?)
		ORDER BY lane_id`, facilityIDs, facilityIDs)
	if err != nil {
		return nil, fmt.Errorf("build lanes query: %w", err)
	}
	var out []models.Lane
	if err := s.db.Select(&out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query lanes: %w", err)
	}
	return out, nil
}

// ShipmentsByLanes returns every shipment moving over the given lanes.
func (s *Store) ShipmentsByLanes(laneIDs []string) ([]models.Shipment, error) {
	if len(laneIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM shipments WHERE lane_id IN (?)`, laneIDs)
	if err != nil {
		return nil, fmt.Errorf("build shipments query: %w", err)
	}
	var out []models.Shipment
	if err := s.db.Select(&out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query shipments: %w", err)
	}
	return out, nil
}

// NetworkCounts reports rows loaded per table.
type NetworkCounts struct {
	Facilities int `json:"facilities"`
	Lanes      int `json:"lanes"`
	Shipments  int `json:"shipments"`
}

// LoadNetworkCSVs loads facilities, lanes, and shipments fixtures. A
// missing file logs a warning and contributes zero rows.
func (s *Store) LoadNetworkCSVs(facilitiesPath, lanesPath, shipmentsPath string) (*NetworkCounts, error) {
	counts := &NetworkCounts{}
	var err error
	if counts.Facilities, err = s.loadFacilitiesCSV(facilitiesPath); err != nil {
		return nil, err
	}
	if counts.Lanes, err = s.loadLanesCSV(lanesPath); err != nil {
		return nil, err
	}
	if counts.Shipments, err = s.loadShipmentsCSV(shipmentsPath); err != nil {
		return nil, err
	}
	return counts, nil
}

func openCSV(path string) (*csv.Reader, map[string]int, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	return r, cols, f, nil
}

func csvField(record []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func csvFloat(record []string, cols map[string]int, name string) *float64 {
	v := csvField(record, cols, name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &n
}

func floatOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func (s *Store) loadFacilitiesCSV(path string) (int, error) {
	r, cols, f, err := openCSV(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.WithField("path", path).Warn("csv file not found")
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	count := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read facilities csv: %w", err)
		}
		fac := &models.Facility{
			FacilityID:       csvField(record, cols, "facility_id"),
			Name:             csvField(record, cols, "name"),
			Type:             csvField(record, cols, "type"),
			City:             models.StrPtr(csvField(record, cols, "city")),
			State:            models.StrPtr(csvField(record, cols, "state")),
			Country:          models.StrPtr(csvField(record, cols, "country")),
			Lat:              csvFloat(record, cols, "lat"),
			Lon:              csvFloat(record, cols, "lon"),
			CriticalityScore: floatOrZero(csvFloat(record, cols, "criticality_score")),
		}
		if err := s.UpsertFacility(fac); err != nil {
			return count, err
		}
		count++
	}
	s.logger.WithFields(map[string]any{"path": path, "count": count}).Info("loaded facilities")
	return count, nil
}

func (s *Store) loadLanesCSV(path string) (int, error) {
	r, cols, f, err := openCSV(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.WithField("path", path).Warn("csv file not found")
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	count := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read lanes csv: %w", err)
		}
		lane := &models.Lane{
			LaneID:           csvField(record, cols, "lane_id"),
			OriginFacilityID: csvField(record, cols, "origin_facility_id"),
			DestFacilityID:   csvField(record, cols, "dest_facility_id"),
			Mode:             csvField(record, cols, "mode"),
			CarrierName:      csvField(record, cols, "carrier_name"),
			AvgTransitDays:   floatOrZero(csvFloat(record, cols, "avg_transit_days")),
			VolumeScore:      floatOrZero(csvFloat(record, cols, "volume_score")),
		}
		if err := s.UpsertLane(lane); err != nil {
			return count, err
		}
		count++
	}
	s.logger.WithFields(map[string]any{"path": path, "count": count}).Info("loaded lanes")
	return count, nil
}

func (s *Store) loadShipmentsCSV(path string) (int, error) {
	r, cols, f, err := openCSV(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.WithField("path", path).Warn("csv file not found")
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	count := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read shipments csv: %w", err)
		}
		sh := &models.Shipment{
			ShipmentID:   csvField(record, cols, "shipment_id"),
			OrderID:      csvField(record, cols, "order_id"),
			LaneID:       csvField(record, cols, "lane_id"),
			SkuID:        csvField(record, cols, "sku_id"),
			Qty:          int(floatOrZero(csvFloat(record, cols, "qty"))),
			Status:       csvField(record, cols, "status"),
			ShipDate:     csvField(record, cols, "ship_date"),
			EtaDate:      csvField(record, cols, "eta_date"),
			CustomerName: csvField(record, cols, "customer_name"),
			PriorityFlag: int(floatOrZero(csvFloat(record, cols, "priority_flag"))),
		}
		if err := s.UpsertShipment(sh); err != nil {
			return count, err
		}
		count++
	}
	s.logger.WithFields(map[string]any{"path": path, "count": count}).Info("loaded shipments")
	return count, nil
}
