package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paulmach/orb/geojson"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/h3-frames/internal/frame"
	"github.com/mohammed-shakir/h3-frames/internal/geomwkb"
	"github.com/mohammed-shakir/h3-frames/internal/hexgrid"
	"github.com/mohammed-shakir/h3-frames/internal/logger"
	"github.com/mohammed-shakir/h3-frames/pkg/frameconv"
)

const maxBodyBytes = 32 << 20

type cellRow struct {
	FID        int64           `json:"fid"`
	Cell       *string         `json:"cell"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

type cellsResponse struct {
	Rows []cellRow `json:"rows"`
}

// handleGeometryToCells accepts a GeoJSON FeatureCollection and returns one
// row per (feature, cell) pair. Features whose geometry covers no cell come
// back as a single row with a null cell.
func (s *Server) handleGeometryToCells(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logger.FromContext(r.Context(), s.log)

	res := s.cfg.Resolution
	if v := r.URL.Query().Get("resolution"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "resolution must be an integer", http.StatusBadRequest)
			return
		}
		res = n
	}
	modeStr := r.URL.Query().Get("containment")
	if modeStr == "" {
		modeStr = s.cfg.Containment
	}
	mode, err := hexgrid.ParseContainment(modeStr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	compact := s.cfg.Compact
	if v := r.URL.Query().Get("compact"); v != "" {
		compact = v == "true" || v == "1"
	}
	cellColumn := r.URL.Query().Get("cell_column")
	if cellColumn == "" {
		cellColumn = s.cfg.CellColumn
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		http.Error(w, "parse geojson: "+err.Error(), http.StatusBadRequest)
		return
	}

	mem := memory.DefaultAllocator
	rec, err := featuresToRecord(mem, fc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer rec.Release()

	out, err := frameconv.GeometryToCells(mem, rec, frameconv.Options{
		Resolution:  res,
		Containment: mode,
		Compact:     compact,
		CellColumn:  cellColumn,
		Workers:     s.cfg.Workers,
		Rasterizer:  s.raster,
	})
	if s.prov != nil {
		rows := 0
		if out != nil {
			rows = int(out.NumRows())
		}
		s.prov.ObserveConversion("geometry_to_cells", err, rows, time.Since(start))
	}
	s.reportCacheStats()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, geomwkb.ErrInvalidWKB) ||
			errors.Is(err, hexgrid.ErrUnknownContainment) ||
			errors.Is(err, hexgrid.ErrInvalidResolution) {
			status = http.StatusBadRequest
		}
		log.Error().Err(err).Msg("geometry-to-cells failed")
		http.Error(w, err.Error(), status)
		return
	}
	defer out.Release()

	resp, err := recordToCellRows(out, cellColumn)
	if err != nil {
		log.Error().Err(err).Msg("encode response failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Info().
		Int("features", len(fc.Features)).
		Int("rows", len(resp.Rows)).
		Int("res", res).
		Str("containment", mode.String()).
		Dur("dur", time.Since(start)).
		Msg("geometry-to-cells")
	writeJSON(w, resp)
}

type geometryRequest struct {
	Rows []struct {
		Cell       string          `json:"cell"`
		Properties json.RawMessage `json:"properties"`
	} `json:"rows"`
}

// handleCellsToGeometry accepts cell rows and returns a GeoJSON
// FeatureCollection with the boundary polygon of each cell. Unparseable or
// invalid cells yield features with null geometry.
func (s *Server) handleCellsToGeometry(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logger.FromContext(r.Context(), s.log)

	req, ok := s.decodeCellRows(w, r)
	if !ok {
		return
	}

	mem := memory.DefaultAllocator
	rec := cellRowsToRecord(mem, req)
	defer rec.Release()

	out, err := frameconv.CellsToGeometry(mem, rec, s.cfg.CellColumn)
	if s.prov != nil {
		rows := 0
		if out != nil {
			rows = int(out.NumRows())
		}
		s.prov.ObserveConversion("cells_to_geometry", err, rows, time.Since(start))
	}
	if err != nil {
		log.Error().Err(err).Msg("cells-to-geometry failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer out.Release()

	fc, err := recordToFeatures(out, s.cfg.CellColumn)
	if err != nil {
		log.Error().Err(err).Msg("encode response failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Info().
		Int("rows", len(req.Rows)).
		Dur("dur", time.Since(start)).
		Msg("cells-to-geometry")
	writeJSON(w, fc)
}

func (s *Server) decodeCellRows(w http.ResponseWriter, r *http.Request) (geometryRequest, bool) {
	var req geometryRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "parse request: "+err.Error(), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// handleGridDisk expands every cell row into the cells within grid distance
// k, one row per neighbor. Null or unparseable cells survive as null rows.
func (s *Server) handleGridDisk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logger.FromContext(r.Context(), s.log)

	k := 1
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "k must be an integer", http.StatusBadRequest)
			return
		}
		k = n
	}
	req, ok := s.decodeCellRows(w, r)
	if !ok {
		return
	}

	mem := memory.DefaultAllocator
	rec := cellRowsToRecord(mem, req)
	defer rec.Release()

	out, err := frameconv.GridDisk(mem, rec, s.cfg.CellColumn, k)
	if s.prov != nil {
		rows := 0
		if out != nil {
			rows = int(out.NumRows())
		}
		s.prov.ObserveConversion("grid_disk", err, rows, time.Since(start))
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, hexgrid.ErrInvalidK) {
			status = http.StatusBadRequest
		}
		log.Error().Err(err).Msg("grid-disk failed")
		http.Error(w, err.Error(), status)
		return
	}
	defer out.Release()

	resp, err := recordToCellRows(out, s.cfg.CellColumn)
	if err != nil {
		log.Error().Err(err).Msg("encode response failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Info().
		Int("rows", len(req.Rows)).
		Int("out", len(resp.Rows)).
		Int("k", k).
		Dur("dur", time.Since(start)).
		Msg("grid-disk")
	writeJSON(w, resp)
}

// handleChangeResolution moves every cell row to the target resolution,
// exploding finer targets into one row per descendant.
func (s *Server) handleChangeResolution(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logger.FromContext(r.Context(), s.log)

	res := s.cfg.Resolution
	if v := r.URL.Query().Get("resolution"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "resolution must be an integer", http.StatusBadRequest)
			return
		}
		res = n
	}
	req, ok := s.decodeCellRows(w, r)
	if !ok {
		return
	}

	mem := memory.DefaultAllocator
	rec := cellRowsToRecord(mem, req)
	defer rec.Release()

	out, err := frameconv.ChangeResolution(mem, rec, s.cfg.CellColumn, res)
	if s.prov != nil {
		rows := 0
		if out != nil {
			rows = int(out.NumRows())
		}
		s.prov.ObserveConversion("change_resolution", err, rows, time.Since(start))
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, hexgrid.ErrInvalidResolution) {
			status = http.StatusBadRequest
		}
		log.Error().Err(err).Msg("change-resolution failed")
		http.Error(w, err.Error(), status)
		return
	}
	defer out.Release()

	resp, err := recordToCellRows(out, s.cfg.CellColumn)
	if err != nil {
		log.Error().Err(err).Msg("encode response failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Info().
		Int("rows", len(req.Rows)).
		Int("out", len(resp.Rows)).
		Int("res", res).
		Dur("dur", time.Since(start)).
		Msg("change-resolution")
	writeJSON(w, resp)
}

// featuresToRecord flattens a feature collection into a three column record:
// fid, JSON-encoded properties and WKB geometry.
func featuresToRecord(mem memory.Allocator, fc *geojson.FeatureCollection) (arrow.Record, error) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "fid", Type: arrow.PrimitiveTypes.Int64},
		{Name: "properties", Type: arrow.BinaryTypes.String, Nullable: true},
		frameconv.GeometryField(frameconv.DefaultGeometryColumn),
	}, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	fids := b.Field(0).(*array.Int64Builder)
	props := b.Field(1).(*array.StringBuilder)
	geoms := b.Field(2).(*array.BinaryBuilder)

	for i, f := range fc.Features {
		fids.Append(int64(i))
		if len(f.Properties) == 0 {
			props.AppendNull()
		} else {
			pj, err := json.Marshal(f.Properties)
			if err != nil {
				return nil, err
			}
			props.Append(string(pj))
		}
		if f.Geometry == nil {
			geoms.AppendNull()
			continue
		}
		wkbBytes, err := geomwkb.Encode(f.Geometry)
		if err != nil {
			return nil, err
		}
		geoms.Append(wkbBytes)
	}
	return b.NewRecord(), nil
}

func recordToCellRows(rec arrow.Record, cellColumn string) (*cellsResponse, error) {
	ci, err := frame.ColumnIndex(rec, cellColumn)
	if err != nil {
		return nil, err
	}
	fi, err := frame.ColumnIndex(rec, "fid")
	if err != nil {
		return nil, err
	}
	pi, err := frame.ColumnIndex(rec, "properties")
	if err != nil {
		return nil, err
	}
	cells := rec.Column(ci).(*array.Uint64)
	fids := rec.Column(fi).(*array.Int64)
	props := rec.Column(pi).(*array.String)

	resp := &cellsResponse{Rows: make([]cellRow, 0, rec.NumRows())}
	for row := 0; row < int(rec.NumRows()); row++ {
		cr := cellRow{FID: fids.Value(row)}
		if !cells.IsNull(row) {
			s := h3.Cell(cells.Value(row)).String()
			cr.Cell = &s
		}
		if !props.IsNull(row) {
			cr.Properties = json.RawMessage(props.Value(row))
		}
		resp.Rows = append(resp.Rows, cr)
	}
	return resp, nil
}

func cellRowsToRecord(mem memory.Allocator, req geometryRequest) arrow.Record {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "fid", Type: arrow.PrimitiveTypes.Int64},
		{Name: frameconv.DefaultCellColumn, Type: arrow.PrimitiveTypes.Uint64, Nullable: true},
		{Name: "properties", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	fids := b.Field(0).(*array.Int64Builder)
	cells := b.Field(1).(*array.Uint64Builder)
	props := b.Field(2).(*array.StringBuilder)

	for i, row := range req.Rows {
		fids.Append(int64(i))
		var c h3.Cell
		if err := c.UnmarshalText([]byte(row.Cell)); err != nil {
			cells.AppendNull()
		} else {
			cells.Append(uint64(c))
		}
		if len(row.Properties) == 0 {
			props.AppendNull()
		} else {
			props.Append(string(row.Properties))
		}
	}
	return b.NewRecord()
}

func recordToFeatures(rec arrow.Record, cellColumn string) (*geojson.FeatureCollection, error) {
	ci, err := frame.ColumnIndex(rec, cellColumn)
	if err != nil {
		return nil, err
	}
	gi, err := frame.ColumnIndex(rec, frameconv.DefaultGeometryColumn)
	if err != nil {
		return nil, err
	}
	pi, err := frame.ColumnIndex(rec, "properties")
	if err != nil {
		return nil, err
	}
	cells := rec.Column(ci).(*array.Uint64)
	geoms := rec.Column(gi).(*array.Binary)
	props := rec.Column(pi).(*array.String)

	fc := geojson.NewFeatureCollection()
	for row := 0; row < int(rec.NumRows()); row++ {
		f := &geojson.Feature{Type: "Feature", Properties: geojson.Properties{}}
		if !geoms.IsNull(row) {
			g, err := geomwkb.Decode(geoms.Value(row))
			if err != nil {
				return nil, err
			}
			f.Geometry = g
		}
		if !props.IsNull(row) {
			var p geojson.Properties
			if err := json.Unmarshal([]byte(props.Value(row)), &p); err == nil {
				f.Properties = p
			}
		}
		if !cells.IsNull(row) {
			f.Properties["cell"] = h3.Cell(cells.Value(row)).String()
		}
		fc.Append(f)
	}
	return fc, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
