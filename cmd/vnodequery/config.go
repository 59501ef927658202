// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/sneller-labs/vnodeql"
	"github.com/sneller-labs/vnodeql/agg"
	"github.com/sneller-labs/vnodeql/block"
	"github.com/sneller-labs/vnodeql/interp"
	"github.com/sneller-labs/vnodeql/order"
)

// fieldSpec is one column of a querySpec's table schema, in the
// human-editable YAML form; each type name maps onto one fixed-width
// block.Type (block.TypeBinary has no name here and is not accepted).
type fieldSpec struct {
	ColID int    `json:"colId"`
	Type  string `json:"type"`
}

// aggSpec names one requested output aggregate in YAML form.
type aggSpec struct {
	ColID int     `json:"colId"`
	Kind  string  `json:"kind"`
	K     int     `json:"k,omitempty"`
	Pct   float64 `json:"percentile,omitempty"`
}

// querySpec is the on-disk YAML shape of a query descriptor, the
// config layer this command reads with sigs.k8s.io/yaml before
// translating it into a vnodeql.QueryConfig.
type querySpec struct {
	DataRoot string      `json:"dataRoot"`
	VID      int32       `json:"vid"`
	TableSid int         `json:"tableSid"`
	UID      uint64      `json:"uid"`
	MaxSess  int         `json:"maxSessions"`
	Fields   []fieldSpec `json:"fields"`

	SKey int64  `json:"skey"`
	EKey int64  `json:"ekey"`
	Dir  string `json:"dir"` // "asc" or "desc"

	Aggs       []aggSpec `json:"aggs"`
	GroupByCol int       `json:"groupByCol"`
	HasGroupBy bool      `json:"hasGroupBy"`

	Interval int64 `json:"interval"`
	Slide    int64 `json:"slide"`
	Epoch    int64 `json:"epoch"`

	Limit  int `json:"limit"`
	Offset int `json:"offset"`

	Interp    string  `json:"interp"` // "none","prev","next","linear","setValue"
	FillValue float64 `json:"fillValue"`
}

func loadQuerySpec(path string) (*querySpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading query spec: %w", err)
	}
	var spec querySpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parsing query spec %s: %w", path, err)
	}
	return &spec, nil
}

func parseBlockType(s string) (block.Type, error) {
	switch s {
	case "bool":
		return block.TypeBool, nil
	case "int8":
		return block.TypeInt8, nil
	case "int16":
		return block.TypeInt16, nil
	case "int32":
		return block.TypeInt32, nil
	case "int64":
		return block.TypeInt64, nil
	case "float32":
		return block.TypeFloat32, nil
	case "float64":
		return block.TypeFloat64, nil
	default:
		return 0, fmt.Errorf("unknown field type %q", s)
	}
}

func parseDirection(s string) (order.Direction, error) {
	switch s {
	case "", "asc", "ascending":
		return order.Ascending, nil
	case "desc", "descending":
		return order.Descending, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

func parseAggKind(s string) (agg.Kind, error) {
	switch s {
	case "count":
		return agg.Count, nil
	case "sum":
		return agg.Sum, nil
	case "avg":
		return agg.Avg, nil
	case "min":
		return agg.Min, nil
	case "max":
		return agg.Max, nil
	case "spread":
		return agg.Spread, nil
	case "stddev":
		return agg.StdDev, nil
	case "first":
		return agg.First, nil
	case "last":
		return agg.Last, nil
	case "top":
		return agg.Top, nil
	case "bottom":
		return agg.Bottom, nil
	case "percentile":
		return agg.Percentile, nil
	case "twa":
		return agg.TWA, nil
	case "diff":
		return agg.Diff, nil
	case "rate":
		return agg.Rate, nil
	case "irate":
		return agg.IRate, nil
	default:
		return 0, fmt.Errorf("unknown aggregate kind %q", s)
	}
}

func parseInterpMode(s string) (interp.Mode, error) {
	switch s {
	case "", "none":
		return interp.ModeNone, nil
	case "prev":
		return interp.ModePrev, nil
	case "next":
		return interp.ModeNext, nil
	case "linear":
		return interp.ModeLinear, nil
	case "setValue":
		return interp.ModeValue, nil
	default:
		return 0, fmt.Errorf("unknown interpolation mode %q", s)
	}
}

// toQueryConfig translates the YAML-friendly querySpec into the
// vnodeql.QueryConfig Prepare consumes.
func toQueryConfig(spec *querySpec) (vnodeql.QueryConfig, error) {
	var cfg vnodeql.QueryConfig
	cfg.DataRoot = spec.DataRoot
	cfg.VID = spec.VID
	cfg.TableSid = spec.TableSid
	cfg.UID = spec.UID
	cfg.MaxSess = spec.MaxSess
	if cfg.MaxSess == 0 {
		cfg.MaxSess = 4
	}

	for _, f := range spec.Fields {
		t, err := parseBlockType(f.Type)
		if err != nil {
			return cfg, err
		}
		cfg.Fields = append(cfg.Fields, block.Field{ColID: uint16(f.ColID), Type: t})
	}

	cfg.SKey, cfg.EKey = spec.SKey, spec.EKey
	dir, err := parseDirection(spec.Dir)
	if err != nil {
		return cfg, err
	}
	cfg.Dir = dir

	for _, a := range spec.Aggs {
		kind, err := parseAggKind(a.Kind)
		if err != nil {
			return cfg, err
		}
		cfg.Aggs = append(cfg.Aggs, vnodeql.AggSpec{
			ColID: uint16(a.ColID), Kind: kind,
			Args: agg.Args{K: a.K, Percentile: a.Pct},
		})
	}
	cfg.GroupByCol = uint16(spec.GroupByCol)
	cfg.HasGroupBy = spec.HasGroupBy

	cfg.Interval, cfg.Slide, cfg.Epoch = spec.Interval, spec.Slide, spec.Epoch
	cfg.Limit = order.Limit{Limit: spec.Limit, Offset: spec.Offset}

	mode, err := parseInterpMode(spec.Interp)
	if err != nil {
		return cfg, err
	}
	cfg.InterpMode = mode
	cfg.FillValue = spec.FillValue
	return cfg, nil
}
