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

// Command vnodequery runs a single query against one vnode's on-disk
// day-files, printing the resulting rows as JSON lines. It exists to
// demonstrate the vnodeql package's prepare/fetch protocol end to end
// against real files rather than in-memory fixtures.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/sneller-labs/vnodeql"
)

type stdLogger struct{}

func (stdLogger) Printf(format string, args ...interface{}) {
	log.Printf(format, args...)
}

func main() {
	configPath := flag.String("config", "", "path to a query spec YAML file")
	sample := flag.Bool("sample", false, "write a demo day-file (scenario S1) into the spec's dataRoot before running the query")
	fetchSize := flag.Int("fetch", 1000, "rows to request per Fetch call")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: vnodequery -config query.yaml [-sample] [-fetch N]")
		os.Exit(1)
	}

	if err := run(*configPath, *sample, *fetchSize); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string, sample bool, fetchSize int) error {
	spec, err := loadQuerySpec(configPath)
	if err != nil {
		return err
	}
	cfg, err := toQueryConfig(spec)
	if err != nil {
		return err
	}

	if sample {
		if err := buildSampleDayFile(cfg.DataRoot, cfg.VID, 0, cfg.TableSid, cfg.UID, cfg.MaxSess, sampleScenarioS1()); err != nil {
			return fmt.Errorf("building sample day-file: %w", err)
		}
	}

	reqID := uuid.New()
	logger := stdLogger{}
	logger.Printf("vnodequery: request %s starting over vnode %d table %d", reqID, cfg.VID, cfg.TableSid)

	q := vnodeql.New(logger)
	if perr := q.Prepare(cfg); perr != nil {
		return fmt.Errorf("request %s: prepare failed: %w", reqID, perr)
	}

	enc := json.NewEncoder(os.Stdout)
	for {
		rows, ferr := q.Fetch(fetchSize)
		if ferr != nil {
			return fmt.Errorf("request %s: fetch failed: %w", reqID, ferr)
		}
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		if q.Over()&vnodeql.Completed != 0 {
			break
		}
		if len(rows) == 0 {
			break
		}
	}
	logger.Printf("vnodequery: request %s done, over=%v", reqID, q.Over())
	return nil
}
