package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/replay"
	"github.com/dd0wney/cluso-subchain/pkg/snapshot"
)

// recordLine is one line of a record file: {"position": 1, "payload": {...}}
type recordLine struct {
	Position  uint64          `json:"position"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// readRecords parses a JSON-lines record file. Blank lines and lines starting with # are
// skipped. Positions must increase by one.
func readRecords(r io.Reader) ([]replay.Record, error) {
	var records []replay.Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}

		var rl recordLine
		if err := json.Unmarshal(text, &rl); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n := len(records); n > 0 && rl.Position != records[n-1].Position+1 {
			return nil, fmt.Errorf("line %d: position %d does not follow %d", line, rl.Position, records[n-1].Position)
		}
		records = append(records, replay.Record{
			Position:  rl.Position,
			Payload:   []byte(rl.Payload),
			Timestamp: rl.Timestamp,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// buildSnapshot replays records up to and including position at through module and encodes
// the resulting state, pinned to the module's digest.
func buildSnapshot(ctx context.Context, moduleSrc []byte, records []replay.Record, at uint64, params map[string]string) ([]byte, error) {
	module, err := replay.CompileModule("module", moduleSrc)
	if err != nil {
		return nil, err
	}

	engine, err := replay.NewEngine(replay.EngineConfig{
		Module: module,
		Params: params,
		Logger: logging.NewNopLogger(),
	})
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	for _, rec := range records {
		if rec.Position > at {
			break
		}
		if err := engine.ApplyRecord(ctx, rec); err != nil {
			return nil, err
		}
	}
	if engine.Position() != at {
		return nil, fmt.Errorf("records end at position %d, before %d", engine.Position(), at)
	}

	return snapshot.Encode(snapshot.Snapshot{
		ABIVersion:   uint32(module.ABIVersion()),
		Position:     engine.Position(),
		ModuleDigest: module.Digest(),
		State:        engine.Store(),
	})
}
