// Package sink ships finished flow tables to ClickHouse for ad hoc querying.
// The sink is optional: it is config-gated and a write failure never fails
// the pipeline run.
package sink

import (
	"context"
	"fmt"

	"pcapflow/internal/config"
	"pcapflow/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS flow_records (
    SourceFile  String,
    SrcAddr     String,
    DstAddr     String,
    SrcPort     UInt16,
    DstPort     UInt16,
    Protocol    UInt8,
    PacketCount UInt64,
    ByteCount   UInt64,
    FirstSeen   DateTime64(9),
    LastSeen    DateTime64(9)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(FirstSeen)
ORDER BY (SourceFile, FirstSeen);
`

// ClickHouseSink batch-inserts flow rows into the flow_records table.
type ClickHouseSink struct {
	conn driver.Conn
}

// NewClickHouseSink connects and ensures the table exists.
func NewClickHouseSink(ctx context.Context, cfg config.ClickHouseConfig) (*ClickHouseSink, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &ClickHouseSink{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// WriteFlows appends one file's flow rows as a single batch.
func (s *ClickHouseSink) WriteFlows(ctx context.Context, sourceFile string, rows []*model.FlowRecord) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO flow_records")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, row := range rows {
		err = batch.Append(
			sourceFile,
			row.SrcAddr(),
			row.DstAddr(),
			row.Tuple.SrcPort,
			row.Tuple.DstPort,
			row.Tuple.Protocol,
			row.PacketCount,
			row.ByteCount,
			row.FirstSeen,
			row.LastSeen,
		)
		if err != nil {
			return fmt.Errorf("failed to append flow to batch: %w", err)
		}
	}
	return batch.Send()
}

// Close releases the connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
